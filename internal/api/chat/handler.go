package chat

import (
	"encoding/json"
	"net/http"
	"time"

	"finchart-app/internal/llm"
	"finchart-app/internal/metrics"
	"finchart-app/pkg/logging"

	"github.com/gin-gonic/gin"
)

const systemPrompt = `You are FinChart's market analysis assistant. You help users explore ` +
	`stocks, ETFs, and crypto through conversation. When a chart would answer the question ` +
	`better than prose, call render_chart; to put several symbols side by side, call ` +
	`compare_symbols. Be concise and concrete. You describe market data and chart patterns; ` +
	`you do not give personalized investment advice.`

// Conversation state lives entirely on the client; every request carries
// the full message history it wants the model to see.
const maxMessages = 50

type incomingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []incomingMessage `json:"messages" binding:"required"`
}

type toolCallDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatResponse struct {
	Message   incomingMessage `json:"message"`
	ToolCalls []toolCallDTO   `json:"toolCalls,omitempty"`
}

// Handler proxies chat requests to the model provider. It sits behind the
// subscription gate; by the time a request lands here the caller has paid.
type Handler struct {
	llm     *llm.Client
	metrics metrics.ChatMetrics
}

func NewHandler(client *llm.Client, m metrics.ChatMetrics) *Handler {
	return &Handler{llm: client, metrics: m}
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid messages"})
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > maxMessages {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Conversation must contain between 1 and 50 messages"})
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message roles must be user or assistant"})
			return
		}
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	completion, err := h.llm.ChatCompletion(c.Request.Context(), messages, Tools())
	h.metrics.ObserveCompletionDuration(time.Since(start).Seconds())
	if err != nil {
		h.metrics.IncRequest("error")
		logging.Errorf("chat completion failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Assistant is unavailable right now"})
		return
	}

	resp := chatResponse{
		Message: incomingMessage{
			Role:    completion.Message.Role,
			Content: completion.Message.Content,
		},
	}
	for _, tc := range completion.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args, _ = json.Marshal(tc.Function.Arguments)
		}
		resp.ToolCalls = append(resp.ToolCalls, toolCallDTO{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if len(resp.ToolCalls) > 0 {
		h.metrics.IncRequest("tool_call")
	} else {
		h.metrics.IncRequest("ok")
	}

	c.JSON(http.StatusOK, resp)
}
