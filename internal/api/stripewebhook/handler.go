package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"finchart-app/internal/kafka"
	"finchart-app/internal/metrics"
	"finchart-app/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

const maxBodyBytes = 65536

// Handler is the single webhook entry point: verify the signature over the
// raw bytes, acknowledge the provider, and hand recognized events to the
// projector. With async enabled the acknowledgment never waits for the
// store; failures after the ack go to the log, the metrics, and the
// sync-failed topic, and the provider's redelivery is the retry path.
type Handler struct {
	projector      *Projector
	seen           *SeenCache
	metrics        metrics.WebhookMetrics
	producer       kafka.EventProducer
	dispatcher     *Dispatcher
	endpointSecret string
	async          bool
}

func NewHandler(projector *Projector, seen *SeenCache, m metrics.WebhookMetrics, producer kafka.EventProducer, endpointSecret string, async bool) *Handler {
	h := &Handler{
		projector:      projector,
		seen:           seen,
		metrics:        m,
		producer:       producer,
		endpointSecret: endpointSecret,
		async:          async,
	}
	h.dispatcher = NewDispatcher(256, h.processEvent)
	return h
}

// Stop drains the async queue. Call after the HTTP server has shut down.
func (h *Handler) Stop() {
	h.dispatcher.Stop()
}

// recognized lists the event types we project. Everything else is
// acknowledged untouched so the provider never retries it.
func recognized(eventType string) bool {
	switch eventType {
	case "checkout.session.completed",
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"invoice.payment_failed",
		"invoice.paid":
		return true
	}
	return false
}

func (h *Handler) HandleWebhook(c *gin.Context) {
	if h.endpointSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	// The signature covers the exact bytes on the wire; nothing may touch
	// the body before this point.
	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		logging.Errorf("stripe signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	h.metrics.IncReceived(event.Type)

	if !recognized(event.Type) {
		h.metrics.IncIgnored(event.Type)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if h.seen.Seen(c.Request.Context(), event.ID) {
		h.metrics.IncDuplicate(event.Type)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if h.async {
		if !h.dispatcher.Enqueue(event) {
			// Nothing acknowledged yet; let the provider redeliver.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event queue full"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.processEvent(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// MethodNotAllowed answers non-POST probes of the webhook path.
func (h *Handler) MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}

// processEvent is phase two: project, audit, mark seen, publish. Returns an
// error only for failures worth a provider retry.
func (h *Handler) processEvent(ctx context.Context, event stripe.Event) error {
	start := time.Now()
	outcome, err := h.projector.Apply(ctx, event)
	h.projector.RecordOutcome(ctx, event, err)

	switch {
	case err == nil:
		h.seen.MarkProcessed(ctx, event.ID)
		h.metrics.IncProcessed(event.Type)

		ev := kafka.SyncEvent{EventID: event.ID, EventType: event.Type}
		if outcome != nil {
			ev.UserID = outcome.UserID
			ev.StripeSubscriptionID = outcome.StripeSubscriptionID
			ev.Status = outcome.Status
		}
		if perr := h.producer.PublishSynced(ctx, ev); perr != nil {
			logging.Errorf("publish synced event %s: %v", event.ID, perr)
		}

	case errors.Is(err, ErrSkipEvent):
		// Redelivery cannot fix these; acknowledge and move on.
		logging.Errorf("webhook: skipping %s (%s): %v", event.ID, event.Type, err)
		h.seen.MarkProcessed(ctx, event.ID)
		h.metrics.IncFailed(event.Type)
		h.publishSyncFailed(ctx, event, err)
		err = nil

	default:
		h.metrics.IncFailed(event.Type)
		h.publishSyncFailed(ctx, event, err)
	}

	h.metrics.ObserveProcessingDuration(event.Type, time.Since(start).Seconds())
	return err
}

func (h *Handler) publishSyncFailed(ctx context.Context, event stripe.Event, cause error) {
	ev := kafka.SyncEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Error:     cause.Error(),
	}
	if perr := h.producer.PublishSyncFailed(ctx, ev); perr != nil {
		logging.Errorf("publish sync-failed event %s: %v", event.ID, perr)
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
