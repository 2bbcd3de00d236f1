package chat

import (
	"encoding/json"

	"finchart-app/internal/llm"
)

// Tool schemas the model can call. The server never executes these; tool
// calls are returned to the client, which renders the charts locally.

var renderChartParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"symbol": {
			"type": "string",
			"description": "Ticker symbol to chart, e.g. AAPL or BTC-USD"
		},
		"range": {
			"type": "string",
			"enum": ["1d", "5d", "1mo", "6mo", "ytd", "1y", "5y", "max"],
			"description": "Time range to display"
		},
		"interval": {
			"type": "string",
			"enum": ["1m", "5m", "15m", "1h", "1d", "1wk"],
			"description": "Candle interval; pick something sensible for the range"
		},
		"chart_type": {
			"type": "string",
			"enum": ["line", "candlestick", "area"]
		}
	},
	"required": ["symbol"]
}`)

var compareSymbolsParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"symbols": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 2,
			"maxItems": 5,
			"description": "Ticker symbols to overlay on one chart"
		},
		"range": {
			"type": "string",
			"enum": ["1d", "5d", "1mo", "6mo", "ytd", "1y", "5y", "max"]
		},
		"normalize": {
			"type": "boolean",
			"description": "Plot percentage change from the range start instead of absolute prices"
		}
	},
	"required": ["symbols"]
}`)

func Tools() []llm.Tool {
	return []llm.Tool{
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        "render_chart",
				Description: "Render an interactive price chart for a single symbol in the user's dashboard.",
				Parameters:  renderChartParams,
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        "compare_symbols",
				Description: "Render a comparison chart overlaying several symbols.",
				Parameters:  compareSymbolsParams,
			},
		},
	}
}
