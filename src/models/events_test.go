package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventValidation(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)

	tests := []struct {
		name string
		ev   interface{ Validate() error }
		want error
	}{
		{"tick ok", MMarketTick{Symbol: "AAPL", Price: 1, Volume: 2, Bid: 0.9, Ask: 1.1}, nil},
		{"tick no symbol", MMarketTick{Price: 1}, ErrInvalidTick},
		{"tick zero price", MMarketTick{Symbol: "AAPL"}, ErrInvalidTick},
		{"tick nan price", MMarketTick{Symbol: "AAPL", Price: nan}, ErrNonFinite},
		{"tick inf volume", MMarketTick{Symbol: "AAPL", Price: 1, Volume: inf}, ErrNonFinite},
		{"tick nan bid", MMarketTick{Symbol: "AAPL", Price: 1, Bid: nan}, ErrNonFinite},
		{"tick inf ask", MMarketTick{Symbol: "AAPL", Price: 1, Ask: -inf}, ErrNonFinite},

		{"signal ok", MSignalEvent{Strategy: "mr", Direction: "BUY", Strength: 0.4}, nil},
		{"signal bad direction", MSignalEvent{Strategy: "mr", Direction: "up"}, ErrInvalidSignal},
		{"signal inf strength", MSignalEvent{Strategy: "mr", Direction: "buy", Strength: inf}, ErrNonFinite},
		{"signal nan strength", MSignalEvent{Strategy: "mr", Direction: "buy", Strength: nan}, ErrNonFinite},

		{"trade ok", MTradeEvent{Strategy: "mr", Symbol: "AAPL", Side: "sell", Quantity: 1, Price: 2}, nil},
		{"trade no side", MTradeEvent{Strategy: "mr", Symbol: "AAPL", Quantity: 1, Price: 2}, ErrInvalidTrade},
		{"trade inf quantity", MTradeEvent{Strategy: "mr", Symbol: "AAPL", Side: "buy", Quantity: inf, Price: 2}, ErrNonFinite},
		{"trade nan price", MTradeEvent{Strategy: "mr", Symbol: "AAPL", Side: "buy", Quantity: 1, Price: nan}, ErrNonFinite},

		{"execution ok", MExecutionEvent{Venue: "XNAS", Kind: "Fill", LatencyMs: 3, SlippageBps: -1}, nil},
		{"execution bad kind", MExecutionEvent{Venue: "XNAS", Kind: "cancel"}, ErrInvalidExecution},
		{"execution nan slippage", MExecutionEvent{Venue: "XNAS", Kind: "fill", SlippageBps: nan}, ErrNonFinite},
		{"execution inf latency", MExecutionEvent{Venue: "XNAS", Kind: "order", LatencyMs: inf}, ErrNonFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Validate())
		})
	}
}
