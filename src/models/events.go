package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Direct ingestion events
// -----------------------------------------------------------------------------

// MSignalEvent is emitted by a strategy when it produces a trading signal.
type MSignalEvent struct {
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"` // "buy", "sell" or "flat"
	Strength  float64   `json:"strength"`
	Timestamp time.Time `json:"timestamp"`
}

// MTradeEvent is a fill attributed to a strategy.
type MTradeEvent struct {
	TradeID   string    `json:"trade_id"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // "buy" or "sell"
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution event kinds
const (
	ExecutionOrder  = "order"
	ExecutionFill   = "fill"
	ExecutionReject = "reject"
)

// MExecutionEvent is one order lifecycle event from the execution engine.
type MExecutionEvent struct {
	Venue       string    `json:"venue"`
	Kind        string    `json:"kind"`
	LatencyMs   float64   `json:"latency_ms"`
	SlippageBps float64   `json:"slippage_bps"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

var (
	ErrInvalidTick      = errors.New("tick needs a symbol and a positive price")
	ErrInvalidSignal    = errors.New("signal needs a strategy and a direction of buy, sell or flat")
	ErrInvalidTrade     = errors.New("trade needs a strategy, symbol, side buy or sell, positive quantity and price")
	ErrInvalidExecution = errors.New("execution event needs a venue and a kind of order, fill or reject")
	ErrNonFinite        = errors.New("event carries a NaN or infinite value")
)

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (t MMarketTick) Validate() error {
	if !finite(t.Price, t.Volume, t.Bid, t.Ask) {
		return ErrNonFinite
	}
	if t.Symbol == "" || t.Price <= 0 {
		return ErrInvalidTick
	}
	return nil
}

func (ev MSignalEvent) Validate() error {
	if !finite(ev.Strength) {
		return ErrNonFinite
	}
	switch strings.ToLower(ev.Direction) {
	case "buy", "sell", "flat":
		if ev.Strategy != "" {
			return nil
		}
	}
	return ErrInvalidSignal
}

func (ev MTradeEvent) Validate() error {
	if !finite(ev.Quantity, ev.Price) {
		return ErrNonFinite
	}
	side := strings.ToLower(ev.Side)
	if ev.Strategy == "" || ev.Symbol == "" || (side != "buy" && side != "sell") || ev.Quantity <= 0 || ev.Price <= 0 {
		return ErrInvalidTrade
	}
	return nil
}

func (ev MExecutionEvent) Validate() error {
	if !finite(ev.LatencyMs, ev.SlippageBps) {
		return ErrNonFinite
	}
	switch strings.ToLower(ev.Kind) {
	case ExecutionOrder, ExecutionFill, ExecutionReject:
		if ev.Venue != "" {
			return nil
		}
	}
	return ErrInvalidExecution
}
