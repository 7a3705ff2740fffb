package utils

import (
	"sync"
	"time"

	"telemetry-backbone/src/logger"
)

// MarketScheduler tracks which venue each symbol trades on.
type MarketScheduler struct {
	calendars map[string]*TradingCalendar // by MIC
	symbols   map[string]string           // symbol -> MIC
	Logger    *logger.Logger
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		calendars: make(map[string]*TradingCalendar),
		symbols:   make(map[string]string),
		Logger:    l,
	}
	ms.UpdateSymbols(symbols)
	return ms
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbol set. Calendars are loaded once per MIC.
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.symbols = make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		mic := MICForSymbol(symbol)
		if _, ok := ms.calendars[mic]; !ok {
			cal := GetCalendar(mic)
			if cal.Fallback {
				ms.Logger.Warning("MarketScheduler: no calendar for %s, using weekday 09:30-16:00 New York fallback", mic)
			}
			ms.calendars[mic] = cal
		}
		ms.symbols[symbol] = mic
	}

	ms.Logger.Debug("MarketScheduler: mapped %d symbols to %d calendars", len(symbols), len(ms.calendars))
}

// -----------------------------------------------------------------------------

// IsOpen reports whether the venue of symbol is open at t. Unknown symbols are
// resolved on the fly without being cached.
func (ms *MarketScheduler) IsOpen(symbol string, t time.Time) bool {
	ms.mu.RLock()
	mic, ok := ms.symbols[symbol]
	var cal *TradingCalendar
	if ok {
		cal = ms.calendars[mic]
	}
	ms.mu.RUnlock()

	if cal == nil {
		cal = GetCalendar(MICForSymbol(symbol))
	}
	return cal.IsOpen(t)
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if ANY tracked venue is open at t
func (ms *MarketScheduler) AnyMarketOpen(t time.Time) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for mic := range ms.calendars {
		if !ms.inUse(mic) {
			continue
		}
		if ms.calendars[mic].IsOpen(t) {
			return true
		}
	}
	return false
}

func (ms *MarketScheduler) inUse(mic string) bool {
	for _, m := range ms.symbols {
		if m == mic {
			return true
		}
	}
	return false
}
