package core

// -----------------------------------------------------------------------------

// OHLCV summarises a window of prices and volumes.
type OHLCV struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	AvgPrice float64 `json:"avg_price"`
}

// -----------------------------------------------------------------------------

// ComputeOHLCV builds the bar for prices. volumes may be shorter than prices
// (or nil); missing volumes count as zero.
func ComputeOHLCV(prices []float64, volumes []float64) OHLCV {
	if len(prices) == 0 {
		return OHLCV{}
	}

	bar := OHLCV{
		Open:  prices[0],
		Close: prices[len(prices)-1],
		High:  prices[0],
		Low:   prices[0],
	}

	sum := 0.0
	for i, p := range prices {
		if p > bar.High {
			bar.High = p
		}
		if p < bar.Low {
			bar.Low = p
		}
		if i < len(volumes) {
			bar.Volume += volumes[i]
		}
		sum += p
	}
	bar.AvgPrice = sum / float64(len(prices))
	return bar
}

// -----------------------------------------------------------------------------

// CalculateChangePercent returns (current-previous)/previous as a percentage.
func CalculateChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0.0
	}
	return (current - previous) / previous * 100
}

// -----------------------------------------------------------------------------

// SpreadBps is the quoted spread in basis points of the mid price.
func SpreadBps(bid, ask float64) float64 {
	mid := (bid + ask) / 2
	if mid <= 0 || ask < bid {
		return 0
	}
	return (ask - bid) / mid * 10000
}
