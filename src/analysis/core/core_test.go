package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMeanStd(t *testing.T) {
	mean, std := CalculateMeanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = CalculateMeanStd([]float64{5})
	assert.Equal(t, 5.0, mean)
	assert.Zero(t, std)

	mean, std = CalculateMeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, mean)
	assert.InDelta(t, 2.0, std, 1e-12)
}

func TestCalculateZScore(t *testing.T) {
	assert.Equal(t, 2.0, CalculateZScore(9, 5, 2))
	assert.Zero(t, CalculateZScore(9, 5, 0))
}

func TestRealizedVolatility(t *testing.T) {
	assert.Zero(t, RealizedVolatility([]float64{100}))
	assert.Zero(t, RealizedVolatility([]float64{100, 100, 100}))

	// constant growth has no dispersion
	assert.InDelta(t, 0, RealizedVolatility([]float64{100, 110, 121}), 1e-12)

	returns := LogReturns([]float64{100, 0, 50, 55})
	assert.Len(t, returns, 1)
	assert.InDelta(t, math.Log(1.1), returns[0], 1e-12)
}

func TestComputeOHLCV(t *testing.T) {
	bar := ComputeOHLCV([]float64{10, 12, 9, 11}, []float64{1, 2, 3})
	assert.Equal(t, OHLCV{Open: 10, High: 12, Low: 9, Close: 11, Volume: 6, AvgPrice: 10.5}, bar)

	assert.Equal(t, OHLCV{}, ComputeOHLCV(nil, nil))
}

func TestChangeAndSpread(t *testing.T) {
	assert.InDelta(t, 10.0, CalculateChangePercent(110, 100), 1e-12)
	assert.Zero(t, CalculateChangePercent(110, 0))

	assert.InDelta(t, 10.0, SpreadBps(99.95, 100.05), 1e-9)
	assert.Zero(t, SpreadBps(0, 0))
	assert.Zero(t, SpreadBps(101, 100))
}
