package jobs

import (
	"math"

	"github.com/etrobot/gpt-trader/internals/marketdata"
)

// Candle analytics over kline slices ordered oldest first (index 0 oldest,
// last element the most recent candle).

func isBullish(k marketdata.Kline) bool {
	return k.Close > k.Open
}

func isBearish(k marketdata.Kline) bool {
	return k.Close < k.Open
}

// consecutiveCandles counts how many of the most recent candles in a row
// satisfy match, scanning backwards from the newest.
func consecutiveCandles(klines []marketdata.Kline, match func(marketdata.Kline) bool) int {
	count := 0
	for i := len(klines) - 1; i >= 0; i-- {
		if !match(klines[i]) {
			break
		}
		count++
	}
	return count
}

func candleLength(k marketdata.Kline) float64 {
	return math.Abs(k.Close - k.Open)
}

// isSideways reports whether every candle in klines[from:to] is shorter than
// reference.
func isSideways(klines []marketdata.Kline, from, to int, reference float64) bool {
	for i := from; i <= to; i++ {
		if candleLength(klines[i]) >= reference {
			return false
		}
	}
	return true
}

// threeBullishThenSideways detects three consecutive bullish candles followed
// by ten candles all shorter than the shortest of the three. Needs at least
// 13 candles.
func threeBullishThenSideways(klines []marketdata.Kline) bool {
	n := len(klines)
	if n < 13 {
		return false
	}

	// Candles 13..11 back from the end must be bullish.
	run := klines[n-13 : n-10]
	for _, k := range run {
		if !isBullish(k) {
			return false
		}
	}

	reference := math.Inf(1)
	for _, k := range run {
		if length := candleLength(k); length < reference {
			reference = length
		}
	}
	return isSideways(klines, n-10, n-1, reference)
}

// sidewaysThenThreeBearish detects ten sideways candles followed by three
// consecutive bearish candles at the newest end.
func sidewaysThenThreeBearish(klines []marketdata.Kline) bool {
	n := len(klines)
	if n < 13 {
		return false
	}

	run := klines[n-3:]
	for _, k := range run {
		if !isBearish(k) {
			return false
		}
	}

	reference := math.Inf(1)
	for _, k := range run {
		if length := candleLength(k); length < reference {
			reference = length
		}
	}
	return isSideways(klines, n-13, n-4, reference)
}

// changePct is the percentage move from the first candle's close to the
// last's.
func changePct(klines []marketdata.Kline) float64 {
	if len(klines) < 2 || klines[0].Close == 0 {
		return 0
	}
	return (klines[len(klines)-1].Close - klines[0].Close) / klines[0].Close * 100
}

// volatilityPct is the standard deviation of candle-to-candle close changes,
// in percent.
func volatilityPct(klines []marketdata.Kline) float64 {
	if len(klines) < 3 {
		return 0
	}

	changes := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			continue
		}
		changes = append(changes, (klines[i].Close-prev)/prev*100)
	}
	if len(changes) < 2 {
		return 0
	}

	mean := 0.0
	for _, c := range changes {
		mean += c
	}
	mean /= float64(len(changes))

	variance := 0.0
	for _, c := range changes {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(changes))
	return math.Sqrt(variance)
}
