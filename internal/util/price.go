// Package util provides common utility functions for price calculations.
package util

import "math"

// DefaultTick is the option contract tick size on the exchange.
const DefaultTick = 0.05

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 101.27 becomes 101.25.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// ShadeAsk improves a quoted ask by one tick for a sell limit order so the
// order sits inside the spread rather than at the top of book.
func ShadeAsk(ask, tick float64) float64 {
	return RoundToTick(ask-tick, tick)
}

// ShadeBid improves a quoted bid by one tick for a buy limit order.
func ShadeBid(bid, tick float64) float64 {
	return RoundToTick(bid+tick, tick)
}
