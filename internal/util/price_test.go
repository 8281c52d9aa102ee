package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        101.27,
			tick:     0.05,
			expected: 101.25,
		},
		{
			name:     "rounding up",
			x:        101.28,
			tick:     0.05,
			expected: 101.30,
		},
		{
			name:     "exact multiple unchanged",
			x:        101.25,
			tick:     0.05,
			expected: 101.25,
		},
		{
			name:     "zero tick returns input",
			x:        101.27,
			tick:     0,
			expected: 101.27,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestShading(t *testing.T) {
	if got := ShadeAsk(120.55, DefaultTick); math.Abs(got-120.50) > 1e-10 {
		t.Errorf("ShadeAsk(120.55) = %v, expected 120.50", got)
	}
	if got := ShadeBid(120.55, DefaultTick); math.Abs(got-120.60) > 1e-10 {
		t.Errorf("ShadeBid(120.55) = %v, expected 120.60", got)
	}
}
