package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ironflybot/internal/broker"
	"ironflybot/internal/models"
)

func TestNearestStrike(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		step  int
		want  int
	}{
		{name: "rounds down below half", price: 23113, step: 50, want: 23100},
		{name: "rounds up above half", price: 23330, step: 50, want: 23350},
		{name: "rounds down on lower side", price: 22870, step: 50, want: 22850},
		{name: "exact half rounds up", price: 23125, step: 50, want: 23150},
		{name: "exact multiple unchanged", price: 23100, step: 50, want: 23100},
		{name: "fractional price", price: 23113.45, step: 50, want: 23100},
		{name: "zero step passes through", price: 23113, step: 0, want: 23113},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NearestStrike(tt.price, tt.step); got != tt.want {
				t.Errorf("NearestStrike(%v, %d) = %d, want %d", tt.price, tt.step, got, tt.want)
			}
		})
	}
}

func TestNearestStrikeStaysOnGrid(t *testing.T) {
	for price := 22000.0; price < 24000; price += 7.3 {
		strike := NearestStrike(price, 50)
		if strike%50 != 0 {
			t.Fatalf("NearestStrike(%v) = %d is off the 50-point grid", price, strike)
		}
		if math.Abs(float64(strike)-price) > 25 {
			t.Fatalf("NearestStrike(%v) = %d is more than half a step away", price, strike)
		}
	}
}

func TestLastThursday(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int // day of month
	}{
		{2024, time.September, 26},
		{2024, time.October, 31},
		{2024, time.December, 26},
		{2025, time.February, 27},
	}

	for _, tt := range tests {
		got := LastThursday(tt.year, tt.month)
		if got.Day() != tt.want || got.Weekday() != time.Thursday {
			t.Errorf("LastThursday(%d, %v) = %v, want day %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestContractMonth(t *testing.T) {
	tests := []struct {
		name      string
		today     time.Time
		wantYear  int
		wantMonth time.Month
	}{
		{
			name:      "mid month stays current",
			today:     time.Date(2024, time.September, 10, 11, 0, 0, 0, time.UTC),
			wantYear:  2024,
			wantMonth: time.September,
		},
		{
			name:      "day before expiry stays current",
			today:     time.Date(2024, time.September, 25, 15, 0, 0, 0, time.UTC),
			wantYear:  2024,
			wantMonth: time.September,
		},
		{
			name:      "expiry day rolls forward",
			today:     time.Date(2024, time.September, 26, 9, 0, 0, 0, time.UTC),
			wantYear:  2024,
			wantMonth: time.October,
		},
		{
			name:      "december expiry rolls into january",
			today:     time.Date(2024, time.December, 26, 10, 0, 0, 0, time.UTC),
			wantYear:  2025,
			wantMonth: time.January,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			year, month := ContractMonth(tt.today)
			if year != tt.wantYear || month != tt.wantMonth {
				t.Errorf("ContractMonth(%v) = %d %v, want %d %v", tt.today, year, month, tt.wantYear, tt.wantMonth)
			}
		})
	}
}

func TestOptionSymbol(t *testing.T) {
	today := time.Date(2024, time.September, 10, 0, 0, 0, 0, time.UTC)

	if got := OptionSymbol("NIFTY", today, 23100, models.OptionCall); got != "NIFTY24SEP23100CE" {
		t.Errorf("call symbol = %q, want NIFTY24SEP23100CE", got)
	}
	if got := OptionSymbol("NIFTY", today, 23100, models.OptionPut); got != "NIFTY24SEP23100PE" {
		t.Errorf("put symbol = %q, want NIFTY24SEP23100PE", got)
	}

	rolled := time.Date(2024, time.December, 26, 0, 0, 0, 0, time.UTC)
	if got := OptionSymbol("NIFTY", rolled, 23500, models.OptionCall); got != "NIFTY25JAN23500CE" {
		t.Errorf("rolled symbol = %q, want NIFTY25JAN23500CE", got)
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestCalculatorBuild(t *testing.T) {
	b := new(broker.MockBroker)
	calc := NewCalculator(b, testLogger(), "NIFTY", 50, 0.05)
	calc.SetNow(func() time.Time {
		return time.Date(2024, time.September, 10, 11, 0, 0, 0, time.UTC)
	})

	b.On("GetQuotes", mock.Anything, "CLIENT1", []string{"NIFTY"}).
		Return(map[string]broker.Quote{"NIFTY": {LTP: 23113}}, nil)
	b.On("GetQuotes", mock.Anything, "CLIENT1", []string{"NIFTY24SEP23100CE", "NIFTY24SEP23100PE"}).
		Return(map[string]broker.Quote{
			"NIFTY24SEP23100CE": {Ask: 120.60, Bid: 120.40},
			"NIFTY24SEP23100PE": {Ask: 110.30, Bid: 110.10},
		}, nil)
	b.On("GetQuotes", mock.Anything, "CLIENT1", []string{"NIFTY24SEP23350CE", "NIFTY24SEP22850PE"}).
		Return(map[string]broker.Quote{
			"NIFTY24SEP23350CE": {Ask: 40.20, Bid: 40.00},
			"NIFTY24SEP22850PE": {Ask: 35.20, Bid: 35.00},
		}, nil)

	bundle, err := calc.Build(context.Background(), "CLIENT1")
	require.NoError(t, err)

	require.Equal(t, 23100, bundle.Strike)
	require.InDelta(t, 120.55, bundle.SellCallPrice, 1e-9)
	require.InDelta(t, 110.25, bundle.SellPutPrice, 1e-9)
	require.InDelta(t, 230.80, bundle.Premium, 1e-9)
	require.Equal(t, 23350, bundle.BuyCallStrike)
	require.Equal(t, 22850, bundle.BuyPutStrike)
	require.Equal(t, "NIFTY24SEP23350CE", bundle.BuyCallSymbol)
	require.Equal(t, "NIFTY24SEP22850PE", bundle.BuyPutSymbol)
	require.InDelta(t, 40.05, bundle.BuyCallPrice, 1e-9)
	require.InDelta(t, 35.05, bundle.BuyPutPrice, 1e-9)

	symbols := bundle.Symbols()
	require.Equal(t, "NIFTY24SEP23100CE", symbols[models.RoleSellCall])
	require.Equal(t, "NIFTY24SEP23100PE", symbols[models.RoleSellPut])

	b.AssertExpectations(t)
}

func TestCalculatorBuildQuoteFailure(t *testing.T) {
	b := new(broker.MockBroker)
	calc := NewCalculator(b, testLogger(), "NIFTY", 50, 0.05)

	b.On("GetQuotes", mock.Anything, "CLIENT1", []string{"NIFTY"}).
		Return(nil, errors.New("quote backend down"))

	_, err := calc.Build(context.Background(), "CLIENT1")
	require.Error(t, err)

	var fatal *FatalConfigError
	require.True(t, errors.As(err, &fatal), "expected a FatalConfigError, got %v", err)
	require.Equal(t, "index quote", fatal.Stage)
}
