// Package strategy computes iron fly strikes, contract symbols, and the
// price bundle used to deploy a position.
package strategy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
	"ironflybot/internal/models"
	"ironflybot/internal/util"
)

// DefaultStrikeStep is the strike grid spacing for NIFTY monthly contracts.
const DefaultStrikeStep = 50

// FatalConfigError marks a failure that invalidates the whole deploy cycle for
// the client whose market data was being used: an unresolvable symbol or a
// failed quote fetch. Other clients' cycles proceed.
type FatalConfigError struct {
	Stage string
	Err   error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("fatal config error during %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FatalConfigError) Unwrap() error { return e.Err }

// NearestStrike snaps a price onto the strike grid. A remainder below half a
// step rounds down, at or above half rounds up, so an exact half always rounds
// up.
func NearestStrike(price float64, step int) int {
	if step <= 0 {
		return int(price)
	}
	return int(math.Round(price/float64(step))) * step
}

// LastThursday returns the date of the last Thursday in the given month, the
// expiry day of the monthly contract cycle.
func LastThursday(year int, month time.Month) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfNext.AddDate(0, 0, -1)
	daysBack := (int(lastDay.Weekday()) - int(time.Thursday) + 7) % 7
	return lastDay.AddDate(0, 0, -daysBack)
}

// ContractMonth returns the year and month of the nearest monthly contract
// whose expiry has not passed. On or after the last Thursday of the current
// month the cycle rolls to the next month.
func ContractMonth(today time.Time) (int, time.Month) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	expiry := LastThursday(day.Year(), day.Month())
	if !day.Before(expiry) {
		next := day.AddDate(0, 1, -day.Day()+1) // first of next month
		return next.Year(), next.Month()
	}
	return day.Year(), day.Month()
}

// OptionSymbol builds the exchange trading symbol for a monthly contract,
// e.g. NIFTY24SEP23100CE.
func OptionSymbol(underlying string, today time.Time, strike int, opt models.OptionType) string {
	year, month := ContractMonth(today)
	code := strings.ToUpper(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("06Jan"))
	return underlying + code + strconv.Itoa(strike) + string(opt)
}

// Bundle is the fully populated strike/symbol/price output of one calculation,
// shared across all clients deployed in the same cycle.
type Bundle struct {
	ReferencePrice float64
	Strike         int

	SellCallSymbol string
	SellPutSymbol  string
	SellCallPrice  float64
	SellPutPrice   float64
	Premium        float64

	BuyCallStrike int
	BuyPutStrike  int
	BuyCallSymbol string
	BuyPutSymbol  string
	BuyCallPrice  float64
	BuyPutPrice   float64
}

// Symbols returns the per-role trading symbols for building a position.
func (b *Bundle) Symbols() map[models.LegRole]string {
	return map[models.LegRole]string{
		models.RoleBuyCall:  b.BuyCallSymbol,
		models.RoleBuyPut:   b.BuyPutSymbol,
		models.RoleSellCall: b.SellCallSymbol,
		models.RoleSellPut:  b.SellPutSymbol,
	}
}

// Calculator turns a live index price into a deployable iron fly bundle.
type Calculator struct {
	broker     broker.Broker
	logger     *logrus.Logger
	underlying string
	step       int
	tick       float64
	now        func() time.Time
}

// NewCalculator creates a Calculator. step and tick fall back to exchange
// defaults when zero.
func NewCalculator(b broker.Broker, logger *logrus.Logger, underlying string, step int, tick float64) *Calculator {
	if step <= 0 {
		step = DefaultStrikeStep
	}
	if tick <= 0 {
		tick = util.DefaultTick
	}
	return &Calculator{
		broker:     b,
		logger:     logger,
		underlying: underlying,
		step:       step,
		tick:       tick,
		now:        time.Now,
	}
}

// SetNow overrides the time source, used by tests to pin the contract month.
func (c *Calculator) SetNow(now func() time.Time) { c.now = now }

// Build computes the strike/symbol/price bundle using the given client's
// market-data access. Any failure is wrapped as a FatalConfigError scoped to
// this cycle.
func (c *Calculator) Build(ctx context.Context, clientID string) (*Bundle, error) {
	indexQuotes, err := c.broker.GetQuotes(ctx, clientID, c.underlying)
	if err != nil {
		return nil, &FatalConfigError{Stage: "index quote", Err: err}
	}
	ref := indexQuotes[c.underlying].LTP

	today := c.now()
	bundle := &Bundle{
		ReferencePrice: ref,
		Strike:         NearestStrike(ref, c.step),
	}
	bundle.SellCallSymbol = OptionSymbol(c.underlying, today, bundle.Strike, models.OptionCall)
	bundle.SellPutSymbol = OptionSymbol(c.underlying, today, bundle.Strike, models.OptionPut)

	shortQuotes, err := c.broker.GetQuotes(ctx, clientID, bundle.SellCallSymbol, bundle.SellPutSymbol)
	if err != nil {
		return nil, &FatalConfigError{Stage: "short leg quotes", Err: err}
	}
	bundle.SellCallPrice = util.ShadeAsk(shortQuotes[bundle.SellCallSymbol].Ask, c.tick)
	bundle.SellPutPrice = util.ShadeAsk(shortQuotes[bundle.SellPutSymbol].Ask, c.tick)
	bundle.Premium = bundle.SellCallPrice + bundle.SellPutPrice

	bundle.BuyCallStrike = NearestStrike(float64(bundle.Strike)+bundle.Premium, c.step)
	bundle.BuyPutStrike = NearestStrike(float64(bundle.Strike)-bundle.Premium, c.step)
	bundle.BuyCallSymbol = OptionSymbol(c.underlying, today, bundle.BuyCallStrike, models.OptionCall)
	bundle.BuyPutSymbol = OptionSymbol(c.underlying, today, bundle.BuyPutStrike, models.OptionPut)

	wingQuotes, err := c.broker.GetQuotes(ctx, clientID, bundle.BuyCallSymbol, bundle.BuyPutSymbol)
	if err != nil {
		return nil, &FatalConfigError{Stage: "wing leg quotes", Err: err}
	}
	bundle.BuyCallPrice = util.ShadeBid(wingQuotes[bundle.BuyCallSymbol].Bid, c.tick)
	bundle.BuyPutPrice = util.ShadeBid(wingQuotes[bundle.BuyPutSymbol].Bid, c.tick)

	c.logger.WithFields(logrus.Fields{
		"reference": ref,
		"strike":    bundle.Strike,
		"premium":   bundle.Premium,
		"call_wing": bundle.BuyCallStrike,
		"put_wing":  bundle.BuyPutStrike,
	}).Info("computed iron fly bundle")

	return bundle, nil
}
