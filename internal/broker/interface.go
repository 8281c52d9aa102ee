// Package broker defines the brokerage capability interface consumed by the
// trading engine, an Upstox REST implementation, and a circuit-breaker wrapper.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Quote is a batched market-data snapshot for one symbol.
type Quote struct {
	Bid float64
	Ask float64
	LTP float64
}

// OrderRequest is one leg of an order batch. Price zero means a market order.
// CorrelationID ties the brokerage's response back to the originating leg.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY or SELL
	Price         float64
	Quantity      int
	CorrelationID string
}

// PlacedOrder is the brokerage's acknowledgment for one leg of a batch.
type PlacedOrder struct {
	CorrelationID string
	OrderID       string
}

// Order is one entry of a client's full order list as reported by the brokerage.
type Order struct {
	OrderID      string
	Symbol       string
	Side         string
	Status       string
	Message      string
	AveragePrice float64
}

// Broker is the capability interface to the brokerage. Implementations may
// fail wholesale or return partial results; callers treat unknown state as
// not-yet-updated, never as terminal failure.
type Broker interface {
	// PlaceOrderBatch submits all legs in a single multi-order request and
	// returns one acknowledgment per accepted leg.
	PlaceOrderBatch(ctx context.Context, clientID string, reqs []OrderRequest) ([]PlacedOrder, error)
	// FetchOrders returns the client's full current order list.
	FetchOrders(ctx context.Context, clientID string) ([]Order, error)
	// GetQuotes returns batched market data for the given trading symbols.
	GetQuotes(ctx context.Context, clientID string, symbols ...string) (map[string]Quote, error)
	// ModifyOrder re-prices an open limit order.
	ModifyOrder(ctx context.Context, clientID, orderID string, price float64) error
}

// TokenProvider supplies a client's access token. Acquisition and refresh are
// external; the engine only reads what the credential store holds.
type TokenProvider interface {
	AccessToken(ctx context.Context, clientID string) (string, error)
}

// InstrumentResolver maps a trading symbol to the broker's instrument key.
type InstrumentResolver interface {
	InstrumentKey(ctx context.Context, tradingSymbol string) (string, error)
}

// APIError is a non-2xx response from the brokerage API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error: status %d: %s", e.Status, e.Body)
}

// IsTransient reports whether an error should be retried on a later tick:
// timeouts, connection failures, rate limits, and 5xx responses. Everything
// else (notably 4xx rejections) is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429
	}
	return false
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerBroker wraps a Broker so that a run of brokerage failures
// sheds load instead of hammering a degraded API every tick.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker, logger *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, logger, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, logger *logrus.Logger, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// PlaceOrderBatch wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrderBatch(ctx context.Context, clientID string, reqs []OrderRequest) ([]PlacedOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PlacedOrder, error) {
		return b.PlaceOrderBatch(ctx, clientID, reqs)
	})
}

// FetchOrders wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) FetchOrders(ctx context.Context, clientID string) ([]Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Order, error) {
		return b.FetchOrders(ctx, clientID)
	})
}

// GetQuotes wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetQuotes(ctx context.Context, clientID string, symbols ...string) (map[string]Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]Quote, error) {
		return b.GetQuotes(ctx, clientID, symbols...)
	})
}

// ModifyOrder wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) ModifyOrder(ctx context.Context, clientID, orderID string, price float64) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.ModifyOrder(ctx, clientID, orderID, price)
	})
	return err
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
