// Package retry wraps closing-order submission with bounded retries so a
// transient brokerage failure does not leave a breached position half closed.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is tuned for closing orders: short enough that a stuck retry
// loop does not outlive the risk-monitor tick that triggered it.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries batch order placement on transient brokerage errors.
type Client struct {
	broker broker.Broker
	logger *logrus.Logger
	config Config
}

// NewClient creates a retrying order client. An optional Config overrides the
// defaults.
func NewClient(b broker.Broker, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// PlaceOrderBatchWithRetry submits the batch, retrying on transient errors with
// jittered exponential backoff. Permanent errors (4xx rejections) fail fast.
func (c *Client) PlaceOrderBatchWithRetry(ctx context.Context, clientID string, reqs []broker.OrderRequest) ([]broker.PlacedOrder, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return nil, fmt.Errorf("order batch for %s timed out: %w", clientID, err)
		}

		placed, err := c.broker.PlaceOrderBatch(opCtx, clientID, reqs)
		if err == nil {
			if attempt > 0 {
				c.logger.WithFields(logrus.Fields{
					"client":  clientID,
					"attempt": attempt + 1,
				}).Info("order batch placed after retry")
			}
			return placed, nil
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"client":  clientID,
			"attempt": attempt + 1,
		}).WithError(err).Warn("order batch attempt failed")

		if !broker.IsTransient(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			return nil, fmt.Errorf("order batch for %s timed out during backoff: %w", clientID, opCtx.Err())
		}
	}

	return nil, fmt.Errorf("order batch for %s failed after %d attempts: %w", clientID, c.config.MaxRetries+1, lastErr)
}

// nextBackoff grows the delay by 1.5x, capped at MaxBackoff, plus up to 25%
// jitter so parallel clients do not retry in lockstep.
func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}
