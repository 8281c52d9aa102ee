package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
	"ironflybot/internal/metrics"
	"ironflybot/internal/models"
	"ironflybot/internal/storage"
	"ironflybot/internal/util"
)

// Repricer chases unfilled short legs. A limit order shaded off a stale ask
// can sit forever when the market moves; each tick the order is re-priced to
// the current shaded ask.
type Repricer struct {
	store   storage.Interface
	broker  broker.Broker
	logger  *logrus.Logger
	metrics *metrics.Metrics
	tick    float64
}

// NewRepricer creates a Repricer. tick falls back to the exchange default
// when zero.
func NewRepricer(store storage.Interface, b broker.Broker, logger *logrus.Logger, m *metrics.Metrics, tick float64) *Repricer {
	if tick <= 0 {
		tick = util.DefaultTick
	}
	return &Repricer{store: store, broker: b, logger: logger, metrics: m, tick: tick}
}

// Run re-prices every resting short leg of every OPEN position. Wings are
// market orders and never need chasing. Failures are per-leg; one stuck
// modification does not block the rest.
func (r *Repricer) Run(ctx context.Context) error {
	positions, err := r.store.GetPositionsByStatus(ctx, models.StatusOpen)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	type pending struct {
		clientID string
		position string
		leg      *models.Leg
	}

	byClient := make(map[string][]pending)
	for i := range positions {
		pos := &positions[i]
		for _, role := range []models.LegRole{models.RoleSellCall, models.RoleSellPut} {
			leg := pos.Leg(role)
			if leg == nil || leg.OrderID == "" || leg.Status.IsTerminal() {
				continue
			}
			byClient[pos.ClientID] = append(byClient[pos.ClientID], pending{
				clientID: pos.ClientID,
				position: pos.ID,
				leg:      leg,
			})
		}
	}

	for clientID, legs := range byClient {
		symbols := make([]string, 0, len(legs))
		seen := make(map[string]bool, len(legs))
		for _, p := range legs {
			if !seen[p.leg.Symbol] {
				seen[p.leg.Symbol] = true
				symbols = append(symbols, p.leg.Symbol)
			}
		}

		quotes, err := r.broker.GetQuotes(ctx, clientID, symbols...)
		if err != nil {
			r.logger.WithField("client", clientID).WithError(err).Warn("reprice: quote fetch failed, skipping client")
			continue
		}

		for _, p := range legs {
			price := util.ShadeAsk(quotes[p.leg.Symbol].Ask, r.tick)
			if price <= 0 {
				continue
			}
			if err := r.broker.ModifyOrder(ctx, clientID, p.leg.OrderID, price); err != nil {
				r.logger.WithFields(logrus.Fields{
					"client":   clientID,
					"position": p.position,
					"order_id": p.leg.OrderID,
				}).WithError(err).Warn("reprice: order modification failed")
				continue
			}
			r.metrics.OrdersRepriced.Inc()
			r.logger.WithFields(logrus.Fields{
				"client":   clientID,
				"position": p.position,
				"symbol":   p.leg.Symbol,
				"price":    price,
			}).Info("re-priced resting short leg")
		}
	}
	return nil
}
