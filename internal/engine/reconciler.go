package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
	"ironflybot/internal/metrics"
	"ironflybot/internal/models"
	"ironflybot/internal/storage"
)

// Reconciler folds the brokerage's order book back onto open positions. Each
// pass is idempotent: re-running against unchanged orders writes nothing.
type Reconciler struct {
	store   storage.Interface
	broker  broker.Broker
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(store storage.Interface, b broker.Broker, logger *logrus.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, broker: b, logger: logger, metrics: m}
}

// Run reconciles every OPEN position against its client's order list. The
// order book is fetched once per client and shared across that client's
// positions. A failed fetch skips the client's positions until the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	positions, err := r.store.GetPositionsByStatus(ctx, models.StatusOpen)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	byClient := make(map[string][]*models.Position)
	for i := range positions {
		pos := &positions[i]
		byClient[pos.ClientID] = append(byClient[pos.ClientID], pos)
	}

	for clientID, clientPositions := range byClient {
		orders, err := r.broker.FetchOrders(ctx, clientID)
		if err != nil {
			r.logger.WithField("client", clientID).WithError(err).Warn("reconcile: order fetch failed, skipping client")
			continue
		}
		index := make(map[string]broker.Order, len(orders))
		for _, order := range orders {
			index[order.OrderID] = order
		}

		for _, pos := range clientPositions {
			if err := r.reconcilePosition(ctx, pos, index); err != nil {
				r.logger.WithFields(logrus.Fields{
					"client":   clientID,
					"position": pos.ID,
				}).WithError(err).Error("reconcile: position update failed")
			}
		}
	}

	live := 0
	for _, status := range []models.PositionStatus{models.StatusOpen, models.StatusComplete} {
		current, err := r.store.GetPositionsByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("counting %s positions: %w", status, err)
		}
		live += len(current)
	}
	r.metrics.OpenPositions.Set(float64(live))

	r.metrics.ReconcileRuns.Inc()
	return nil
}

// reconcilePosition applies order updates to one position's legs and promotes
// it to COMPLETE once all four legs have filled. Legs whose order ids are
// missing from the order book are left untouched.
func (r *Reconciler) reconcilePosition(ctx context.Context, pos *models.Position, index map[string]broker.Order) error {
	changed := false
	for _, role := range models.LegRoles {
		leg := pos.Leg(role)
		if leg == nil || leg.OrderID == "" {
			continue
		}
		order, ok := index[leg.OrderID]
		if !ok {
			r.logger.WithFields(logrus.Fields{
				"position": pos.ID,
				"leg":      string(role),
				"order_id": leg.OrderID,
			}).Debug("reconcile: order not in today's order book")
			continue
		}
		if leg.ApplyUpdate(models.ParseOrderStatus(order.Status), order.Message, order.AveragePrice) {
			changed = true
		}
	}

	if pos.HasRejectedLeg() {
		r.logger.WithField("position", pos.ID).Warn("reconcile: position has a rejected leg and cannot complete")
	}

	if pos.AllLegsFilled() {
		pos.ComputeDerived()
		if err := pos.TransitionStatus(models.StatusComplete); err != nil {
			return err
		}
		changed = true
		r.logger.WithFields(logrus.Fields{
			"position":        pos.ID,
			"total_credit":    pos.TotalCredit,
			"high_adjustment": pos.HighAdjustment,
			"low_adjustment":  pos.LowAdjustment,
		}).Info("position complete, risk thresholds derived")
	}

	if !changed {
		return nil
	}
	pos.Touch()
	return r.store.UpdatePosition(ctx, pos)
}
