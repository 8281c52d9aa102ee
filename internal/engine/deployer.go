// Package engine contains the scheduled trading jobs: deploying new iron fly
// positions, reconciling order state, re-pricing stale short legs, and
// monitoring risk thresholds.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
	"ironflybot/internal/metrics"
	"ironflybot/internal/models"
	"ironflybot/internal/storage"
	"ironflybot/internal/strategy"
)

const (
	// DefaultLotSize is the NIFTY option contract lot size.
	DefaultLotSize = 75
	// DefaultStrikeBand is the half-width of the duplicate-strike window. A
	// client with a non-closed position within this many points of the new
	// strike is skipped.
	DefaultStrikeBand = 99
)

// Deployer opens one iron fly per eligible client at the computed strike.
type Deployer struct {
	store      storage.Interface
	broker     broker.Broker
	calc       *strategy.Calculator
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	lotSize    int
	strikeBand int
}

// NewDeployer creates a Deployer. lotSize and strikeBand fall back to exchange
// defaults when zero.
func NewDeployer(store storage.Interface, b broker.Broker, calc *strategy.Calculator, logger *logrus.Logger, m *metrics.Metrics, lotSize, strikeBand int) *Deployer {
	if lotSize <= 0 {
		lotSize = DefaultLotSize
	}
	if strikeBand <= 0 {
		strikeBand = DefaultStrikeBand
	}
	return &Deployer{
		store:      store,
		broker:     b,
		calc:       calc,
		logger:     logger,
		metrics:    m,
		lotSize:    lotSize,
		strikeBand: strikeBand,
	}
}

// Run computes one strike/symbol/price bundle and deploys it for every
// eligible client. A bundle failure aborts the whole run; a single client's
// failure is logged and does not block the others.
func (d *Deployer) Run(ctx context.Context) error {
	clients, err := d.store.EligibleClients(ctx)
	if err != nil {
		return fmt.Errorf("loading eligible clients: %w", err)
	}
	if len(clients) == 0 {
		d.logger.Info("deploy: no eligible clients")
		return nil
	}

	// Market data is identical across clients, so the bundle is built once
	// using the first eligible client's credentials.
	bundle, err := d.calc.Build(ctx, clients[0].ClientID)
	if err != nil {
		return fmt.Errorf("building bundle: %w", err)
	}

	for _, client := range clients {
		if err := d.deployClient(ctx, client, bundle); err != nil {
			d.logger.WithField("client", client.ClientID).WithError(err).Error("deploy failed for client")
		}
	}
	return nil
}

// deployClient opens the fly for one client unless a nearby position exists.
func (d *Deployer) deployClient(ctx context.Context, client storage.ClientRecord, bundle *strategy.Bundle) error {
	existing, err := d.store.GetNonClosedPositions(ctx, client.ClientID)
	if err != nil {
		return fmt.Errorf("loading positions: %w", err)
	}
	for _, pos := range existing {
		delta := pos.Strike - bundle.Strike
		if delta < 0 {
			delta = -delta
		}
		if delta <= d.strikeBand {
			d.logger.WithFields(logrus.Fields{
				"client":   client.ClientID,
				"strike":   bundle.Strike,
				"existing": pos.Strike,
				"position": pos.ID,
			}).Info("deploy: strike too close to existing position, skipping")
			return nil
		}
	}

	quantity := client.Lots * d.lotSize
	pos := models.NewPosition(uuid.NewString(), client.ClientID, bundle.Strike, quantity, bundle.Symbols())

	// Wings go first as market orders so the shorts are never naked; the
	// shorts follow as shaded limit orders.
	reqs := []broker.OrderRequest{
		{Symbol: bundle.BuyPutSymbol, Side: string(models.SideBuy), Quantity: quantity, CorrelationID: string(models.RoleBuyPut)},
		{Symbol: bundle.BuyCallSymbol, Side: string(models.SideBuy), Quantity: quantity, CorrelationID: string(models.RoleBuyCall)},
		{Symbol: bundle.SellPutSymbol, Side: string(models.SideSell), Price: bundle.SellPutPrice, Quantity: quantity, CorrelationID: string(models.RoleSellPut)},
		{Symbol: bundle.SellCallSymbol, Side: string(models.SideSell), Price: bundle.SellCallPrice, Quantity: quantity, CorrelationID: string(models.RoleSellCall)},
	}

	placed, err := d.broker.PlaceOrderBatch(ctx, client.ClientID, reqs)
	if err != nil {
		return fmt.Errorf("placing order batch: %w", err)
	}
	d.metrics.OrdersPlaced.WithLabelValues("deploy").Add(float64(len(placed)))

	for _, ack := range placed {
		leg := pos.Leg(models.LegRole(ack.CorrelationID))
		if leg == nil {
			d.logger.WithFields(logrus.Fields{
				"client":         client.ClientID,
				"correlation_id": ack.CorrelationID,
				"order_id":       ack.OrderID,
			}).Warn("deploy: acknowledgment for unknown leg")
			continue
		}
		leg.OrderID = ack.OrderID
		leg.Status = models.OrderStatusPending
	}

	if err := d.store.AddPosition(ctx, pos); err != nil {
		return fmt.Errorf("persisting position %s: %w", pos.ID, err)
	}

	d.metrics.PositionsDeployed.WithLabelValues(client.ClientID).Inc()
	d.logger.WithFields(logrus.Fields{
		"client":   client.ClientID,
		"position": pos.ID,
		"strike":   bundle.Strike,
		"quantity": quantity,
	}).Info("deployed iron fly")
	return nil
}
