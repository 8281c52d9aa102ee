package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/broker"
	"ironflybot/internal/metrics"
	"ironflybot/internal/models"
	"ironflybot/internal/retry"
	"ironflybot/internal/storage"
)

// RiskMonitor watches COMPLETE positions for stop-loss and adjustment-band
// breaches and flattens the affected legs. Closing orders go through the
// retrying client so one transient brokerage error does not strand a breached
// position.
type RiskMonitor struct {
	store      storage.Interface
	broker     broker.Broker
	orders     *retry.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	underlying string
}

// NewRiskMonitor creates a RiskMonitor quoting the given underlying index.
func NewRiskMonitor(store storage.Interface, b broker.Broker, orders *retry.Client, logger *logrus.Logger, m *metrics.Metrics, underlying string) *RiskMonitor {
	return &RiskMonitor{
		store:      store,
		broker:     b,
		orders:     orders,
		logger:     logger,
		metrics:    m,
		underlying: underlying,
	}
}

// Run evaluates every COMPLETE position. Quotes are fetched in one batch per
// client covering the index and all short leg symbols. A failed quote fetch
// skips the client until the next tick.
func (r *RiskMonitor) Run(ctx context.Context) error {
	positions, err := r.store.GetPositionsByStatus(ctx, models.StatusComplete)
	if err != nil {
		return fmt.Errorf("loading complete positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	byClient := make(map[string][]*models.Position)
	for i := range positions {
		pos := &positions[i]
		byClient[pos.ClientID] = append(byClient[pos.ClientID], pos)
	}

	for clientID, clientPositions := range byClient {
		symbols := []string{r.underlying}
		seen := map[string]bool{r.underlying: true}
		for _, pos := range clientPositions {
			for _, role := range []models.LegRole{models.RoleSellCall, models.RoleSellPut} {
				if leg := pos.Leg(role); leg != nil && !seen[leg.Symbol] {
					seen[leg.Symbol] = true
					symbols = append(symbols, leg.Symbol)
				}
			}
		}

		quotes, err := r.broker.GetQuotes(ctx, clientID, symbols...)
		if err != nil {
			r.logger.WithField("client", clientID).WithError(err).Warn("risk: quote fetch failed, skipping client")
			continue
		}

		for _, pos := range clientPositions {
			if err := r.evaluate(ctx, pos, quotes); err != nil {
				r.logger.WithFields(logrus.Fields{
					"client":   clientID,
					"position": pos.ID,
				}).WithError(err).Error("risk: evaluation failed")
			}
		}
	}
	return nil
}

// evaluate checks one position's stop-loss thresholds and adjustment band.
// The call side is checked before the put side; both may fire in the same
// tick, after which the position is fully exited. A threshold fires only on a
// strict breach, and a missing or empty quote defers the check to the next
// tick rather than triggering it.
func (r *RiskMonitor) evaluate(ctx context.Context, pos *models.Position, quotes map[string]broker.Quote) error {
	changed := false

	if !pos.StopLossState.CallExited() {
		switch ltp, ok := legQuote(quotes, pos, models.RoleSellCall); {
		case !ok:
			r.logger.WithField("position", pos.ID).Warn("risk: short call quote missing, stop check deferred")
		case ltp > pos.HighStopLoss:
			if err := r.exitSide(ctx, pos, models.OptionCall, ltp); err != nil {
				return err
			}
			changed = true
		}
	}
	if !pos.StopLossState.PutExited() {
		switch ltp, ok := legQuote(quotes, pos, models.RoleSellPut); {
		case !ok:
			r.logger.WithField("position", pos.ID).Warn("risk: short put quote missing, stop check deferred")
		case ltp > pos.LowStopLoss:
			if err := r.exitSide(ctx, pos, models.OptionPut, ltp); err != nil {
				return err
			}
			changed = true
		}
	}
	if pos.StopLossState == models.StopLossAllExited && pos.Status != models.StatusClosed {
		if err := pos.TransitionStatus(models.StatusClosed); err != nil {
			return err
		}
		changed = true
		r.logger.WithField("position", pos.ID).Info("risk: both sides stopped out, position closed")
	}

	if pos.AdjustmentState == models.AdjustmentOpen && pos.Status != models.StatusClosed {
		switch spot, ok := quotes[r.underlying]; {
		case !ok || spot.LTP <= 0:
			r.logger.WithField("position", pos.ID).Warn("risk: underlying quote missing, adjustment check deferred")
		case spot.LTP > pos.HighAdjustment || spot.LTP < pos.LowAdjustment:
			if err := r.closeByAdjustment(ctx, pos, spot.LTP); err != nil {
				return err
			}
			changed = true
		}
	}

	if !changed {
		return nil
	}
	pos.Touch()
	return r.store.UpdatePosition(ctx, pos)
}

// exitSide closes the short and wing legs of one option side after its
// stop-loss threshold was breached.
func (r *RiskMonitor) exitSide(ctx context.Context, pos *models.Position, opt models.OptionType, ltp float64) error {
	roles := pairRoles(opt)
	if err := r.closeLegs(ctx, pos, roles); err != nil {
		return fmt.Errorf("closing %s pair: %w", opt, err)
	}
	if err := pos.ExitSide(opt); err != nil {
		return err
	}
	r.metrics.StopLossExits.WithLabelValues(string(opt)).Inc()
	r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"side":     string(opt),
		"ltp":      ltp,
	}).Warn("risk: stop loss hit, side exited")
	return nil
}

// closeByAdjustment flattens whatever is still open after the underlying
// breached the adjustment band, then closes the position. Sides already gone
// through stop-loss exits are not re-ordered.
func (r *RiskMonitor) closeByAdjustment(ctx context.Context, pos *models.Position, spot float64) error {
	var roles []models.LegRole
	switch {
	case pos.StopLossState.CallExited():
		roles = pairRoles(models.OptionPut)
	case pos.StopLossState.PutExited():
		roles = pairRoles(models.OptionCall)
	default:
		roles = models.LegRoles
	}
	if err := r.closeLegs(ctx, pos, roles); err != nil {
		return fmt.Errorf("closing for adjustment: %w", err)
	}

	pos.AdjustmentState = models.AdjustmentClosed
	if pos.Status != models.StatusClosed {
		if err := pos.TransitionStatus(models.StatusClosed); err != nil {
			return err
		}
	}
	r.metrics.AdjustmentCloses.Inc()
	r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"spot":     spot,
		"high":     pos.HighAdjustment,
		"low":      pos.LowAdjustment,
	}).Warn("risk: adjustment band breached, position closed")
	return nil
}

// closeLegs submits market orders reversing each leg's last direction, then
// records the new order ids and flips the persisted direction.
func (r *RiskMonitor) closeLegs(ctx context.Context, pos *models.Position, roles []models.LegRole) error {
	reqs := make([]broker.OrderRequest, 0, len(roles))
	for _, role := range roles {
		leg := pos.Leg(role)
		if leg == nil {
			continue
		}
		reqs = append(reqs, broker.OrderRequest{
			Symbol:        leg.Symbol,
			Side:          string(leg.CloseSide()),
			Quantity:      pos.Quantity,
			CorrelationID: string(role),
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	placed, err := r.orders.PlaceOrderBatchWithRetry(ctx, pos.ClientID, reqs)
	if err != nil {
		return err
	}
	r.metrics.OrdersPlaced.WithLabelValues("close").Add(float64(len(placed)))

	for _, ack := range placed {
		leg := pos.Leg(models.LegRole(ack.CorrelationID))
		if leg == nil {
			continue
		}
		leg.LastSide = leg.CloseSide()
		leg.OrderID = ack.OrderID
		leg.Status = models.OrderStatusPending
		leg.Message = ""
	}
	return nil
}

// legQuote returns the last traded price of one short leg. It reports false
// when the quote is absent or non-positive so a partial quote map reads as
// not-yet-updated instead of breaching a threshold.
func legQuote(quotes map[string]broker.Quote, pos *models.Position, role models.LegRole) (float64, bool) {
	leg := pos.Leg(role)
	if leg == nil {
		return 0, false
	}
	q, ok := quotes[leg.Symbol]
	if !ok || q.LTP <= 0 {
		return 0, false
	}
	return q.LTP, true
}

// pairRoles returns the short and wing legs for one option side.
func pairRoles(opt models.OptionType) []models.LegRole {
	if opt == models.OptionCall {
		return []models.LegRole{models.RoleSellCall, models.RoleBuyCall}
	}
	return []models.LegRole{models.RoleSellPut, models.RoleBuyPut}
}
