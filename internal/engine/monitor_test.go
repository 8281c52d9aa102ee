package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ironflybot/internal/broker"
	"ironflybot/internal/models"
	"ironflybot/internal/retry"
)

func monitorQuotes(spot, ceLTP, peLTP float64) map[string]broker.Quote {
	return map[string]broker.Quote{
		"NIFTY":             {LTP: spot},
		"NIFTY24SEP23100CE": {LTP: ceLTP},
		"NIFTY24SEP23100PE": {LTP: peLTP},
	}
}

func matchCloseOrders(roles ...models.LegRole) any {
	return mock.MatchedBy(func(reqs []broker.OrderRequest) bool {
		if len(reqs) != len(roles) {
			return false
		}
		for i, role := range roles {
			if reqs[i].CorrelationID != string(role) {
				return false
			}
			// Closing orders go out at market.
			if reqs[i].Price != 0 {
				return false
			}
		}
		return true
	})
}

func closeAcks(roles ...models.LegRole) []broker.PlacedOrder {
	acks := make([]broker.PlacedOrder, 0, len(roles))
	for _, role := range roles {
		acks = append(acks, broker.PlacedOrder{CorrelationID: string(role), OrderID: "close-" + string(role)})
	}
	return acks
}

func TestMonitorCallStopLoss(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", []string{"NIFTY", "NIFTY24SEP23100CE", "NIFTY24SEP23100PE"}).
		Return(monitorQuotes(23100, 185, 100), nil)
	b.On("PlaceOrderBatch", mock.Anything, "CLIENT1",
		matchCloseOrders(models.RoleSellCall, models.RoleBuyCall)).
		Return(closeAcks(models.RoleSellCall, models.RoleBuyCall), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StopLossCallExited, got.StopLossState)
	require.Equal(t, models.StatusComplete, got.Status, "one-sided exit keeps the position alive")

	sellCE := got.Leg(models.RoleSellCall)
	require.Equal(t, models.SideBuy, sellCE.LastSide, "closing a short flips its direction")
	require.Equal(t, "close-sell_ce", sellCE.OrderID)
	b.AssertExpectations(t)
}

func TestMonitorBothSidesStopOutInOneTick(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(23100, 185, 170), nil)
	b.On("PlaceOrderBatch", mock.Anything, "CLIENT1",
		matchCloseOrders(models.RoleSellCall, models.RoleBuyCall)).
		Return(closeAcks(models.RoleSellCall, models.RoleBuyCall), nil)
	b.On("PlaceOrderBatch", mock.Anything, "CLIENT1",
		matchCloseOrders(models.RoleSellPut, models.RoleBuyPut)).
		Return(closeAcks(models.RoleSellPut, models.RoleBuyPut), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StopLossAllExited, got.StopLossState)
	require.Equal(t, models.StatusClosed, got.Status)
	b.AssertExpectations(t)
}

func TestMonitorAdjustmentClosesEverything(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(23250, 150, 30), nil) // spot above 23208.5, premiums inside stops
	b.On("PlaceOrderBatch", mock.Anything, "CLIENT1",
		matchCloseOrders(models.LegRoles...)).
		Return(closeAcks(models.LegRoles...), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.AdjustmentClosed, got.AdjustmentState)
	require.Equal(t, models.StatusClosed, got.Status)
	require.Equal(t, models.StopLossNone, got.StopLossState, "adjustment close is not a stop-loss exit")
	b.AssertExpectations(t)
}

func TestMonitorAdjustmentAfterOneSideExited(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	pos := completePosition(t, store, "pos-1", "CLIENT1")

	require.NoError(t, pos.AdvanceStopLoss(models.StopLossCallExited))
	require.NoError(t, store.UpdatePosition(ctx, pos))

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(22950, 10, 150), nil) // spot below 22991.5, put premium inside its stop
	b.On("PlaceOrderBatch", mock.Anything, "CLIENT1",
		matchCloseOrders(models.RoleSellPut, models.RoleBuyPut)).
		Return(closeAcks(models.RoleSellPut, models.RoleBuyPut), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.AdjustmentClosed, got.AdjustmentState)
	require.Equal(t, models.StatusClosed, got.Status)
	b.AssertExpectations(t)
}

func TestMonitorAllExitedClosesWithoutOrders(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	pos := completePosition(t, store, "pos-1", "CLIENT1")

	require.NoError(t, pos.AdvanceStopLoss(models.StopLossAllExited))
	require.NoError(t, store.UpdatePosition(ctx, pos))

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(23250, 10, 10), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusClosed, got.Status)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitorMissingUnderlyingQuoteDefersAdjustment(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	// The quote fetch came back without the index. A zero spot must not read
	// as a band breach.
	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(map[string]broker.Quote{
			"NIFTY24SEP23100CE": {LTP: 100},
			"NIFTY24SEP23100PE": {LTP: 90},
		}, nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
	require.Equal(t, models.AdjustmentOpen, got.AdjustmentState)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitorMissingShortLegQuotesDeferStops(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(map[string]broker.Quote{"NIFTY": {LTP: 23100}}, nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
	require.Equal(t, models.StopLossNone, got.StopLossState)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitorThresholdTouchDoesNotTrigger(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	// Prices exactly at the thresholds: LTPs at both stop levels and spot on
	// the upper band edge. Only a strict breach may close legs.
	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(23208.5, 180, 165), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
	require.Equal(t, models.StopLossNone, got.StopLossState)
	require.Equal(t, models.AdjustmentOpen, got.AdjustmentState)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitorLowerBandTouchDoesNotTrigger(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(22991.5, 100, 90), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.AdjustmentOpen, got.AdjustmentState)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitorNoBreachLeavesPositionUntouched(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	completePosition(t, store, "pos-1", "CLIENT1")

	b := new(broker.MockBroker)
	b.On("GetQuotes", mock.Anything, "CLIENT1", mock.Anything).
		Return(monitorQuotes(23100, 100, 90), nil)

	m := NewRiskMonitor(store, b, retry.NewClient(b, testLogger()), testLogger(), testMetrics(), "NIFTY")
	require.NoError(t, m.Run(ctx))

	got, err := store.GetPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusComplete, got.Status)
	require.Equal(t, models.StopLossNone, got.StopLossState)
	require.Equal(t, models.AdjustmentOpen, got.AdjustmentState)
	b.AssertNotCalled(t, "PlaceOrderBatch", mock.Anything, mock.Anything, mock.Anything)
}
