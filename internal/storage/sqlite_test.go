package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ironflybot/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSymbols() map[models.LegRole]string {
	return map[models.LegRole]string{
		models.RoleBuyCall:  "NIFTY24SEP23350CE",
		models.RoleBuyPut:   "NIFTY24SEP22850PE",
		models.RoleSellCall: "NIFTY24SEP23100CE",
		models.RoleSellPut:  "NIFTY24SEP23100PE",
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	pos := models.NewPosition("pos-1", "CLIENT1", 23100, 75, testSymbols())
	pos.Legs[models.RoleSellCall].OrderID = "ord-1"
	pos.Legs[models.RoleSellCall].Status = models.OrderStatusPending

	if err := s.AddPosition(ctx, pos); err != nil {
		t.Fatalf("AddPosition failed: %v", err)
	}

	got, err := s.GetPositionByID(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPositionByID failed: %v", err)
	}
	if got.ClientID != "CLIENT1" || got.Strike != 23100 || got.Quantity != 75 {
		t.Errorf("loaded position mismatch: %+v", got)
	}
	if got.Status != models.StatusOpen || got.StopLossState != models.StopLossNone {
		t.Errorf("loaded state mismatch: status=%q sl=%q", got.Status, got.StopLossState)
	}
	if len(got.Legs) != 4 {
		t.Fatalf("expected 4 legs, got %d", len(got.Legs))
	}
	leg := got.Leg(models.RoleSellCall)
	if leg.OrderID != "ord-1" || leg.Status != models.OrderStatusPending {
		t.Errorf("loaded leg mismatch: %+v", leg)
	}
	if leg.LastSide != models.SideSell {
		t.Errorf("short leg LastSide = %q, want SELL", leg.LastSide)
	}
}

func TestGetPositionByIDNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetPositionByID(context.Background(), "nope")
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestUpdatePositionPersistsLegsAndState(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	pos := models.NewPosition("pos-1", "CLIENT1", 23100, 75, testSymbols())
	if err := s.AddPosition(ctx, pos); err != nil {
		t.Fatalf("AddPosition failed: %v", err)
	}

	for _, role := range models.LegRoles {
		pos.Legs[role].Status = models.OrderStatusComplete
		pos.Legs[role].FillPrice = 100
	}
	pos.ComputeDerived()
	if err := pos.TransitionStatus(models.StatusComplete); err != nil {
		t.Fatal(err)
	}
	pos.Legs[models.RoleSellCall].LastSide = models.SideBuy

	if err := s.UpdatePosition(ctx, pos); err != nil {
		t.Fatalf("UpdatePosition failed: %v", err)
	}

	got, err := s.GetPositionByID(ctx, "pos-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusComplete {
		t.Errorf("status = %q, want COMPLETE", got.Status)
	}
	if got.TotalCredit != pos.TotalCredit {
		t.Errorf("total credit = %v, want %v", got.TotalCredit, pos.TotalCredit)
	}
	if got.Leg(models.RoleSellCall).LastSide != models.SideBuy {
		t.Error("flipped LastSide should survive a round trip")
	}
}

func TestUpdateMissingPosition(t *testing.T) {
	s := newTestStorage(t)

	pos := models.NewPosition("ghost", "CLIENT1", 23100, 75, testSymbols())
	err := s.UpdatePosition(context.Background(), pos)
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestGetPositionsByStatusAndNonClosed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	open := models.NewPosition("p-open", "CLIENT1", 23100, 75, testSymbols())
	closed := models.NewPosition("p-closed", "CLIENT1", 22500, 75, testSymbols())
	closed.Status = models.StatusClosed
	other := models.NewPosition("p-other", "CLIENT2", 23100, 150, testSymbols())

	for _, p := range []*models.Position{open, closed, other} {
		if err := s.AddPosition(ctx, p); err != nil {
			t.Fatalf("AddPosition(%s) failed: %v", p.ID, err)
		}
	}

	openPositions, err := s.GetPositionsByStatus(ctx, models.StatusOpen)
	if err != nil {
		t.Fatal(err)
	}
	if len(openPositions) != 2 {
		t.Errorf("expected 2 open positions, got %d", len(openPositions))
	}

	nonClosed, err := s.GetNonClosedPositions(ctx, "CLIENT1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nonClosed) != 1 || nonClosed[0].ID != "p-open" {
		t.Errorf("expected only p-open for CLIENT1, got %+v", nonClosed)
	}
}

func TestClientLedger(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.UpsertClient(ctx, "CLIENT1", "token-1", true, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertClient(ctx, "CLIENT2", "token-2", true, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertClient(ctx, "CLIENT3", "token-3", false, 1); err != nil {
		t.Fatal(err)
	}

	clients, err := s.EligibleClients(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 || clients[0].ClientID != "CLIENT1" || clients[0].Lots != 2 {
		t.Errorf("eligible clients = %+v, want only CLIENT1 with 2 lots", clients)
	}

	count, err := s.ActiveClientCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("active client count = %d, want 2", count)
	}

	token, err := s.AccessToken(ctx, "CLIENT1")
	if err != nil || token != "token-1" {
		t.Errorf("AccessToken = %q, %v", token, err)
	}
	if _, err := s.AccessToken(ctx, "UNKNOWN"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("expected ErrCredentialsNotFound, got %v", err)
	}
}

func TestInstrumentLookup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.UpsertInstrument(ctx, "NIFTY24SEP23100CE", "NSE_FO|54321"); err != nil {
		t.Fatal(err)
	}

	key, err := s.InstrumentKey(ctx, "NIFTY24SEP23100CE")
	if err != nil || key != "NSE_FO|54321" {
		t.Errorf("InstrumentKey = %q, %v", key, err)
	}
	if _, err := s.InstrumentKey(ctx, "NIFTY24SEP99999CE"); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}
}
