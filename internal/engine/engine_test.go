package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/metrics"
	"ironflybot/internal/models"
	"ironflybot/internal/storage"
)

// Shared fixtures for the engine tests. Storage is a real SQLite database in a
// temp dir; the brokerage is mocked.

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testMetrics() *metrics.Metrics {
	return metrics.NewUnregistered()
}

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("opening test storage: %v", err)
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

// completePosition builds a persisted COMPLETE position with derived risk
// thresholds.
func completePosition(t *testing.T, store *storage.SQLiteStorage, id, clientID string) *models.Position {
	t.Helper()
	pos := models.NewPosition(id, clientID, 23100, 75, testSymbols())
	fills := map[models.LegRole]float64{
		models.RoleSellCall: 120,
		models.RoleSellPut:  110,
		models.RoleBuyCall:  40,
		models.RoleBuyPut:   35,
	}
	for role, price := range fills {
		leg := pos.Leg(role)
		leg.OrderID = "ord-" + string(role)
		leg.Status = models.OrderStatusComplete
		leg.FillPrice = price
	}
	pos.ComputeDerived()
	if err := pos.TransitionStatus(models.StatusComplete); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPosition(context.Background(), pos); err != nil {
		t.Fatalf("seeding position: %v", err)
	}
	return pos
}
