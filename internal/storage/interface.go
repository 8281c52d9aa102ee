// Package storage provides the durable position ledger and the client
// eligibility tables backing the trading engine.
package storage

import (
	"context"

	"ironflybot/internal/models"
)

// ClientRecord describes a client eligible for deployment: active credentials
// and a non-zero iron-fly lot multiplier.
type ClientRecord struct {
	ClientID string
	Lots     int
}

// Interface defines the contract for position and client data persistence.
//
// Implementations must be safe for concurrent use, and UpdatePosition must
// persist the position row and all four legs in a single transaction so a
// reconciliation pass is atomic per position.
type Interface interface {
	// Position ledger
	AddPosition(ctx context.Context, pos *models.Position) error
	UpdatePosition(ctx context.Context, pos *models.Position) error
	GetPositionByID(ctx context.Context, id string) (*models.Position, error)
	GetPositionsByStatus(ctx context.Context, status models.PositionStatus) ([]models.Position, error)
	// GetNonClosedPositions returns every position for the client whose
	// status is not Closed, used for the duplicate-strike band check.
	GetNonClosedPositions(ctx context.Context, clientID string) ([]models.Position, error)

	// Client eligibility and broker lookups
	EligibleClients(ctx context.Context) ([]ClientRecord, error)
	ActiveClientCount(ctx context.Context) (int, error)
	AccessToken(ctx context.Context, clientID string) (string, error)
	InstrumentKey(ctx context.Context, tradingSymbol string) (string, error)

	Close() error
}

// NewStorage creates the default storage implementation (SQLite-backed).
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStorage(path)
}

// Ensure SQLiteStorage implements Interface.
var _ Interface = (*SQLiteStorage)(nil)
