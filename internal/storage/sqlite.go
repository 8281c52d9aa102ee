package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ironflybot/internal/models"
)

// SQLiteStorage persists positions, legs, and the client ledger in SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and ensures the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The engine is a single cooperative loop; one connection keeps SQLite
	// writes serialized without busy-timeout churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			strike INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			total_credit REAL NOT NULL DEFAULT 0,
			high_adjustment REAL NOT NULL DEFAULT 0,
			low_adjustment REAL NOT NULL DEFAULT 0,
			high_stop_loss REAL NOT NULL DEFAULT 0,
			low_stop_loss REAL NOT NULL DEFAULT 0,
			stop_loss_state TEXT NOT NULL,
			adjustment_state TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_client ON positions(client_id, status);`,
		`CREATE TABLE IF NOT EXISTS legs (
			position_id TEXT NOT NULL,
			role TEXT NOT NULL,
			symbol TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			fill_price REAL NOT NULL DEFAULT 0,
			last_side TEXT NOT NULL,
			PRIMARY KEY (position_id, role),
			FOREIGN KEY (position_id) REFERENCES positions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS credentials (
			client_id TEXT PRIMARY KEY,
			is_active INTEGER NOT NULL DEFAULT 0,
			access_token TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS strategies (
			client_id TEXT PRIMARY KEY,
			iron_fly INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (client_id) REFERENCES credentials(client_id)
		);`,
		`CREATE TABLE IF NOT EXISTS instruments (
			trading_symbol TEXT PRIMARY KEY,
			instrument_key TEXT NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", q, err)
		}
	}
	return nil
}

// AddPosition inserts a new position and its four legs in one transaction.
// Either the whole position is stored or nothing is.
func (s *SQLiteStorage) AddPosition(ctx context.Context, pos *models.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO positions (id, client_id, strike, quantity, total_credit,
			high_adjustment, low_adjustment, high_stop_loss, low_stop_loss,
			stop_loss_state, adjustment_state, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.ClientID, pos.Strike, pos.Quantity, pos.TotalCredit,
		pos.HighAdjustment, pos.LowAdjustment, pos.HighStopLoss, pos.LowStopLoss,
		string(pos.StopLossState), string(pos.AdjustmentState), string(pos.Status),
		pos.CreatedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", pos.ID, err)
	}

	if err := upsertLegs(ctx, tx, pos); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePosition writes the position row and all legs atomically.
func (s *SQLiteStorage) UpdatePosition(ctx context.Context, pos *models.Position) error {
	pos.Touch()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE positions SET client_id = ?, strike = ?, quantity = ?, total_credit = ?,
			high_adjustment = ?, low_adjustment = ?, high_stop_loss = ?, low_stop_loss = ?,
			stop_loss_state = ?, adjustment_state = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		pos.ClientID, pos.Strike, pos.Quantity, pos.TotalCredit,
		pos.HighAdjustment, pos.LowAdjustment, pos.HighStopLoss, pos.LowStopLoss,
		string(pos.StopLossState), string(pos.AdjustmentState), string(pos.Status),
		pos.UpdatedAt, pos.ID)
	if err != nil {
		return fmt.Errorf("update position %s: %w", pos.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update position %s: %w", pos.ID, ErrPositionNotFound)
	}

	if err := upsertLegs(ctx, tx, pos); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertLegs(ctx context.Context, tx *sql.Tx, pos *models.Position) error {
	for _, role := range models.LegRoles {
		leg := pos.Leg(role)
		if leg == nil {
			return fmt.Errorf("position %s: missing %s leg", pos.ID, role)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO legs (position_id, role, symbol, order_id, status, message, fill_price, last_side)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(position_id, role) DO UPDATE SET
				symbol = excluded.symbol,
				order_id = excluded.order_id,
				status = excluded.status,
				message = excluded.message,
				fill_price = excluded.fill_price,
				last_side = excluded.last_side`,
			pos.ID, string(role), leg.Symbol, leg.OrderID, string(leg.Status),
			leg.Message, leg.FillPrice, string(leg.LastSide))
		if err != nil {
			return fmt.Errorf("upsert leg %s/%s: %w", pos.ID, role, err)
		}
	}
	return nil
}

const positionColumns = `id, client_id, strike, quantity, total_credit,
	high_adjustment, low_adjustment, high_stop_loss, low_stop_loss,
	stop_loss_state, adjustment_state, status, created_at, updated_at`

// GetPositionByID loads a single position with its legs.
func (s *SQLiteStorage) GetPositionByID(ctx context.Context, id string) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	if err := s.loadLegs(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// GetPositionsByStatus returns all positions in the given lifecycle state,
// oldest first.
func (s *SQLiteStorage) GetPositionsByStatus(ctx context.Context, status models.PositionStatus) ([]models.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY created_at`,
		string(status))
}

// GetNonClosedPositions returns every position for the client that has not
// reached the terminal Closed status.
func (s *SQLiteStorage) GetNonClosedPositions(ctx context.Context, clientID string) ([]models.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE client_id = ? AND status != ? ORDER BY created_at`,
		clientID, string(models.StatusClosed))
}

func (s *SQLiteStorage) queryPositions(ctx context.Context, query string, args ...any) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	for i := range positions {
		if err := s.loadLegs(ctx, &positions[i]); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (*models.Position, error) {
	var (
		pos                       models.Position
		slState, adjState, status string
		createdAt, updatedAt      time.Time
	)
	err := r.Scan(&pos.ID, &pos.ClientID, &pos.Strike, &pos.Quantity, &pos.TotalCredit,
		&pos.HighAdjustment, &pos.LowAdjustment, &pos.HighStopLoss, &pos.LowStopLoss,
		&slState, &adjState, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	pos.StopLossState = models.StopLossState(slState)
	pos.AdjustmentState = models.AdjustmentState(adjState)
	pos.Status = models.PositionStatus(status)
	pos.CreatedAt = createdAt
	pos.UpdatedAt = updatedAt
	pos.Legs = make(map[models.LegRole]*models.Leg, len(models.LegRoles))
	return &pos, nil
}

func (s *SQLiteStorage) loadLegs(ctx context.Context, pos *models.Position) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, symbol, order_id, status, message, fill_price, last_side
		 FROM legs WHERE position_id = ?`, pos.ID)
	if err != nil {
		return fmt.Errorf("query legs for %s: %w", pos.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			leg                    models.Leg
			role, status, lastSide string
		)
		if err := rows.Scan(&role, &leg.Symbol, &leg.OrderID, &status, &leg.Message,
			&leg.FillPrice, &lastSide); err != nil {
			return fmt.Errorf("scan leg for %s: %w", pos.ID, err)
		}
		leg.Role = models.LegRole(role)
		leg.Status = models.OrderStatus(status)
		leg.LastSide = models.TransactionSide(lastSide)
		l := leg
		pos.Legs[leg.Role] = &l
	}
	return rows.Err()
}

// EligibleClients returns clients with active credentials and a non-zero
// iron-fly lot multiplier, ordered by client id for determinism.
func (s *SQLiteStorage) EligibleClients(ctx context.Context) ([]ClientRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.client_id, s.iron_fly
		 FROM strategies s
		 JOIN credentials c ON c.client_id = s.client_id
		 WHERE c.is_active = 1 AND s.iron_fly != 0
		 ORDER BY s.client_id`)
	if err != nil {
		return nil, fmt.Errorf("query eligible clients: %w", err)
	}
	defer rows.Close()

	var clients []ClientRecord
	for rows.Next() {
		var c ClientRecord
		if err := rows.Scan(&c.ClientID, &c.Lots); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ActiveClientCount returns how many clients currently hold active credentials.
func (s *SQLiteStorage) ActiveClientCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE is_active = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active clients: %w", err)
	}
	return n, nil
}

// AccessToken returns the stored access token for a client. Token acquisition
// and refresh happen outside this process; the engine only reads.
func (s *SQLiteStorage) AccessToken(ctx context.Context, clientID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token FROM credentials WHERE client_id = ?`, clientID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("client %s: %w", clientID, ErrCredentialsNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query access token for %s: %w", clientID, err)
	}
	return token, nil
}

// InstrumentKey resolves a trading symbol to its broker instrument key.
func (s *SQLiteStorage) InstrumentKey(ctx context.Context, tradingSymbol string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT instrument_key FROM instruments WHERE trading_symbol = ?`, tradingSymbol).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("symbol %s: %w", tradingSymbol, ErrInstrumentNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query instrument key for %s: %w", tradingSymbol, err)
	}
	return key, nil
}

// UpsertClient inserts or updates a client's credential and strategy rows.
// Used by provisioning scripts and tests; the trading loop itself never writes here.
func (s *SQLiteStorage) UpsertClient(ctx context.Context, clientID, accessToken string, active bool, lots int) error {
	isActive := 0
	if active {
		isActive = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (client_id, is_active, access_token) VALUES (?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET is_active = excluded.is_active, access_token = excluded.access_token`,
		clientID, isActive, accessToken); err != nil {
		return fmt.Errorf("upsert credentials for %s: %w", clientID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO strategies (client_id, iron_fly) VALUES (?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET iron_fly = excluded.iron_fly`,
		clientID, lots); err != nil {
		return fmt.Errorf("upsert strategy for %s: %w", clientID, err)
	}
	return nil
}

// UpsertInstrument records a trading symbol to instrument key mapping.
func (s *SQLiteStorage) UpsertInstrument(ctx context.Context, tradingSymbol, instrumentKey string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instruments (trading_symbol, instrument_key) VALUES (?, ?)
		 ON CONFLICT(trading_symbol) DO UPDATE SET instrument_key = excluded.instrument_key`,
		tradingSymbol, instrumentKey)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", tradingSymbol, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
