package inventory

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists inventory items in PostgreSQL.
//
// Hold, release, and transfer are single conditional UPDATEs: the WHERE
// clause carries the expected status/owner/holder, so of two racing callers
// exactly one sees RowsAffected == 1. The loser re-reads the row to classify
// what it lost to.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed inventory store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// itemColumns is the SELECT column list for inventory items.
const itemColumns = `id, owner_id, name, rarity, status,
	locked_by_trade_id, hold_until, last_trade_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, item *Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, owner_id, name, rarity, status,
			locked_by_trade_id, hold_until, last_trade_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.OwnerID, item.Name, nullStr(item.Rarity), string(item.Status),
		nullStr(item.LockedByTradeID), nullTime(item.HoldUntil), nullStr(item.LastTradeID),
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Item, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	return item, err
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Item, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM inventory_items
		WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (p *PostgresStore) TryHold(ctx context.Context, itemID, ownerID, tradeID string, until time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE inventory_items SET
			status = 'on_hold', locked_by_trade_id = $1, hold_until = $2, updated_at = NOW()
		WHERE id = $3 AND owner_id = $4 AND status = 'available'`,
		tradeID, until, itemID, ownerID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	return p.classifyHoldFailure(ctx, itemID, ownerID)
}

// classifyHoldFailure re-reads an item after a lost conditional update to
// report which precondition failed.
func (p *PostgresStore) classifyHoldFailure(ctx context.Context, itemID, ownerID string) error {
	item, err := p.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != ownerID {
		return ErrNotOwned
	}
	if item.Status == StatusOnHold {
		return ErrHoldConflict
	}
	return ErrNotAvailable
}

func (p *PostgresStore) Release(ctx context.Context, itemID, tradeID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE inventory_items SET
			status = 'available', locked_by_trade_id = NULL, hold_until = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'on_hold' AND locked_by_trade_id = $2`,
		itemID, tradeID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	item, err := p.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != StatusOnHold {
		// Already released; tolerate retries.
		return nil
	}
	return ErrNotHeld
}

func (p *PostgresStore) Transfer(ctx context.Context, itemID, fromOwnerID, toOwnerID, tradeID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE inventory_items SET
			owner_id = $1, status = 'available',
			locked_by_trade_id = NULL, hold_until = NULL,
			last_trade_id = $2, updated_at = NOW()
		WHERE id = $3 AND owner_id = $4 AND status = 'on_hold' AND locked_by_trade_id = $2`,
		toOwnerID, tradeID, itemID, fromOwnerID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrHoldConflict
	}
	return nil
}

func (p *PostgresStore) ListStaleHolds(ctx context.Context, before time.Time, limit int) ([]*Item, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM inventory_items
		WHERE status = 'on_hold' AND hold_until < $1
		ORDER BY hold_until ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(sc scanner) (*Item, error) {
	item := &Item{}
	var (
		rarity      sql.NullString
		lockedBy    sql.NullString
		holdUntil   sql.NullTime
		lastTradeID sql.NullString
		status      string
	)

	err := sc.Scan(
		&item.ID, &item.OwnerID, &item.Name, &rarity, &status,
		&lockedBy, &holdUntil, &lastTradeID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Rarity = rarity.String
	item.Status = Status(status)
	item.LockedByTradeID = lockedBy.String
	if holdUntil.Valid {
		t := holdUntil.Time
		item.HoldUntil = &t
	}
	item.LastTradeID = lastTradeID.String
	return item, nil
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	var result []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
