package listing

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// listingColumns is the SELECT column list for listings.
const listingColumns = `id, inventory_item_id, owner_id, status, is_free,
	trade_id, listed_at, updated_at, closed_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, inventory_item_id, owner_id, status, is_free,
			trade_id, listed_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.InventoryItemID, l.OwnerID, string(l.Status), l.IsFree,
		nullStr(l.TradeID), l.ListedAt, l.UpdatedAt, nullTime(l.ClosedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) GetActiveByItem(ctx context.Context, itemID string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE inventory_item_id = $1 AND status IN ('active', 'on_hold')
		LIMIT 1`, itemID)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = 'active'
		ORDER BY listed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1
		ORDER BY listed_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, from, to Status, tradeID string) error {
	var closed interface{}
	if to == StatusCompleted || to == StatusCancelled {
		closed = time.Now().UTC()
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			status = $1, trade_id = $2, updated_at = NOW(), closed_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), nullStr(tradeID), closed, id, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrBadState
	}
	return nil
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	var (
		tradeID  sql.NullString
		closedAt sql.NullTime
		status   string
	)

	err := sc.Scan(
		&l.ID, &l.InventoryItemID, &l.OwnerID, &status, &l.IsFree,
		&tradeID, &l.ListedAt, &l.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	l.TradeID = tradeID.String
	if closedAt.Valid {
		t := closedAt.Time
		l.ClosedAt = &t
	}
	return l, nil
}

func scanListings(rows *sql.Rows) ([]*Listing, error) {
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
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
