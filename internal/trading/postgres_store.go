package trading

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/mdade/swapvault/internal/pagination"
)

// PostgresStore persists trades in PostgreSQL.
//
// UpdateTrade conditions every write on the expected current status, so the
// dual-lock completion decision and the sweeper's Accepted→Expired
// transition stay race-safe even across multiple server processes.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed trade store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// tradeColumns is the SELECT column list for trade requests.
const tradeColumns = `id, listing_id, listed_item_id, owner_id, requester_id,
	offered_item_ids, status, owner_locked, requester_locked,
	requested_at, responded_at, locked_at, lock_window_expires_at, updated_at`

// historyColumns is the SELECT column list for trade history.
const historyColumns = `id, trade_id, listing_id, listed_item_id, owner_id,
	requester_id, offered_item_ids, final_status, completed_at`

func (p *PostgresStore) CreateTrade(ctx context.Context, t *TradeRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trade_requests (
			id, listing_id, listed_item_id, owner_id, requester_id,
			offered_item_ids, status, owner_locked, requester_locked,
			requested_at, responded_at, locked_at, lock_window_expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.ListingID, t.ListedItemID, t.OwnerID, t.RequesterID,
		pq.Array(t.OfferedItemIDs), string(t.Status), t.OwnerLocked, t.RequesterLocked,
		t.RequestedAt, nullTime(t.RespondedAt), nullTime(t.LockedAt),
		nullTime(t.LockWindowExpiresAt), t.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicatePending
	}
	return err
}

func (p *PostgresStore) GetTrade(ctx context.Context, id string) (*TradeRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trade_requests WHERE id = $1`, id)

	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	return t, err
}

func (p *PostgresStore) UpdateTrade(ctx context.Context, t *TradeRequest, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trade_requests SET
			status = $1, owner_locked = $2, requester_locked = $3,
			responded_at = $4, locked_at = $5, lock_window_expires_at = $6,
			updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(t.Status), t.OwnerLocked, t.RequesterLocked,
		nullTime(t.RespondedAt), nullTime(t.LockedAt), nullTime(t.LockWindowExpiresAt),
		t.UpdatedAt, t.ID, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.GetTrade(ctx, t.ID); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

func (p *PostgresStore) FindPending(ctx context.Context, listingID, requesterID string) (*TradeRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+tradeColumns+` FROM trade_requests
		WHERE listing_id = $1 AND requester_id = $2 AND status = 'pending'
		LIMIT 1`, listingID, requesterID)

	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*TradeRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trade_requests
		WHERE listing_id = $1
		ORDER BY requested_at DESC LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (p *PostgresStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TradeRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trade_requests
		WHERE requester_id = $1
		ORDER BY requested_at DESC LIMIT $2`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (p *PostgresStore) ListExpiredAccepted(ctx context.Context, before time.Time, limit int) ([]*TradeRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trade_requests
		WHERE status = 'accepted' AND lock_window_expires_at < $1
		ORDER BY lock_window_expires_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (p *PostgresStore) AppendHistory(ctx context.Context, h *TradeHistory) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trade_history (
			id, trade_id, listing_id, listed_item_id, owner_id,
			requester_id, offered_item_ids, final_status, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.TradeID, h.ListingID, h.ListedItemID, h.OwnerID,
		h.RequesterID, pq.Array(h.OfferedItemIDs), string(h.FinalStatus), h.CompletedAt,
	)
	return err
}

// ListHistory returns up to limit+1 records so the caller can detect a next
// page, newest first.
func (p *PostgresStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]*TradeHistory, error) {
	cursor, err := pagination.Decode(filter.Cursor)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + historyColumns + ` FROM trade_history WHERE 1=1`
	var args []interface{}

	if filter.ListingID != "" {
		args = append(args, filter.ListingID)
		query += ` AND listing_id = $` + itoa(len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		n := itoa(len(args))
		query += ` AND (owner_id = $` + n + ` OR requester_id = $` + n + `)`
	}
	if filter.FinalStatus != "" {
		args = append(args, string(filter.FinalStatus))
		query += ` AND final_status = $` + itoa(len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt)
		tsArg := itoa(len(args))
		args = append(args, cursor.ID)
		idArg := itoa(len(args))
		query += ` AND (completed_at < $` + tsArg + ` OR (completed_at = $` + tsArg + ` AND id < $` + idArg + `))`
	}

	args = append(args, filter.Limit+1)
	query += ` ORDER BY completed_at DESC, id DESC LIMIT $` + itoa(len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*TradeHistory
	for rows.Next() {
		h := &TradeHistory{}
		var finalStatus string
		err := rows.Scan(
			&h.ID, &h.TradeID, &h.ListingID, &h.ListedItemID, &h.OwnerID,
			&h.RequesterID, pq.Array(&h.OfferedItemIDs), &finalStatus, &h.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		h.FinalStatus = Status(finalStatus)
		result = append(result, h)
	}
	return result, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(sc scanner) (*TradeRequest, error) {
	t := &TradeRequest{}
	var (
		respondedAt sql.NullTime
		lockedAt    sql.NullTime
		expiresAt   sql.NullTime
		status      string
	)

	err := sc.Scan(
		&t.ID, &t.ListingID, &t.ListedItemID, &t.OwnerID, &t.RequesterID,
		pq.Array(&t.OfferedItemIDs), &status, &t.OwnerLocked, &t.RequesterLocked,
		&t.RequestedAt, &respondedAt, &lockedAt, &expiresAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if respondedAt.Valid {
		v := respondedAt.Time
		t.RespondedAt = &v
	}
	if lockedAt.Valid {
		v := lockedAt.Time
		t.LockedAt = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		t.LockWindowExpiresAt = &v
	}
	return t, nil
}

func scanTrades(rows *sql.Rows) ([]*TradeRequest, error) {
	var result []*TradeRequest
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
