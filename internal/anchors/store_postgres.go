package anchors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"custodia/internal/document"
	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists anchor rows. The (entity_id, network) unique
// constraint enforces at most one anchor per network at the storage level.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const anchorColumns = `id, entity_id, network, witness_hash, txid, status, attempts,
	max_attempts, next_attempt_at, ots_proof, calendar_url, block_number, block_hash,
	block_time, confirmed_at, last_error, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, anchor *Anchor) error {
	createdAt := anchor.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anchors
			(id, entity_id, network, witness_hash, txid, status, attempts,
			 max_attempts, next_attempt_at, ots_proof, calendar_url, block_number,
			 block_hash, block_time, confirmed_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())`,
		anchor.ID, anchor.EntityID, anchor.Network, anchor.WitnessHash,
		nullString(anchor.TxID), anchor.Status, anchor.Attempts, anchor.MaxAttempts,
		anchor.NextCheckAt, anchor.Proof, nullString(anchor.CalendarURL),
		anchor.BlockNumber, nullString(anchor.BlockHash), anchor.BlockTime,
		anchor.ConfirmedAt, nullString(anchor.LastError), createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create anchor: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, entityID string, network document.Network) (*Anchor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+anchorColumns+`
		FROM anchors
		WHERE entity_id = $1 AND network = $2`, entityID, network)
	anchor, err := scanAnchor(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	return anchor, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, network document.Network, now time.Time, limit int) ([]*Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+anchorColumns+`
		FROM anchors
		WHERE network = $1
		  AND status IN ('pending', 'processing')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at
		LIMIT $3`, network, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due anchors: %w", err)
	}
	defer rows.Close()

	var due []*Anchor
	for rows.Next() {
		anchor, err := scanAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		due = append(due, anchor)
	}
	return due, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, anchor *Anchor) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anchors
		SET txid = $3, status = $4, attempts = $5, next_attempt_at = $6,
		    ots_proof = $7, block_number = $8, block_hash = $9, block_time = $10,
		    confirmed_at = $11, last_error = $12, calendar_url = $13, updated_at = NOW()
		WHERE entity_id = $1 AND network = $2`,
		anchor.EntityID, anchor.Network, nullString(anchor.TxID), anchor.Status,
		anchor.Attempts, anchor.NextCheckAt, anchor.Proof, anchor.BlockNumber,
		nullString(anchor.BlockHash), anchor.BlockTime, anchor.ConfirmedAt,
		nullString(anchor.LastError), nullString(anchor.CalendarURL))
	if err != nil {
		return fmt.Errorf("update anchor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnchor(row rowScanner) (*Anchor, error) {
	var anchor Anchor
	var txid, blockHash, lastError, calendarURL sql.NullString
	var blockNumber sql.NullInt64
	var nextCheckAt, blockTime, confirmedAt sql.NullTime
	err := row.Scan(&anchor.ID, &anchor.EntityID, &anchor.Network, &anchor.WitnessHash,
		&txid, &anchor.Status, &anchor.Attempts, &anchor.MaxAttempts, &nextCheckAt,
		&anchor.Proof, &calendarURL, &blockNumber, &blockHash, &blockTime, &confirmedAt,
		&lastError, &anchor.CreatedAt, &anchor.UpdatedAt)
	if err != nil {
		return nil, err
	}
	anchor.CalendarURL = calendarURL.String
	anchor.TxID = txid.String
	anchor.BlockHash = blockHash.String
	anchor.LastError = lastError.String
	if blockNumber.Valid {
		n := blockNumber.Int64
		anchor.BlockNumber = &n
	}
	if nextCheckAt.Valid {
		anchor.NextCheckAt = &nextCheckAt.Time
	}
	if blockTime.Valid {
		anchor.BlockTime = &blockTime.Time
	}
	if confirmedAt.Valid {
		anchor.ConfirmedAt = &confirmedAt.Time
	}
	return &anchor, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
