package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists entities and their event log. Events live in their
// own table with a per-entity sequence so the log is append-only at the
// storage level, not just by convention.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateEntity(ctx context.Context, entity Entity) error {
	createdAt := entity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_entities (id, witness_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, entity.ID, entity.WitnessHash, createdAt)
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	var entity Entity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, witness_hash, created_at
		FROM document_entities
		WHERE id = $1
	`, entityID).Scan(&entity.ID, &entity.WitnessHash, &entity.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	events, err := s.Read(ctx, entityID)
	if err != nil {
		return nil, err
	}
	entity.Events = events
	return &entity, nil
}

func (s *PostgresStore) Append(ctx context.Context, entityID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_events (entity_id, seq, kind, at, payload)
		SELECT $1,
		       COALESCE((SELECT MAX(seq) FROM document_events WHERE entity_id = $1), 0) + 1,
		       $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM document_entities WHERE id = $1)
	`, entityID, string(event.Kind), event.At, payload)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, entityID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM document_events
		WHERE entity_id = $1
		ORDER BY seq ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
