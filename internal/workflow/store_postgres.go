package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists workflows and signers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *Workflow, signers []*Signer) error {
	forensic, err := json.Marshal(wf.ForensicConfig)
	if err != nil {
		return fmt.Errorf("marshal forensic config: %w", err)
	}
	createdAt := wf.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, owner_id, entity_id, status, forensic_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		wf.ID, wf.OwnerID, wf.EntityID, wf.Status, forensic, createdAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for _, signer := range signers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_signers (id, workflow_id, email, name, signing_order, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			signer.ID, wf.ID, signer.Email, signer.Name, signer.SigningOrder, signer.Status)
		if err != nil {
			return fmt.Errorf("insert signer: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	var wf Workflow
	var forensic []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, entity_id, status, forensic_config, created_at, updated_at
		FROM workflows
		WHERE id = $1`, workflowID).
		Scan(&wf.ID, &wf.OwnerID, &wf.EntityID, &wf.Status, &forensic, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if err := json.Unmarshal(forensic, &wf.ForensicConfig); err != nil {
		return nil, fmt.Errorf("unmarshal forensic config: %w", err)
	}
	return &wf, nil
}

func (s *PostgresStore) UpdateWorkflowStatus(ctx context.Context, workflowID string, status Status) (Status, error) {
	var previous Status
	err := s.db.QueryRowContext(ctx, `
		UPDATE workflows w
		SET status = $2, updated_at = NOW()
		FROM (SELECT id, status FROM workflows WHERE id = $1 FOR UPDATE) old
		WHERE w.id = old.id
		RETURNING old.status`, workflowID, status).Scan(&previous)
	if err == sql.ErrNoRows {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update workflow status: %w", err)
	}
	return previous, nil
}

func (s *PostgresStore) GetSigner(ctx context.Context, workflowID, signerID string) (*Signer, error) {
	var signer Signer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, email, name, signing_order, status, updated_at
		FROM workflow_signers
		WHERE workflow_id = $1 AND id = $2`, workflowID, signerID).
		Scan(&signer.ID, &signer.WorkflowID, &signer.Email, &signer.Name,
			&signer.SigningOrder, &signer.Status, &signer.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signer: %w", err)
	}
	return &signer, nil
}

func (s *PostgresStore) ListSigners(ctx context.Context, workflowID string) ([]*Signer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, email, name, signing_order, status, updated_at
		FROM workflow_signers
		WHERE workflow_id = $1
		ORDER BY signing_order`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	defer rows.Close()

	var signers []*Signer
	for rows.Next() {
		var signer Signer
		if err := rows.Scan(&signer.ID, &signer.WorkflowID, &signer.Email, &signer.Name,
			&signer.SigningOrder, &signer.Status, &signer.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan signer: %w", err)
		}
		signers = append(signers, &signer)
	}
	return signers, rows.Err()
}

func (s *PostgresStore) UpdateSigner(ctx context.Context, signer *Signer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_signers
		SET name = $3, status = $4, updated_at = NOW()
		WHERE workflow_id = $1 AND id = $2`,
		signer.WorkflowID, signer.ID, signer.Name, signer.Status)
	if err != nil {
		return fmt.Errorf("update signer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
