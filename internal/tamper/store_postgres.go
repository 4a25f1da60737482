package tamper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"residuechain/pkg/platform/sentinel"
	txcontext "residuechain/pkg/platform/tx"
)

// PostgresStore persists the tamper log. Append joins a context
// transaction when one is present so the log entry commits atomically with
// the state change it witnesses.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const entryColumns = "id, entity_type, entity_id, record_hash, created_at, ledger_id, confirmation_ref, anchor_attempts, next_anchor_at"

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO tamper_log (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		e.ID, string(e.EntityType), e.EntityID, e.Hash, e.CreatedAt,
		e.LedgerID, e.ConfirmationRef, e.AnchorAttempts, e.NextAnchorAt,
	)
	if err != nil {
		return fmt.Errorf("append tamper entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, entityType EntityType, entityID string) (Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM tamper_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, string(entityType), entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, sentinel.ErrNotFound
		}
		return Entry{}, fmt.Errorf("latest tamper entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListUnanchored(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM tamper_log
		WHERE ledger_id = '' AND next_anchor_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list unanchored entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tamper entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkAnchored(ctx context.Context, entryID uuid.UUID, ledgerID, confirmationRef string) error {
	query := `
		UPDATE tamper_log
		SET ledger_id = $1, confirmation_ref = $2
		WHERE id = $3
	`
	return s.exec(ctx, query, ledgerID, confirmationRef, entryID)
}

func (s *PostgresStore) Reschedule(ctx context.Context, entryID uuid.UUID, attempts int, nextAt time.Time) error {
	query := `
		UPDATE tamper_log
		SET anchor_attempts = $1, next_anchor_at = $2
		WHERE id = $3
	`
	return s.exec(ctx, query, attempts, nextAt, entryID)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tamper entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		entityType string
	)
	err := row.Scan(&e.ID, &entityType, &e.EntityID, &e.Hash, &e.CreatedAt,
		&e.LedgerID, &e.ConfirmationRef, &e.AnchorAttempts, &e.NextAnchorAt)
	if err != nil {
		return Entry{}, err
	}
	e.EntityType = EntityType(entityType)
	return e, nil
}

// EnsureSchema creates the tamper log table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tamper_log (
			id UUID PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			record_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			ledger_id TEXT NOT NULL DEFAULT '',
			confirmation_ref TEXT NOT NULL DEFAULT '',
			anchor_attempts INT NOT NULL DEFAULT 0,
			next_anchor_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tamper_log_entity_idx ON tamper_log (entity_type, entity_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS tamper_log_unanchored_idx ON tamper_log (next_anchor_at) WHERE ledger_id = '';
	`)
	if err != nil {
		return fmt.Errorf("ensure tamper schema: %w", err)
	}
	return nil
}
