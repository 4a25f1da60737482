package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"residuechain/internal/notify"
	"residuechain/pkg/platform/sentinel"
	txcontext "residuechain/pkg/platform/tx"
)

// PostgresStore implements Store using the transactional outbox pattern.
// Notifications are written to the notification_outbox table inside the
// caller's transaction and published to Kafka by the outbox worker.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Enqueue(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	query := `
		INSERT INTO notification_outbox (id, user_id, category, subtype, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(n.UserID),
		string(n.Category),
		string(n.Subtype),
		payload,
		string(StatusPending),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, payload, status, attempts, created_at, published_at, last_error
		FROM notification_outbox
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			payload   []byte
			status    string
			published sql.NullTime
			lastError sql.NullString
		)
		if err := rows.Scan(&e.ID, &payload, &status, &e.Attempts, &e.CreatedAt, &published, &lastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Notification); err != nil {
			return nil, fmt.Errorf("unmarshal notification payload: %w", err)
		}
		e.Status = Status(status)
		if published.Valid {
			t := published.Time
			e.PublishedAt = &t
		}
		if lastError.Valid {
			e.LastError = lastError.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, entryID uuid.UUID) error {
	query := `
		UPDATE notification_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(StatusPublished), time.Now(), entryID)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, entryID uuid.UUID, attempts int, lastError string) error {
	status := StatusPending
	if attempts >= maxAttempts {
		status = StatusFailed
	}
	query := `
		UPDATE notification_outbox
		SET status = $1, attempts = $2, last_error = $3
		WHERE id = $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(status), attempts, lastError, entryID)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// EnsureSchema creates the outbox table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notification_outbox (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			category TEXT NOT NULL,
			subtype TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ,
			last_error TEXT
		);
		CREATE INDEX IF NOT EXISTS notification_outbox_pending_idx
			ON notification_outbox (created_at) WHERE status = 'pending';
	`)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("ensure outbox schema: %s: %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("ensure outbox schema: %w", err)
	}
	return nil
}
