package labdirectory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "residuechain/pkg/domain"
	"residuechain/pkg/platform/sentinel"
)

// PostgresDirectory persists laboratories in the laboratories table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const labColumns = "lab_id, user_id, lab_name, license_number, state, district, taluk, address"

func (d *PostgresDirectory) Register(ctx context.Context, lab Laboratory) error {
	query := `
		INSERT INTO laboratories (` + labColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := d.db.ExecContext(ctx, query,
		uuid.UUID(lab.ID), uuid.UUID(lab.UserID), lab.Name, lab.LicenseNumber,
		lab.State, lab.District, lab.Taluk, lab.Address,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("register laboratory: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) Get(ctx context.Context, labID id.LabID) (Laboratory, error) {
	query := `SELECT ` + labColumns + ` FROM laboratories WHERE lab_id = $1`
	lab, err := scanLab(d.db.QueryRowContext(ctx, query, uuid.UUID(labID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Laboratory{}, sentinel.ErrNotFound
		}
		return Laboratory{}, fmt.Errorf("get laboratory: %w", err)
	}
	return lab, nil
}

func (d *PostgresDirectory) ListByTaluk(ctx context.Context, taluk string) ([]Laboratory, error) {
	return d.list(ctx, `SELECT `+labColumns+` FROM laboratories WHERE lower(taluk) = lower($1) ORDER BY lab_id`, taluk)
}

func (d *PostgresDirectory) ListByDistrict(ctx context.Context, district string) ([]Laboratory, error) {
	return d.list(ctx, `SELECT `+labColumns+` FROM laboratories WHERE lower(district) = lower($1) ORDER BY lab_id`, district)
}

func (d *PostgresDirectory) ListByState(ctx context.Context, state string) ([]Laboratory, error) {
	return d.list(ctx, `SELECT `+labColumns+` FROM laboratories WHERE lower(state) = lower($1) ORDER BY lab_id`, state)
}

func (d *PostgresDirectory) ListAll(ctx context.Context) ([]Laboratory, error) {
	return d.list(ctx, `SELECT `+labColumns+` FROM laboratories ORDER BY lab_id`)
}

func (d *PostgresDirectory) list(ctx context.Context, query string, args ...any) ([]Laboratory, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list laboratories: %w", err)
	}
	defer rows.Close()

	var out []Laboratory
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan laboratory: %w", err)
		}
		out = append(out, lab)
	}
	return out, rows.Err()
}

// EnsureSchema creates the laboratories table when it does not exist yet.
// Production deployments run migrations; this keeps dev and test setups
// self-contained.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS laboratories (
			lab_id         UUID PRIMARY KEY,
			user_id        UUID NOT NULL,
			lab_name       TEXT NOT NULL,
			license_number TEXT NOT NULL,
			state          TEXT NOT NULL,
			district       TEXT NOT NULL,
			taluk          TEXT NOT NULL,
			address        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_laboratories_state ON laboratories (lower(state));
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure laboratories schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLab(row rowScanner) (Laboratory, error) {
	var (
		lab            Laboratory
		labID, userID  uuid.UUID
	)
	err := row.Scan(&labID, &userID, &lab.Name, &lab.LicenseNumber,
		&lab.State, &lab.District, &lab.Taluk, &lab.Address)
	if err != nil {
		return Laboratory{}, err
	}
	lab.ID = id.LabID(labID)
	lab.UserID = id.UserID(userID)
	return lab, nil
}
