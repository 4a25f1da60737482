package sample

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "residuechain/pkg/domain"
	"residuechain/pkg/platform/sentinel"
	txcontext "residuechain/pkg/platform/tx"
)

// PostgresStore persists the sample chain in sample_requests, samples and
// lab_reports. All reads and writes join a context transaction when one is
// present so Transact callers get atomicity across the three tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

const requestColumns = "id, treatment_id, entity_id, farmer_id, lab_id, safe_date, state, state_history, created_at, updated_at"

func (s *PostgresStore) CreateRequest(ctx context.Context, req SampleRequest) error {
	history, err := json.Marshal(req.StateHistory)
	if err != nil {
		return fmt.Errorf("marshal state history: %w", err)
	}
	query := `
		INSERT INTO sample_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), uuid.UUID(req.TreatmentID), uuid.UUID(req.EntityID),
		uuid.UUID(req.FarmerID), uuid.UUID(req.LabID), req.SafeDate,
		string(req.State), history, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create sample request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM sample_requests WHERE id = $1`
	return s.getRequest(ctx, query, uuid.UUID(requestID))
}

func (s *PostgresStore) GetRequestForUpdate(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM sample_requests WHERE id = $1`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	return s.getRequest(ctx, query, uuid.UUID(requestID))
}

func (s *PostgresStore) GetRequestByTreatment(ctx context.Context, treatmentID id.TreatmentID) (SampleRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM sample_requests WHERE treatment_id = $1`
	return s.getRequest(ctx, query, uuid.UUID(treatmentID))
}

func (s *PostgresStore) getRequest(ctx context.Context, query string, arg any) (SampleRequest, error) {
	req, err := scanRequest(s.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SampleRequest{}, sentinel.ErrNotFound
		}
		return SampleRequest{}, fmt.Errorf("get sample request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req SampleRequest) error {
	history, err := json.Marshal(req.StateHistory)
	if err != nil {
		return fmt.Errorf("marshal state history: %w", err)
	}
	query := `
		UPDATE sample_requests
		SET state = $1, state_history = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := s.q(ctx).ExecContext(ctx, query, string(req.State), history, req.UpdatedAt, uuid.UUID(req.ID))
	if err != nil {
		return fmt.Errorf("update sample request: %w", err)
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

func (s *PostgresStore) ListPendingByLab(ctx context.Context, labID id.LabID) ([]SampleRequest, error) {
	query := `
		SELECT ` + requestColumns + ` FROM sample_requests
		WHERE lab_id = $1 AND state <> $2
		ORDER BY created_at, id
	`
	return s.listRequests(ctx, query, uuid.UUID(labID), string(StateTested))
}

func (s *PostgresStore) ListRequestedBefore(ctx context.Context, cutoff time.Time) ([]SampleRequest, error) {
	query := `
		SELECT ` + requestColumns + ` FROM sample_requests
		WHERE state IN ($1, $2) AND safe_date <= $3
		ORDER BY created_at, id
	`
	return s.listRequests(ctx, query, string(StateRequested), string(StateApproved), cutoff)
}

func (s *PostgresStore) listRequests(ctx context.Context, query string, args ...any) ([]SampleRequest, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sample requests: %w", err)
	}
	defer rows.Close()

	var out []SampleRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSample(ctx context.Context, sm Sample) error {
	query := `
		INSERT INTO samples (id, sample_request_id, sample_type, collected_by, collected_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(sm.ID), uuid.UUID(sm.SampleRequestID), sm.SampleType,
		uuid.UUID(sm.CollectedBy), sm.CollectedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSampleByRequest(ctx context.Context, requestID id.SampleRequestID) (Sample, error) {
	query := `
		SELECT id, sample_request_id, sample_type, collected_by, collected_at
		FROM samples WHERE sample_request_id = $1
	`
	var (
		sm                    Sample
		sid, reqID, collector uuid.UUID
	)
	err := s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)).
		Scan(&sid, &reqID, &sm.SampleType, &collector, &sm.CollectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Sample{}, sentinel.ErrNotFound
		}
		return Sample{}, fmt.Errorf("get sample: %w", err)
	}
	sm.ID = id.SampleID(sid)
	sm.SampleRequestID = id.SampleRequestID(reqID)
	sm.CollectedBy = id.LabID(collector)
	return sm, nil
}

const reportColumns = "id, sample_id, sample_request_id, lab_id, detected_residue, legal_limit, final_status, tested_at, authority_alerted"

func (s *PostgresStore) CreateReport(ctx context.Context, r LabReport) error {
	query := `
		INSERT INTO lab_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.SampleID), uuid.UUID(r.SampleRequestID),
		uuid.UUID(r.LabID), r.DetectedResidue, r.LegalLimit,
		string(r.FinalStatus), r.TestedAt, r.AuthorityAlerted,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create lab report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportByRequest(ctx context.Context, requestID id.SampleRequestID) (LabReport, error) {
	query := `SELECT ` + reportColumns + ` FROM lab_reports WHERE sample_request_id = $1`
	r, err := scanReport(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LabReport{}, sentinel.ErrNotFound
		}
		return LabReport{}, fmt.Errorf("get lab report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListUnalertedUnsafeReports(ctx context.Context) ([]LabReport, error) {
	query := `SELECT ` + reportColumns + ` FROM lab_reports WHERE final_status = $1 AND NOT authority_alerted ORDER BY tested_at, id`
	rows, err := s.q(ctx).QueryContext(ctx, query, string(ReportUnsafe))
	if err != nil {
		return nil, fmt.Errorf("list unsafe reports: %w", err)
	}
	defer rows.Close()

	var out []LabReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lab report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkReportAlerted(ctx context.Context, reportID id.ReportID) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE lab_reports SET authority_alerted = TRUE WHERE id = $1`, uuid.UUID(reportID))
	if err != nil {
		return fmt.Errorf("mark report alerted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark report alerted: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (SampleRequest, error) {
	var (
		req                                 SampleRequest
		rid, treatment, entity, farmer, lab uuid.UUID
		state                               string
		history                             []byte
	)
	err := row.Scan(&rid, &treatment, &entity, &farmer, &lab,
		&req.SafeDate, &state, &history, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return SampleRequest{}, err
	}
	req.ID = id.SampleRequestID(rid)
	req.TreatmentID = id.TreatmentID(treatment)
	req.EntityID = id.EntityID(entity)
	req.FarmerID = id.FarmerID(farmer)
	req.LabID = id.LabID(lab)
	req.State = State(state)
	if err := json.Unmarshal(history, &req.StateHistory); err != nil {
		return SampleRequest{}, fmt.Errorf("unmarshal state history: %w", err)
	}
	return req, nil
}

func scanReport(row rowScanner) (LabReport, error) {
	var (
		r                    LabReport
		rid, sid, reqID, lab uuid.UUID
		status               string
	)
	err := row.Scan(&rid, &sid, &reqID, &lab, &r.DetectedResidue, &r.LegalLimit, &status, &r.TestedAt, &r.AuthorityAlerted)
	if err != nil {
		return LabReport{}, err
	}
	r.ID = id.ReportID(rid)
	r.SampleID = id.SampleID(sid)
	r.SampleRequestID = id.SampleRequestID(reqID)
	r.LabID = id.LabID(lab)
	r.FinalStatus = ReportStatus(status)
	return r, nil
}

// EnsureSchema creates the sample-chain tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sample_requests (
			id UUID PRIMARY KEY,
			treatment_id UUID NOT NULL UNIQUE,
			entity_id UUID NOT NULL,
			farmer_id UUID NOT NULL,
			lab_id UUID NOT NULL,
			safe_date TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL,
			state_history JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sample_requests_lab_state_idx ON sample_requests (lab_id, state);
		CREATE INDEX IF NOT EXISTS sample_requests_safe_date_idx ON sample_requests (safe_date) WHERE state IN ('requested', 'approved');
		CREATE TABLE IF NOT EXISTS samples (
			id UUID PRIMARY KEY,
			sample_request_id UUID NOT NULL UNIQUE REFERENCES sample_requests (id),
			sample_type TEXT NOT NULL,
			collected_by UUID NOT NULL,
			collected_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lab_reports (
			id UUID PRIMARY KEY,
			sample_id UUID NOT NULL UNIQUE REFERENCES samples (id),
			sample_request_id UUID NOT NULL UNIQUE REFERENCES sample_requests (id),
			lab_id UUID NOT NULL,
			detected_residue DOUBLE PRECISION NOT NULL,
			legal_limit DOUBLE PRECISION NOT NULL,
			final_status TEXT NOT NULL,
			tested_at TIMESTAMPTZ NOT NULL,
			authority_alerted BOOLEAN NOT NULL DEFAULT FALSE
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure sample schema: %w", err)
	}
	return nil
}
