package sample

import (
	"context"
	"time"

	id "residuechain/pkg/domain"
)

// Store persists the sample-chain records. Implementations return
// sentinel.ErrNotFound for missing rows and sentinel.ErrConflict for
// uniqueness violations (duplicate treatment, duplicate sample).
type Store interface {
	// Transact runs fn atomically. The postgres store opens a database
	// transaction and places it in fn's context so nested store calls and
	// outbox inserts join it; the memory store just calls fn.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	CreateRequest(ctx context.Context, req SampleRequest) error
	GetRequest(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error)
	// GetRequestForUpdate locks the row for the duration of the enclosing
	// transaction. Outside a transaction it behaves like GetRequest.
	GetRequestForUpdate(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error)
	GetRequestByTreatment(ctx context.Context, treatmentID id.TreatmentID) (SampleRequest, error)
	UpdateRequest(ctx context.Context, req SampleRequest) error
	// ListPendingByLab returns requests assigned to the lab that are not
	// yet tested, oldest-first.
	ListPendingByLab(ctx context.Context, labID id.LabID) ([]SampleRequest, error)
	// ListRequestedBefore returns requests still awaiting collection whose
	// safe date is at or before the cutoff.
	ListRequestedBefore(ctx context.Context, cutoff time.Time) ([]SampleRequest, error)

	CreateSample(ctx context.Context, s Sample) error
	GetSampleByRequest(ctx context.Context, requestID id.SampleRequestID) (Sample, error)

	CreateReport(ctx context.Context, r LabReport) error
	GetReportByRequest(ctx context.Context, requestID id.SampleRequestID) (LabReport, error)

	// ListUnalertedUnsafeReports returns unsafe reports whose authority
	// alerts have not gone out yet.
	ListUnalertedUnsafeReports(ctx context.Context) ([]LabReport, error)
	MarkReportAlerted(ctx context.Context, reportID id.ReportID) error
}
