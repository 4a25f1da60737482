package sample

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"residuechain/internal/labdirectory"
	"residuechain/internal/notify"
	"residuechain/internal/platform/metrics"
	id "residuechain/pkg/domain"
	dErrors "residuechain/pkg/domain-errors"
	"residuechain/pkg/platform/sentinel"
)

// Auditor records tamper-evident snapshots of regulated mutations. The
// local append is synchronous: a failed append fails the transition.
type Auditor interface {
	RecordRequestTransition(ctx context.Context, req SampleRequest) error
	RecordReport(ctx context.Context, r LabReport) error
}

// NopAuditor satisfies Auditor without recording anything.
type NopAuditor struct{}

func (NopAuditor) RecordRequestTransition(context.Context, SampleRequest) error { return nil }
func (NopAuditor) RecordReport(context.Context, LabReport) error                { return nil }

// lockStripes bounds memory for per-request serialization. Two request IDs
// may share a stripe; that only costs contention, never correctness.
const lockStripes = 64

// Service owns the sample-request state machine. Transitions are
// serialized per request ID through a striped mutex; the postgres store
// additionally locks the row for update inside the transaction.
type Service struct {
	store       Store
	resolver    *labdirectory.Resolver
	dispatcher  notify.Dispatcher
	authorities notify.AuthorityDirectory
	auditor     Auditor
	logger      *slog.Logger
	metrics     *metrics.Metrics
	locks       [lockStripes]sync.Mutex
}

type ServiceOption func(*Service)

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) { s.auditor = a }
}

func WithAuthorityDirectory(d notify.AuthorityDirectory) ServiceOption {
	return func(s *Service) { s.authorities = d }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, resolver *labdirectory.Resolver, dispatcher notify.Dispatcher, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		auditor:    NopAuditor{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(requestID id.SampleRequestID) func() {
	h := fnv.New32a()
	h.Write([]byte(requestID.String()))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// OpenRequest carries everything needed to open a sample request for a
// closed treatment.
type OpenRequest struct {
	TreatmentID id.TreatmentID
	EntityID    id.EntityID
	FarmerID    id.FarmerID
	Location    labdirectory.Location
	SafeDate    time.Time
}

// Open creates the sample request for a treatment. A treatment that
// already has a request, open or closed, is an idempotent no-op returning
// the existing request.
func (s *Service) Open(ctx context.Context, or OpenRequest) (SampleRequest, error) {
	if or.TreatmentID.IsNil() {
		return SampleRequest{}, dErrors.New(dErrors.CodeInvalidInput, "treatment id is required")
	}
	if or.SafeDate.IsZero() {
		return SampleRequest{}, dErrors.New(dErrors.CodeInvalidInput, "safe date is required")
	}

	if existing, err := s.store.GetRequestByTreatment(ctx, or.TreatmentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return SampleRequest{}, fmt.Errorf("check existing request: %w", err)
	}

	lab, err := s.resolver.Resolve(ctx, or.Location)
	if err != nil {
		return SampleRequest{}, err
	}

	now := time.Now()
	req := SampleRequest{
		ID:           id.NewSampleRequestID(),
		TreatmentID:  or.TreatmentID,
		EntityID:     or.EntityID,
		FarmerID:     or.FarmerID,
		LabID:        lab.ID,
		SafeDate:     or.SafeDate,
		State:        StateRequested,
		StateHistory: []StateChange{{State: StateRequested, At: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.Transact(ctx, func(ctx context.Context) error {
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.auditor.RecordRequestTransition(ctx, req); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "audit append failed", err)
		}
		s.send(ctx, notify.Notification{
			UserID:          id.UserID(or.FarmerID),
			Category:        notify.CategoryInfo,
			Subtype:         notify.SubtypeSampleRequestAssigned,
			Message:         fmt.Sprintf("Residue sample request opened; %s will collect on or after %s.", lab.Name, or.SafeDate.Format("2006-01-02")),
			EntityID:        or.EntityID,
			TreatmentID:     or.TreatmentID,
			SampleRequestID: req.ID,
		})
		return nil
	})
	if err != nil {
		// Lost a race against a concurrent Open for the same treatment.
		if errors.Is(err, sentinel.ErrConflict) {
			return s.store.GetRequestByTreatment(ctx, or.TreatmentID)
		}
		return SampleRequest{}, err
	}

	s.countTransition(StateRequested)
	return req, nil
}

// Approve moves a request from requested to approved. The approval step is
// optional: laboratories may collect directly from requested.
func (s *Service) Approve(ctx context.Context, requestID id.SampleRequestID, labID id.LabID) (SampleRequest, error) {
	defer s.lock(requestID)()

	var out SampleRequest
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		req, err := s.store.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "sample request not found")
			}
			return err
		}
		if req.LabID != labID {
			return dErrors.New(dErrors.CodeActorNotAuthorized, "request is assigned to a different laboratory")
		}
		if req.State == StateApproved {
			out = req
			return nil
		}
		if !CanTransition(req.State, StateApproved) {
			return dErrors.New(dErrors.CodeStateTransitionDenied,
				fmt.Sprintf("cannot approve a request in state %s", req.State))
		}

		s.advance(&req, StateApproved)
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.auditor.RecordRequestTransition(ctx, req); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "audit append failed", err)
		}
		out = req
		s.countTransition(StateApproved)
		return nil
	})
	return out, err
}

// CollectRequest carries the collect transition input.
type CollectRequest struct {
	RequestID  id.SampleRequestID
	LabID      id.LabID
	SampleType string
}

// Collect records the physical sample and moves the request to collected.
// Only the assigned laboratory may collect. Re-collecting an already
// collected request is a no-op success returning the existing sample.
func (s *Service) Collect(ctx context.Context, cr CollectRequest) (Sample, error) {
	defer s.lock(cr.RequestID)()

	var out Sample
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		req, err := s.store.GetRequestForUpdate(ctx, cr.RequestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "sample request not found")
			}
			return err
		}
		if req.LabID != cr.LabID {
			return dErrors.New(dErrors.CodeActorNotAuthorized, "request is assigned to a different laboratory")
		}
		if req.State == StateCollected {
			out, err = s.store.GetSampleByRequest(ctx, cr.RequestID)
			return err
		}
		if !CanTransition(req.State, StateCollected) {
			return dErrors.New(dErrors.CodeStateTransitionDenied,
				fmt.Sprintf("cannot collect a request in state %s", req.State))
		}

		now := time.Now()
		sm := Sample{
			ID:              id.NewSampleID(),
			SampleRequestID: req.ID,
			SampleType:      cr.SampleType,
			CollectedBy:     cr.LabID,
			CollectedAt:     now,
		}
		if err := s.store.CreateSample(ctx, sm); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(dErrors.CodeInvariantViolation, "a sample already exists for this request", err)
			}
			return err
		}
		s.advance(&req, StateCollected)
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.auditor.RecordRequestTransition(ctx, req); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "audit append failed", err)
		}
		s.send(ctx, notify.Notification{
			UserID:          id.UserID(req.FarmerID),
			Category:        notify.CategoryInfo,
			Subtype:         notify.SubtypeSampleCollected,
			Message:         fmt.Sprintf("A %s sample was collected for residue testing.", cr.SampleType),
			EntityID:        req.EntityID,
			TreatmentID:     req.TreatmentID,
			SampleRequestID: req.ID,
		})
		out = sm
		s.countTransition(StateCollected)
		return nil
	})
	return out, err
}

// TestRequest carries the test transition input.
type TestRequest struct {
	RequestID       id.SampleRequestID
	LabID           id.LabID
	DetectedResidue float64
	LegalLimit      float64
	FinalStatus     ReportStatus
}

// Test records the lab report and moves the request to its terminal state.
// Only the laboratory owning the sample's parent request may test. An
// unsafe verdict alerts every authority account; a safe verdict tells the
// farmer when the product may be used.
func (s *Service) Test(ctx context.Context, tr TestRequest) (LabReport, error) {
	if tr.FinalStatus != ReportSafe && tr.FinalStatus != ReportUnsafe {
		return LabReport{}, dErrors.New(dErrors.CodeInvalidInput, "final status must be safe or unsafe")
	}

	defer s.lock(tr.RequestID)()

	var out LabReport
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		req, err := s.store.GetRequestForUpdate(ctx, tr.RequestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "sample request not found")
			}
			return err
		}
		if req.LabID != tr.LabID {
			return dErrors.New(dErrors.CodeActorNotAuthorized, "request is assigned to a different laboratory")
		}
		if req.State == StateTested {
			out, err = s.store.GetReportByRequest(ctx, tr.RequestID)
			return err
		}
		if !CanTransition(req.State, StateTested) {
			return dErrors.New(dErrors.CodeStateTransitionDenied,
				fmt.Sprintf("cannot test a request in state %s", req.State))
		}

		sm, err := s.store.GetSampleByRequest(ctx, tr.RequestID)
		if err != nil {
			return fmt.Errorf("load sample for request: %w", err)
		}

		now := time.Now()
		report := LabReport{
			ID:              id.NewReportID(),
			SampleID:        sm.ID,
			SampleRequestID: req.ID,
			LabID:           tr.LabID,
			DetectedResidue: tr.DetectedResidue,
			LegalLimit:      tr.LegalLimit,
			FinalStatus:     tr.FinalStatus,
			TestedAt:        now,
		}
		if err := s.store.CreateReport(ctx, report); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(dErrors.CodeInvariantViolation, "a report already exists for this request", err)
			}
			return err
		}
		s.advance(&req, StateTested)
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if err := s.auditor.RecordRequestTransition(ctx, req); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "audit append failed", err)
		}
		if err := s.auditor.RecordReport(ctx, report); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "audit append failed", err)
		}

		if tr.FinalStatus == ReportUnsafe {
			if s.alertAuthorities(ctx, req, report) {
				if err := s.store.MarkReportAlerted(ctx, report.ID); err != nil {
					return err
				}
				report.AuthorityAlerted = true
			}
		} else {
			s.send(ctx, notify.Notification{
				UserID:   id.UserID(req.FarmerID),
				Category: notify.CategoryInfo,
				Subtype:  notify.SubtypeSafeToUse,
				Message: fmt.Sprintf("Residue test passed. Product is safe to use from %s (%s).",
					req.SafeDate.Format("2006-01-02"), countdown(req.SafeDate, now)),
				EntityID:        req.EntityID,
				TreatmentID:     req.TreatmentID,
				SampleRequestID: req.ID,
			})
		}
		out = report
		s.countTransition(StateTested)
		return nil
	})
	return out, err
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return SampleRequest{}, dErrors.New(dErrors.CodeNotFound, "sample request not found")
	}
	return req, err
}

// ReportForRequest returns the lab report of a tested request.
func (s *Service) ReportForRequest(ctx context.Context, requestID id.SampleRequestID) (LabReport, error) {
	r, err := s.store.GetReportByRequest(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return LabReport{}, dErrors.New(dErrors.CodeNotFound, "no lab report for this request")
	}
	return r, err
}

// PendingForLab returns the lab's open requests, oldest first.
func (s *Service) PendingForLab(ctx context.Context, labID id.LabID) ([]SampleRequest, error) {
	return s.store.ListPendingByLab(ctx, labID)
}

func (s *Service) advance(req *SampleRequest, to State) {
	now := time.Now()
	req.State = to
	req.StateHistory = append(req.StateHistory, StateChange{State: to, At: now})
	req.UpdatedAt = now
}

// alertAuthorities notifies every authority account about an unsafe report
// and reports whether at least one alert was queued. The sweeper picks up
// reports that never made it out.
func (s *Service) alertAuthorities(ctx context.Context, req SampleRequest, report LabReport) bool {
	if s.authorities == nil {
		s.logger.WarnContext(ctx, "no authority directory configured, unsafe alert skipped",
			"request_id", req.ID, "report_id", report.ID)
		return false
	}
	users, err := s.authorities.ListAuthorityUsers(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list authority users failed", "error", err)
		return false
	}
	alerted := false
	for _, userID := range users {
		queued := s.send(ctx, notify.Notification{
			UserID:   userID,
			Category: notify.CategoryAlert,
			Subtype:  notify.SubtypeUnsafeResidue,
			Message: fmt.Sprintf("Unsafe residue detected: %.2f against a legal limit of %.2f.",
				report.DetectedResidue, report.LegalLimit),
			EntityID:        req.EntityID,
			TreatmentID:     req.TreatmentID,
			SampleRequestID: req.ID,
		})
		alerted = alerted || queued
	}
	return alerted
}

// send dispatches a notification without failing the owning transition and
// reports whether the dispatcher accepted it.
func (s *Service) send(ctx context.Context, n notify.Notification) bool {
	if err := s.dispatcher.Send(ctx, n); err != nil {
		s.logger.ErrorContext(ctx, "notification dispatch failed",
			"subtype", n.Subtype, "user_id", n.UserID, "error", err)
		return false
	}
	return true
}

func (s *Service) countTransition(to State) {
	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	}
}

func countdown(safeDate time.Time, now time.Time) string {
	days := int(safeDate.Sub(now).Hours() / 24)
	if days <= 0 {
		return "safe now"
	}
	if days == 1 {
		return "1 day remaining"
	}
	return fmt.Sprintf("%d days remaining", days)
}
