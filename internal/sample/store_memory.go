package sample

import (
	"context"
	"sort"
	"sync"
	"time"

	id "residuechain/pkg/domain"
	"residuechain/pkg/platform/sentinel"
)

// InMemoryStore keeps the sample chain in maps. Used by tests and by
// deployments without a database configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	requests    map[id.SampleRequestID]SampleRequest
	byTreatment map[id.TreatmentID]id.SampleRequestID
	samples     map[id.SampleRequestID]Sample
	reports     map[id.SampleRequestID]LabReport
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:    make(map[id.SampleRequestID]SampleRequest),
		byTreatment: make(map[id.TreatmentID]id.SampleRequestID),
		samples:     make(map[id.SampleRequestID]Sample),
		reports:     make(map[id.SampleRequestID]LabReport),
	}
}

func (s *InMemoryStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req SampleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTreatment[req.TreatmentID]; ok {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = cloneRequest(req)
	s.byTreatment[req.TreatmentID] = req.ID
	return nil
}

func (s *InMemoryStore) GetRequest(_ context.Context, requestID id.SampleRequestID) (SampleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return SampleRequest{}, sentinel.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *InMemoryStore) GetRequestForUpdate(ctx context.Context, requestID id.SampleRequestID) (SampleRequest, error) {
	return s.GetRequest(ctx, requestID)
}

func (s *InMemoryStore) GetRequestByTreatment(_ context.Context, treatmentID id.TreatmentID) (SampleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reqID, ok := s.byTreatment[treatmentID]
	if !ok {
		return SampleRequest{}, sentinel.ErrNotFound
	}
	return cloneRequest(s.requests[reqID]), nil
}

func (s *InMemoryStore) UpdateRequest(_ context.Context, req SampleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *InMemoryStore) ListPendingByLab(_ context.Context, labID id.LabID) ([]SampleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SampleRequest
	for _, req := range s.requests {
		if req.LabID == labID && req.State != StateTested {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *InMemoryStore) ListRequestedBefore(_ context.Context, cutoff time.Time) ([]SampleRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SampleRequest
	for _, req := range s.requests {
		if (req.State == StateRequested || req.State == StateApproved) && !req.SafeDate.After(cutoff) {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *InMemoryStore) CreateSample(_ context.Context, sm Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[sm.SampleRequestID]; ok {
		return sentinel.ErrConflict
	}
	s.samples[sm.SampleRequestID] = sm
	return nil
}

func (s *InMemoryStore) GetSampleByRequest(_ context.Context, requestID id.SampleRequestID) (Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.samples[requestID]
	if !ok {
		return Sample{}, sentinel.ErrNotFound
	}
	return sm, nil
}

func (s *InMemoryStore) CreateReport(_ context.Context, r LabReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.SampleRequestID]; ok {
		return sentinel.ErrConflict
	}
	s.reports[r.SampleRequestID] = r
	return nil
}

func (s *InMemoryStore) GetReportByRequest(_ context.Context, requestID id.SampleRequestID) (LabReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[requestID]
	if !ok {
		return LabReport{}, sentinel.ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) ListUnalertedUnsafeReports(_ context.Context) ([]LabReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LabReport
	for _, r := range s.reports {
		if r.FinalStatus == ReportUnsafe && !r.AuthorityAlerted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestedAt.Before(out[j].TestedAt) })
	return out, nil
}

func (s *InMemoryStore) MarkReportAlerted(_ context.Context, reportID id.ReportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.reports {
		if r.ID == reportID {
			r.AuthorityAlerted = true
			s.reports[key] = r
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func cloneRequest(req SampleRequest) SampleRequest {
	req.StateHistory = append([]StateChange{}, req.StateHistory...)
	return req
}

func sortRequests(reqs []SampleRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID.String() < reqs[j].ID.String()
	})
}
