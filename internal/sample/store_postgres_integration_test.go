//go:build integration

package sample_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"residuechain/internal/sample"
	id "residuechain/pkg/domain"
	"residuechain/pkg/platform/sentinel"
	"residuechain/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *sample.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = sample.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "lab_reports", "samples", "sample_requests")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newRequest() sample.SampleRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return sample.SampleRequest{
		ID:           id.NewSampleRequestID(),
		TreatmentID:  id.TreatmentID(uuid.New()),
		EntityID:     id.EntityID(uuid.New()),
		FarmerID:     id.FarmerID(uuid.New()),
		LabID:        id.LabID(uuid.New()),
		SafeDate:     now.AddDate(0, 0, 12),
		State:        sample.StateRequested,
		StateHistory: []sample.StateChange{{State: sample.StateRequested, At: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGetRequest() {
	ctx := context.Background()
	req := s.newRequest()

	s.Require().NoError(s.store.CreateRequest(ctx, req))

	got, err := s.store.GetRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.TreatmentID, got.TreatmentID)
	s.Equal(sample.StateRequested, got.State)
	s.Require().Len(got.StateHistory, 1)
	s.Equal(sample.StateRequested, got.StateHistory[0].State)

	byTreatment, err := s.store.GetRequestByTreatment(ctx, req.TreatmentID)
	s.Require().NoError(err)
	s.Equal(req.ID, byTreatment.ID)
}

func (s *PostgresStoreSuite) TestDuplicateTreatmentConflicts() {
	ctx := context.Background()
	req := s.newRequest()
	s.Require().NoError(s.store.CreateRequest(ctx, req))

	dup := s.newRequest()
	dup.TreatmentID = req.TreatmentID

	err := s.store.CreateRequest(ctx, dup)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *PostgresStoreSuite) TestUpdateRequestPersistsHistory() {
	ctx := context.Background()
	req := s.newRequest()
	s.Require().NoError(s.store.CreateRequest(ctx, req))

	req.State = sample.StateCollected
	req.StateHistory = append(req.StateHistory, sample.StateChange{State: sample.StateCollected, At: time.Now().UTC()})
	req.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.UpdateRequest(ctx, req))

	got, err := s.store.GetRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(sample.StateCollected, got.State)
	s.Len(got.StateHistory, 2)
}

func (s *PostgresStoreSuite) TestListRequestedBefore() {
	ctx := context.Background()
	due := s.newRequest()
	due.SafeDate = time.Now().UTC().AddDate(0, 0, -3)
	s.Require().NoError(s.store.CreateRequest(ctx, due))

	future := s.newRequest()
	future.SafeDate = time.Now().UTC().AddDate(0, 0, 30)
	s.Require().NoError(s.store.CreateRequest(ctx, future))

	found, err := s.store.ListRequestedBefore(ctx, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(due.ID, found[0].ID)
}

func (s *PostgresStoreSuite) TestSampleAndReportUniqueness() {
	ctx := context.Background()
	req := s.newRequest()
	s.Require().NoError(s.store.CreateRequest(ctx, req))

	now := time.Now().UTC().Truncate(time.Microsecond)
	sm := sample.Sample{
		ID:              id.NewSampleID(),
		SampleRequestID: req.ID,
		SampleType:      "meat",
		CollectedBy:     req.LabID,
		CollectedAt:     now,
	}
	s.Require().NoError(s.store.CreateSample(ctx, sm))

	second := sm
	second.ID = id.NewSampleID()
	s.True(errors.Is(s.store.CreateSample(ctx, second), sentinel.ErrConflict))

	report := sample.LabReport{
		ID:              id.NewReportID(),
		SampleID:        sm.ID,
		SampleRequestID: req.ID,
		LabID:           req.LabID,
		DetectedResidue: 180,
		LegalLimit:      100,
		FinalStatus:     sample.ReportUnsafe,
		TestedAt:        now,
	}
	s.Require().NoError(s.store.CreateReport(ctx, report))

	dupReport := report
	dupReport.ID = id.NewReportID()
	s.True(errors.Is(s.store.CreateReport(ctx, dupReport), sentinel.ErrConflict))

	unsafe, err := s.store.ListUnalertedUnsafeReports(ctx)
	s.Require().NoError(err)
	s.Require().Len(unsafe, 1)
	s.Equal(report.ID, unsafe[0].ID)
	s.False(unsafe[0].AuthorityAlerted)

	s.Require().NoError(s.store.MarkReportAlerted(ctx, report.ID))
	unsafe, err = s.store.ListUnalertedUnsafeReports(ctx)
	s.Require().NoError(err)
	s.Empty(unsafe)

	marked, err := s.store.GetReportByRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.True(marked.AuthorityAlerted)
}

func (s *PostgresStoreSuite) TestTransactRollsBackOnError() {
	ctx := context.Background()
	req := s.newRequest()

	err := s.store.Transact(ctx, func(ctx context.Context) error {
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	s.Require().Error(err)

	_, err = s.store.GetRequest(ctx, req.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestGetRequestForUpdateLocksRow() {
	ctx := context.Background()
	req := s.newRequest()
	s.Require().NoError(s.store.CreateRequest(ctx, req))

	err := s.store.Transact(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetRequestForUpdate(ctx, req.ID)
		if err != nil {
			return err
		}
		locked.State = sample.StateApproved
		locked.StateHistory = append(locked.StateHistory, sample.StateChange{State: sample.StateApproved, At: time.Now().UTC()})
		locked.UpdatedAt = time.Now().UTC()
		return s.store.UpdateRequest(ctx, locked)
	})
	s.Require().NoError(err)

	got, err := s.store.GetRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(sample.StateApproved, got.State)
}
