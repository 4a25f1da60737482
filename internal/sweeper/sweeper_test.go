package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"residuechain/internal/labdirectory"
	"residuechain/internal/notify"
	"residuechain/internal/sample"
	id "residuechain/pkg/domain"
)

type capturingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *capturingDispatcher) Send(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *capturingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// flakyDispatcher fails the first n sends, then delegates.
type flakyDispatcher struct {
	capturingDispatcher
	remaining int
}

func (d *flakyDispatcher) Send(ctx context.Context, n notify.Notification) error {
	d.mu.Lock()
	if d.remaining > 0 {
		d.remaining--
		d.mu.Unlock()
		return errors.New("broker unavailable")
	}
	d.mu.Unlock()
	return d.capturingDispatcher.Send(ctx, n)
}

type staticAuthorities struct {
	users []id.UserID
}

func (a staticAuthorities) ListAuthorityUsers(context.Context) ([]id.UserID, error) {
	return a.users, nil
}

type harness struct {
	sweeper     *Sweeper
	store       *sample.InMemoryStore
	labs        *labdirectory.InMemoryDirectory
	dispatcher  *capturingDispatcher
	authorities staticAuthorities
	lab         labdirectory.Laboratory
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	labs := labdirectory.NewInMemoryDirectory()
	lab := labdirectory.Laboratory{
		ID:     id.LabID(uuid.New()),
		UserID: id.UserID(uuid.New()),
		Name:   "State Residue Lab",
	}
	require.NoError(t, labs.Register(context.Background(), lab))

	store := sample.NewInMemoryStore()
	dispatcher := &capturingDispatcher{}
	authorities := staticAuthorities{users: []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New())}}

	sw := New(store, labs, dispatcher, NewMemoryDedup(), slog.Default(),
		Config{OverdueAfterDays: 2},
		WithAuthorityDirectory(authorities),
	)
	return &harness{
		sweeper:     sw,
		store:       store,
		labs:        labs,
		dispatcher:  dispatcher,
		authorities: authorities,
		lab:         lab,
		now:         time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
	}
}

func (h *harness) addRequest(t *testing.T, labID id.LabID, safeDate time.Time) sample.SampleRequest {
	t.Helper()
	req := sample.SampleRequest{
		ID:           id.NewSampleRequestID(),
		TreatmentID:  id.TreatmentID(uuid.New()),
		EntityID:     id.EntityID(uuid.New()),
		FarmerID:     id.FarmerID(uuid.New()),
		LabID:        labID,
		SafeDate:     safeDate,
		State:        sample.StateRequested,
		StateHistory: []sample.StateChange{{State: sample.StateRequested, At: safeDate.AddDate(0, 0, -12)}},
		CreatedAt:    safeDate.AddDate(0, 0, -12),
	}
	require.NoError(t, h.store.CreateRequest(context.Background(), req))
	return req
}

func (h *harness) addUnsafeReport(t *testing.T, labID id.LabID) sample.LabReport {
	t.Helper()
	req := h.addRequest(t, labID, h.now.AddDate(0, 0, -5))
	report := sample.LabReport{
		ID:              id.NewReportID(),
		SampleID:        id.NewSampleID(),
		SampleRequestID: req.ID,
		LabID:           labID,
		DetectedResidue: 180,
		LegalLimit:      100,
		FinalStatus:     sample.ReportUnsafe,
		TestedAt:        h.now,
	}
	require.NoError(t, h.store.CreateReport(context.Background(), report))
	return report
}

func TestSweepSafeDates_BatchesPerLab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1))
	h.addRequest(t, h.lab.ID, h.now)
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, 10)) // not yet due

	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now))

	require.Equal(t, 1, h.dispatcher.count())
	n := h.dispatcher.sent[0]
	assert.Equal(t, h.lab.UserID, n.UserID)
	assert.Equal(t, notify.SubtypeCollectionDue, n.Subtype)
	assert.Contains(t, n.Message, "2 sample(s)")
}

func TestSweepSafeDates_OneNotificationPerLab(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	other := labdirectory.Laboratory{ID: id.LabID(uuid.New()), UserID: id.UserID(uuid.New()), Name: "Second Lab"}
	require.NoError(t, h.labs.Register(ctx, other))

	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1))
	h.addRequest(t, other.ID, h.now.AddDate(0, 0, -1))

	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now))

	assert.Equal(t, 2, h.dispatcher.count())
}

func TestSweepSafeDates_RepeatedSweepDoesNotDoubleNotify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1))

	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now))
	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now.Add(6*time.Hour)))

	assert.Equal(t, 1, h.dispatcher.count())
}

func TestSweepSafeDates_DoesNotRenotifyNextDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1))

	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now))
	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now.AddDate(0, 0, 1)))

	assert.Equal(t, 1, h.dispatcher.count())
}

func TestSweepSafeDates_CountsOnlyNewlyDueRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addRequest(t, h.lab.ID, h.now)
	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now))

	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, 1))
	require.NoError(t, h.sweeper.SweepSafeDates(ctx, h.now.AddDate(0, 0, 1)))

	require.Equal(t, 2, h.dispatcher.count())
	assert.Contains(t, h.dispatcher.sent[0].Message, "1 sample(s)")
	assert.Contains(t, h.dispatcher.sent[1].Message, "1 sample(s)")
}

func TestSweepSafeDates_RetriesAfterDispatchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyDispatcher{remaining: 1}
	sw := New(h.store, h.labs, flaky, NewMemoryDedup(), slog.Default(), Config{OverdueAfterDays: 2})

	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1))

	require.NoError(t, sw.SweepSafeDates(ctx, h.now))
	assert.Equal(t, 0, flaky.count())

	require.NoError(t, sw.SweepSafeDates(ctx, h.now.Add(time.Hour)))
	assert.Equal(t, 1, flaky.count())
}

func TestSweepUnsafeResults_AlertsEachAuthorityOncePerReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addUnsafeReport(t, h.lab.ID)

	require.NoError(t, h.sweeper.SweepUnsafeResults(ctx, h.now))
	assert.Equal(t, 2, h.dispatcher.count())

	require.NoError(t, h.sweeper.SweepUnsafeResults(ctx, h.now.Add(2*time.Hour)))
	assert.Equal(t, 2, h.dispatcher.count())
}

func TestSweepUnsafeResults_SkipsReportsAlertedAtTestTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	svc := sample.NewService(h.store, labdirectory.NewResolver(h.labs), h.dispatcher, slog.Default(),
		sample.WithAuthorityDirectory(h.authorities))
	req := h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -5))
	_, err := svc.Collect(ctx, sample.CollectRequest{RequestID: req.ID, LabID: h.lab.ID, SampleType: "meat"})
	require.NoError(t, err)
	_, err = svc.Test(ctx, sample.TestRequest{
		RequestID: req.ID, LabID: h.lab.ID, DetectedResidue: 180, LegalLimit: 100, FinalStatus: sample.ReportUnsafe,
	})
	require.NoError(t, err)
	require.Equal(t, 2, h.dispatcher.count())

	require.NoError(t, h.sweeper.SweepUnsafeResults(ctx, h.now))
	assert.Equal(t, 2, h.dispatcher.count(), "test-time alerts must not be repeated by the sweep")
}

func TestSweepUnsafeResults_RetriesAfterDispatchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flaky := &flakyDispatcher{remaining: 2}
	sw := New(h.store, h.labs, flaky, NewMemoryDedup(), slog.Default(), Config{OverdueAfterDays: 2},
		WithAuthorityDirectory(h.authorities))

	h.addUnsafeReport(t, h.lab.ID)

	require.NoError(t, sw.SweepUnsafeResults(ctx, h.now))
	assert.Equal(t, 0, flaky.count())

	require.NoError(t, sw.SweepUnsafeResults(ctx, h.now.Add(time.Hour)))
	assert.Equal(t, 2, flaky.count())

	require.NoError(t, sw.SweepUnsafeResults(ctx, h.now.Add(2*time.Hour)))
	assert.Equal(t, 2, flaky.count())
}

func TestSweepOverdueCollections_RemindsPerRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -3))
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -4))
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -1)) // past but not overdue yet

	require.NoError(t, h.sweeper.SweepOverdueCollections(ctx, h.now))

	require.Equal(t, 2, h.dispatcher.count())
	for _, n := range h.dispatcher.sent {
		assert.Equal(t, notify.SubtypeCollectionOverdue, n.Subtype)
		assert.Equal(t, h.lab.UserID, n.UserID)
		assert.False(t, n.SampleRequestID.IsNil())
	}
}

func TestSweepOverdueCollections_RemindsAgainNextDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addRequest(t, h.lab.ID, h.now.AddDate(0, 0, -3))

	require.NoError(t, h.sweeper.SweepOverdueCollections(ctx, h.now))
	require.NoError(t, h.sweeper.SweepOverdueCollections(ctx, h.now.Add(time.Hour)))
	assert.Equal(t, 1, h.dispatcher.count())

	require.NoError(t, h.sweeper.SweepOverdueCollections(ctx, h.now.AddDate(0, 0, 1)))
	assert.Equal(t, 2, h.dispatcher.count())
}

func TestSweepUnsafeResults_NoAuthoritiesConfigured(t *testing.T) {
	h := newHarness(t)
	h.sweeper.authorities = nil
	h.addUnsafeReport(t, h.lab.ID)

	require.NoError(t, h.sweeper.SweepUnsafeResults(context.Background(), h.now))
	assert.Equal(t, 0, h.dispatcher.count())
}
