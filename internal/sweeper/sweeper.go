// Package sweeper runs the timer-driven compliance checks: safe dates
// reached, unsafe results surfaced, collections overdue. Each check is
// independent, overlap-safe and deduplicated per condition occurrence.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"residuechain/internal/labdirectory"
	"residuechain/internal/notify"
	"residuechain/internal/platform/metrics"
	"residuechain/internal/sample"
	id "residuechain/pkg/domain"
)

const (
	CheckSafeDate = "safe_date"
	CheckUnsafe   = "unsafe_result"
	CheckOverdue  = "overdue_collection"
)

// dedupTTL keeps claimed keys around long enough to cover slow overlapping
// runs. Overdue keys are day-scoped and roll over on their own; safe-date
// and report keys are occurrence-scoped and must outlive the condition's
// relevance window.
const dedupTTL = 7 * 24 * time.Hour

// Config tunes the sweep cadences.
type Config struct {
	SafeDateEvery    time.Duration
	UnsafeEvery      time.Duration
	OverdueEvery     time.Duration
	OverdueAfterDays int
}

// Sweeper scans persisted state for conditions that became true without a
// user action and fires their side effects exactly once each.
type Sweeper struct {
	store       sample.Store
	labs        labdirectory.Directory
	dispatcher  notify.Dispatcher
	authorities notify.AuthorityDirectory
	dedup       Dedup
	logger      *slog.Logger
	metrics     *metrics.Metrics
	cfg         Config

	// One lease per check. A tick that finds its check still running is
	// skipped rather than queued.
	leases [3]sync.Mutex
}

type Option func(*Sweeper)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithAuthorityDirectory(d notify.AuthorityDirectory) Option {
	return func(s *Sweeper) { s.authorities = d }
}

func New(store sample.Store, labs labdirectory.Directory, dispatcher notify.Dispatcher, dedup Dedup, logger *slog.Logger, cfg Config, opts ...Option) *Sweeper {
	if cfg.OverdueAfterDays <= 0 {
		cfg.OverdueAfterDays = 2
	}
	s := &Sweeper{
		store:      store,
		labs:       labs,
		dispatcher: dispatcher,
		dedup:      dedup,
		logger:     logger,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the three checks on their cadences until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, 0, s.cfg.SafeDateEvery, CheckSafeDate, s.SweepSafeDates) })
	g.Go(func() error { return s.loop(ctx, 1, s.cfg.UnsafeEvery, CheckUnsafe, s.SweepUnsafeResults) })
	g.Go(func() error { return s.loop(ctx, 2, s.cfg.OverdueEvery, CheckOverdue, s.SweepOverdueCollections) })
	return g.Wait()
}

func (s *Sweeper) loop(ctx context.Context, lease int, every time.Duration, check string, sweep func(context.Context, time.Time) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.leases[lease].TryLock() {
				s.logger.WarnContext(ctx, "previous sweep still running, tick skipped", "check", check)
				continue
			}
			if s.metrics != nil {
				s.metrics.SweepRunsTotal.WithLabelValues(check).Inc()
			}
			if err := sweep(ctx, time.Now()); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "check", check, "error", err)
			}
			s.leases[lease].Unlock()
		}
	}
}

// SweepSafeDates finds requests whose safe date has arrived and sends one
// batched notification per laboratory, bounding notification volume. Each
// request is announced once per safe date, so later sweeps only count
// requests that became due since the last run.
func (s *Sweeper) SweepSafeDates(ctx context.Context, now time.Time) error {
	due, err := s.store.ListRequestedBefore(ctx, now)
	if err != nil {
		return fmt.Errorf("list due requests: %w", err)
	}

	byLab := make(map[id.LabID][]sample.SampleRequest)
	keysByLab := make(map[id.LabID][]string)
	for _, req := range due {
		key := fmt.Sprintf("sweep:%s:%s:%s", CheckSafeDate, req.ID, req.SafeDate.Format("2006-01-02"))
		won, err := s.dedup.Claim(ctx, key, dedupTTL)
		if err != nil {
			return fmt.Errorf("claim dedup key: %w", err)
		}
		if !won {
			continue
		}
		byLab[req.LabID] = append(byLab[req.LabID], req)
		keysByLab[req.LabID] = append(keysByLab[req.LabID], key)
	}

	for labID, reqs := range byLab {
		lab, err := s.labs.Get(ctx, labID)
		if err != nil {
			s.logger.ErrorContext(ctx, "lab lookup failed during sweep", "lab_id", labID, "error", err)
			s.release(ctx, keysByLab[labID])
			continue
		}
		sent := s.send(ctx, CheckSafeDate, notify.Notification{
			UserID:   lab.UserID,
			Category: notify.CategoryReminder,
			Subtype:  notify.SubtypeCollectionDue,
			Message:  fmt.Sprintf("%d sample(s) have reached their safe date and are ready for collection.", len(reqs)),
		})
		if !sent {
			s.release(ctx, keysByLab[labID])
		}
	}
	return nil
}

// SweepUnsafeResults alerts every authority account about unsafe lab
// reports whose alerts never went out, for example when the test-time
// alert path had no authority directory or failed to queue. Reports the
// coordinator already alerted carry a persisted marker and are skipped.
func (s *Sweeper) SweepUnsafeResults(ctx context.Context, now time.Time) error {
	if s.authorities == nil {
		return nil
	}
	reports, err := s.store.ListUnalertedUnsafeReports(ctx)
	if err != nil {
		return fmt.Errorf("list unsafe reports: %w", err)
	}
	if len(reports) == 0 {
		return nil
	}
	users, err := s.authorities.ListAuthorityUsers(ctx)
	if err != nil {
		return fmt.Errorf("list authority users: %w", err)
	}

	for _, report := range reports {
		key := fmt.Sprintf("sweep:%s:%s", CheckUnsafe, report.ID)
		won, err := s.dedup.Claim(ctx, key, dedupTTL)
		if err != nil {
			return fmt.Errorf("claim dedup key: %w", err)
		}
		if !won {
			continue
		}
		alerted := false
		for _, userID := range users {
			sent := s.send(ctx, CheckUnsafe, notify.Notification{
				UserID:   userID,
				Category: notify.CategoryAlert,
				Subtype:  notify.SubtypeUnsafeResidue,
				Message: fmt.Sprintf("Unsafe residue reported: %.2f against a legal limit of %.2f.",
					report.DetectedResidue, report.LegalLimit),
				SampleRequestID: report.SampleRequestID,
			})
			alerted = alerted || sent
		}
		if !alerted {
			s.release(ctx, []string{key})
			continue
		}
		if err := s.store.MarkReportAlerted(ctx, report.ID); err != nil {
			s.logger.ErrorContext(ctx, "mark report alerted failed", "report_id", report.ID, "error", err)
		}
	}
	return nil
}

// SweepOverdueCollections reminds laboratories about requests whose safe
// date is well past, one reminder per request per day.
func (s *Sweeper) SweepOverdueCollections(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -s.cfg.OverdueAfterDays)
	overdue, err := s.store.ListRequestedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list overdue requests: %w", err)
	}

	day := now.Format("2006-01-02")
	for _, req := range overdue {
		key := fmt.Sprintf("sweep:%s:%s:%s", CheckOverdue, req.ID, day)
		won, err := s.dedup.Claim(ctx, key, dedupTTL)
		if err != nil {
			return fmt.Errorf("claim dedup key: %w", err)
		}
		if !won {
			continue
		}
		lab, err := s.labs.Get(ctx, req.LabID)
		if err != nil {
			s.logger.ErrorContext(ctx, "lab lookup failed during sweep", "lab_id", req.LabID, "error", err)
			s.release(ctx, []string{key})
			continue
		}
		days := int(now.Sub(req.SafeDate).Hours() / 24)
		sent := s.send(ctx, CheckOverdue, notify.Notification{
			UserID:          lab.UserID,
			Category:        notify.CategoryReminder,
			Subtype:         notify.SubtypeCollectionOverdue,
			Message:         fmt.Sprintf("Sample collection is %d day(s) overdue.", days),
			EntityID:        req.EntityID,
			TreatmentID:     req.TreatmentID,
			SampleRequestID: req.ID,
		})
		if !sent {
			s.release(ctx, []string{key})
		}
	}
	return nil
}

func (s *Sweeper) send(ctx context.Context, check string, n notify.Notification) bool {
	if err := s.dispatcher.Send(ctx, n); err != nil {
		s.logger.ErrorContext(ctx, "sweep notification dispatch failed", "check", check, "error", err)
		return false
	}
	if s.metrics != nil {
		s.metrics.SweepFindingsTotal.WithLabelValues(check).Inc()
	}
	return true
}

// release gives claimed keys back after a failed dispatch so the next
// sweep picks the condition up again.
func (s *Sweeper) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.dedup.Release(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "release dedup key failed", "key", key, "error", err)
		}
	}
}
