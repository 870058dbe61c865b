package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/service/mocks"
	"digest_fetcher/internal/settings"
	"digest_fetcher/internal/timeofday"
	"digest_fetcher/testdata/utils"
)

func TestComputeNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hhmm string
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
			hhmm: "08:00",
			want: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "already passed today",
			now:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			hhmm: "08:00",
			want: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly now moves to tomorrow",
			now:  time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
			hhmm: "08:00",
			want: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "year boundary",
			now:  time.Date(2023, 12, 31, 23, 59, 30, 0, time.UTC),
			hhmm: "00:00",
			want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-utc input",
			now:  time.Date(2024, 1, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600)),
			hhmm: "08:30",
			want: time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun(tt.now, tt.hhmm)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestComputeNextRun_Invalid(t *testing.T) {
	for _, in := range []string{"", "8:00", "24:00", "12:60", "12-30", "12:3a", " 12:30"} {
		_, err := ComputeNextRun(time.Now(), in)
		assert.ErrorIs(t, err, timeofday.ErrInvalid, "input %q", in)
	}
}

type DigestSchedulerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	digests    *mocks.MockDigestStore
	aggregator *mocks.MockAggregator
	jobRuns    *mocks.MockJobRunStore
	settings   *mocks.MockSettingsProvider
	clock      *mocks.MockClock
	now        time.Time

	values    settings.Values
	scheduler *DigestScheduler

	started  []*domain.JobRun
	finished []finishedRun
}

func (s *DigestSchedulerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.digests = mocks.NewMockDigestStore(s.ctrl)
	s.aggregator = mocks.NewMockAggregator(s.ctrl)
	s.jobRuns = mocks.NewMockJobRunStore(s.ctrl)
	s.settings = mocks.NewMockSettingsProvider(s.ctrl)
	s.clock = mocks.NewMockClock(s.ctrl)
	s.now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	s.started = nil
	s.finished = nil

	s.values = settings.Values{DigestEnabled: true, DigestTime: "08:00"}
	s.settings.EXPECT().Snapshot(gomock.Any()).DoAndReturn(
		func(context.Context) settings.Values { return s.values },
	).AnyTimes()
	s.clock.EXPECT().Now().Return(s.now).AnyTimes()

	s.jobRuns.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, run *domain.JobRun) error {
			s.started = append(s.started, run)
			return nil
		},
	).AnyTimes()
	s.jobRuns.EXPECT().Finish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, status domain.JobStatus, _ time.Time, details domain.Details, msg *string) error {
			s.finished = append(s.finished, finishedRun{status: status, details: details, errMsg: msg})
			return nil
		},
	).AnyTimes()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.scheduler = NewDigestScheduler(s.digests, s.aggregator, NewJobRunRecorder(s.jobRuns, s.clock), s.settings, logger)
}

func (s *DigestSchedulerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDigestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(DigestSchedulerTestSuite))
}

func (s *DigestSchedulerTestSuite) lastFinished() finishedRun {
	s.Require().NotEmpty(s.finished)
	return s.finished[len(s.finished)-1]
}

func (s *DigestSchedulerTestSuite) TestRunOnce_Generated() {
	ctx := context.Background()
	digest := &domain.Digest{ID: uuid.New(), ArticleCount: 7, NotifiedAt: utils.Ptr(s.now)}

	s.digests.EXPECT().ExistsForDate(ctx, s.now).Return(false, nil)
	s.aggregator.EXPECT().Generate(ctx, s.now).Return(digest, nil)

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestGenerated, outcome)

	s.Require().Len(s.started, 1)
	s.Equal(domain.JobDigestScheduler, s.started[0].JobName)
	s.Equal("2024-03-01", s.started[0].Details["digest_date"])
	s.Equal("08:00", s.started[0].Details["digest_time_utc"])

	run := s.lastFinished()
	s.Equal(domain.JobStatusSuccess, run.status)
	s.Equal(digest.ID.String(), run.details["digest_id"])
	s.Equal(7, run.details["article_count"])
	s.Equal(true, run.details["notified"])
}

func (s *DigestSchedulerTestSuite) TestRunOnce_AlreadyExists() {
	ctx := context.Background()

	s.digests.EXPECT().ExistsForDate(ctx, s.now).Return(true, nil)

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestSkippedExists, outcome)
	run := s.lastFinished()
	s.Equal(domain.JobStatusSkipped, run.status)
	s.Equal("already_exists", run.details["reason"])
}

func (s *DigestSchedulerTestSuite) TestRunOnce_UniqueConflict() {
	ctx := context.Background()

	s.digests.EXPECT().ExistsForDate(ctx, s.now).Return(false, nil)
	s.aggregator.EXPECT().Generate(ctx, s.now).Return(nil, fmt.Errorf("create digest: %w", domain.ErrUniqueConflict))

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestSkippedConflict, outcome)
	run := s.lastFinished()
	s.Equal(domain.JobStatusSkipped, run.status)
	s.Equal("unique_conflict", run.details["reason"])
}

func (s *DigestSchedulerTestSuite) TestRunOnce_GenerationErrorIsContained() {
	ctx := context.Background()

	s.digests.EXPECT().ExistsForDate(ctx, s.now).Return(false, nil)
	s.aggregator.EXPECT().Generate(ctx, s.now).Return(nil, errors.New("no unprocessed articles"))

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestErrored, outcome)
	run := s.lastFinished()
	s.Equal(domain.JobStatusError, run.status)
	s.Require().NotNil(run.errMsg)
	s.Equal("no unprocessed articles", *run.errMsg)
}

func (s *DigestSchedulerTestSuite) TestRunOnce_PrecheckErrorIsContained() {
	ctx := context.Background()

	s.digests.EXPECT().ExistsForDate(ctx, s.now).Return(false, errors.New("timeout"))

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestErrored, outcome)
	s.Equal(domain.JobStatusError, s.lastFinished().status)
}

func (s *DigestSchedulerTestSuite) TestRunOnce_Disabled() {
	ctx := context.Background()
	s.values.DigestEnabled = false

	outcome, err := s.scheduler.RunOnce(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(domain.DigestSkippedDisabled, outcome)
	run := s.lastFinished()
	s.Equal(domain.JobStatusSkipped, run.status)
	s.Equal("disabled", run.details["reason"])
}

func (s *DigestSchedulerTestSuite) TestNextRun_UsesSetting() {
	s.values.DigestTime = "09:15"

	next, err := s.scheduler.NextRun(context.Background(), s.now)

	s.Require().NoError(err)
	s.Equal(time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC), next)
}

// memoryDigests is a DigestStore and Aggregator backed by a map with the same
// one-row-per-date rule as the database.
type memoryDigests struct {
	mu   sync.Mutex
	rows map[string]*domain.Digest
}

func (m *memoryDigests) ExistsForDate(_ context.Context, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[domain.DateKey(day)]
	return ok, nil
}

func (m *memoryDigests) Generate(_ context.Context, day time.Time) (*domain.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.DateKey(day)
	if _, ok := m.rows[key]; ok {
		return nil, domain.ErrUniqueConflict
	}
	d := &domain.Digest{ID: uuid.New(), Status: domain.DigestStatusReady, ArticleCount: 1}
	m.rows[key] = d
	return d, nil
}

func (s *DigestSchedulerTestSuite) TestRunOnce_SequentialCallsSameDate() {
	ctx := context.Background()
	store := &memoryDigests{rows: map[string]*domain.Digest{}}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	scheduler := NewDigestScheduler(store, store, NewJobRunRecorder(s.jobRuns, s.clock), s.settings, logger)

	first, err := scheduler.RunOnce(ctx, s.now)
	s.Require().NoError(err)
	second, err := scheduler.RunOnce(ctx, s.now.Add(time.Hour))
	s.Require().NoError(err)

	s.Equal(domain.DigestGenerated, first)
	s.Equal(domain.DigestSkippedExists, second)
	s.Len(store.rows, 1)
}

func (s *DigestSchedulerTestSuite) TestRunOnce_ConcurrentCallsSameDate() {
	ctx := context.Background()
	store := &memoryDigests{rows: map[string]*domain.Digest{}}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	var mu sync.Mutex
	jobRuns := &memoryJobRuns{}
	scheduler := NewDigestScheduler(store, store, NewJobRunRecorder(jobRuns, s.clock), s.settings, logger)

	const workers = 8
	outcomes := make([]domain.DigestOutcome, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := scheduler.RunOnce(ctx, s.now)
			mu.Lock()
			defer mu.Unlock()
			s.NoError(err)
			outcomes[i] = outcome
		}()
	}
	wg.Wait()

	generated := 0
	for _, o := range outcomes {
		if o == domain.DigestGenerated {
			generated++
		} else {
			s.Contains([]domain.DigestOutcome{domain.DigestSkippedExists, domain.DigestSkippedConflict}, o)
		}
	}
	s.Equal(1, generated)
	s.Len(store.rows, 1)
}

type memoryJobRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.JobRun
}

func (m *memoryJobRuns) Create(_ context.Context, run *domain.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[uuid.UUID]*domain.JobRun{}
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memoryJobRuns) Finish(_ context.Context, id uuid.UUID, status domain.JobStatus, at time.Time, details domain.Details, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if run.Status != domain.JobStatusRunning {
		return domain.ErrJobRunFinished
	}
	run.Status = status
	run.FinishedAt = &at
	if details != nil {
		run.Details = details
	}
	run.ErrorMessage = errMsg
	return nil
}

func (m *memoryJobRuns) Latest(_ context.Context, jobName string) (*domain.JobRun, error) {
	return nil, domain.ErrNotFound
}
