package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/service/mocks"
	"digest_fetcher/internal/settings"
)

type FetchCycleRunnerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	claimer   *mocks.MockSourceClaimer
	fetcher   *mocks.MockFetcher
	upserter  *mocks.MockUpserter
	txManager *mocks.MockTransactionManager
	jobRuns   *mocks.MockJobRunStore
	settings  *mocks.MockSettingsProvider
	clock     *mocks.MockClock
	now       time.Time

	runner *FetchCycleRunner
	values settings.Values

	finished []finishedRun
}

type finishedRun struct {
	status  domain.JobStatus
	details domain.Details
	errMsg  *string
}

func (s *FetchCycleRunnerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.claimer = mocks.NewMockSourceClaimer(s.ctrl)
	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.upserter = mocks.NewMockUpserter(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.jobRuns = mocks.NewMockJobRunStore(s.ctrl)
	s.settings = mocks.NewMockSettingsProvider(s.ctrl)
	s.clock = mocks.NewMockClock(s.ctrl)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.finished = nil

	s.values = settings.Values{FetchEnabled: true, MaxSourcesPerCycle: 10, FetchIntervalMinutes: 60}
	s.settings.EXPECT().Snapshot(gomock.Any()).DoAndReturn(
		func(context.Context) settings.Values { return s.values },
	).AnyTimes()

	s.clock.EXPECT().Now().Return(s.now).AnyTimes()

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()

	s.jobRuns.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.jobRuns.EXPECT().Finish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, status domain.JobStatus, _ time.Time, details domain.Details, msg *string) error {
			s.finished = append(s.finished, finishedRun{status: status, details: details, errMsg: msg})
			return nil
		},
	).AnyTimes()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.runner = NewFetchCycleRunner(
		s.claimer,
		s.fetcher,
		s.upserter,
		s.txManager,
		NewJobRunRecorder(s.jobRuns, s.clock),
		s.settings,
		s.clock,
		time.Minute,
		logger,
	)
}

func (s *FetchCycleRunnerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestFetchCycleRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(FetchCycleRunnerTestSuite))
}

func newSource(name string) *domain.Source {
	return &domain.Source{ID: uuid.New(), Name: name, Type: domain.SourceTypeWebsite, Enabled: true}
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_SourceFailureDoesNotStopOthers() {
	ctx := context.Background()
	alpha, beta, gamma := newSource("alpha"), newSource("beta"), newSource("gamma")
	items := []domain.RawArticle{{URL: "https://example.com/1"}}

	gomock.InOrder(
		s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(alpha, nil),
		s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{alpha.ID}).Return(beta, nil),
		s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{alpha.ID, beta.ID}).Return(gamma, nil),
		s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{alpha.ID, beta.ID, gamma.ID}).Return(nil, domain.ErrNoDueSource),
	)

	s.fetcher.EXPECT().Fetch(gomock.Any(), alpha).Return(items, nil)
	s.fetcher.EXPECT().Fetch(gomock.Any(), beta).Return(nil, errors.New("boom"))
	s.fetcher.EXPECT().Fetch(gomock.Any(), gamma).Return(items, nil)

	s.upserter.EXPECT().Upsert(gomock.Any(), alpha, items).Return(domain.UpsertResult{Inserted: 1}, nil)
	s.upserter.EXPECT().Upsert(gomock.Any(), gamma, items).Return(domain.UpsertResult{Duplicate: 1, FilteredOld: 2}, nil)

	s.claimer.EXPECT().MarkFetched(gomock.Any(), alpha.ID, s.now).Return(nil)
	s.claimer.EXPECT().MarkFetched(gomock.Any(), gamma.ID, s.now).Return(nil)

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(3, stats.SourcesAttempted)
	s.Equal(2, stats.SourcesSucceeded)
	s.Equal(1, stats.Inserted)
	s.Equal(1, stats.Duplicate)
	s.Equal(2, stats.FilteredOld)
	s.Equal([]string{"beta: fetch: boom"}, stats.Errors)

	s.Require().Len(s.finished, 1)
	s.Equal(domain.JobStatusSuccess, s.finished[0].status)
	s.Equal([]string{"beta: fetch: boom"}, s.finished[0].details["errors"])
	s.Equal(3, s.finished[0].details["sources_attempted"])
	s.Nil(s.finished[0].errMsg)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_StopsAtMaxSources() {
	ctx := context.Background()
	alpha := newSource("alpha")

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, gomock.Any()).Return(alpha, nil).Times(1)
	s.fetcher.EXPECT().Fetch(gomock.Any(), alpha).Return(nil, nil)
	s.upserter.EXPECT().Upsert(gomock.Any(), alpha, gomock.Nil()).Return(domain.UpsertResult{}, nil)
	s.claimer.EXPECT().MarkFetched(gomock.Any(), alpha.ID, s.now).Return(nil)

	stats, err := s.runner.RunCycle(ctx, 1)

	s.Require().NoError(err)
	s.Equal(1, stats.SourcesAttempted)
	s.Equal(1, stats.SourcesSucceeded)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_DefaultsToSetting() {
	ctx := context.Background()
	s.values.MaxSourcesPerCycle = 2
	alpha, beta := newSource("alpha"), newSource("beta")

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(alpha, nil)
	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{alpha.ID}).Return(beta, nil)
	s.fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	s.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.UpsertResult{}, nil).Times(2)
	s.claimer.EXPECT().MarkFetched(gomock.Any(), gomock.Any(), s.now).Return(nil).Times(2)

	stats, err := s.runner.RunCycle(ctx, 0)

	s.Require().NoError(err)
	s.Equal(2, stats.SourcesAttempted)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_UsesIntervalSetting() {
	ctx := context.Background()
	s.values.FetchIntervalMinutes = 15

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, 15*time.Minute, []uuid.UUID{}).Return(nil, domain.ErrNoDueSource)

	stats, err := s.runner.RunCycle(ctx, 3)

	s.Require().NoError(err)
	s.Zero(stats.SourcesAttempted)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_UpsertFailureRecorded() {
	ctx := context.Background()
	alpha := newSource("alpha")

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(alpha, nil)
	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{alpha.ID}).Return(nil, domain.ErrNoDueSource)
	s.fetcher.EXPECT().Fetch(gomock.Any(), alpha).Return([]domain.RawArticle{{URL: "u"}}, nil)
	s.upserter.EXPECT().Upsert(gomock.Any(), alpha, gomock.Any()).Return(domain.UpsertResult{}, errors.New("insert failed"))

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(1, stats.SourcesAttempted)
	s.Equal(0, stats.SourcesSucceeded)
	s.Equal([]string{"alpha: insert failed"}, stats.Errors)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_ClaimErrorAbortsCycle() {
	ctx := context.Background()
	claimErr := errors.New("connection refused")

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(nil, claimErr)

	stats, err := s.runner.RunCycle(ctx, 5)

	s.ErrorIs(err, claimErr)
	s.Require().NotNil(stats)
	s.Equal(0, stats.SourcesAttempted)

	s.Require().Len(s.finished, 1)
	s.Equal(domain.JobStatusError, s.finished[0].status)
	s.Require().NotNil(s.finished[0].errMsg)
	s.Equal("connection refused", *s.finished[0].errMsg)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_NothingDue() {
	ctx := context.Background()

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(nil, domain.ErrNoDueSource)

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(0, stats.SourcesAttempted)
	s.Require().Len(s.finished, 1)
	s.Equal(domain.JobStatusSuccess, s.finished[0].status)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_Disabled() {
	ctx := context.Background()
	s.values.FetchEnabled = false

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(0, stats.SourcesAttempted)
	s.Require().Len(s.finished, 1)
	s.Equal(domain.JobStatusSkipped, s.finished[0].status)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_CancelledBeforeClaim() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(0, stats.SourcesAttempted)
	s.Require().Len(s.finished, 1)
	s.Equal(domain.JobStatusSuccess, s.finished[0].status)
}

func (s *FetchCycleRunnerTestSuite) TestRunCycle_InFlightSourceSurvivesCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	alpha := newSource("alpha")

	s.claimer.EXPECT().ClaimNextDue(gomock.Any(), s.now, time.Hour, []uuid.UUID{}).Return(alpha, nil)
	s.fetcher.EXPECT().Fetch(gomock.Any(), alpha).DoAndReturn(
		func(fetchCtx context.Context, _ *domain.Source) ([]domain.RawArticle, error) {
			cancel()
			s.NoError(fetchCtx.Err())
			return nil, nil
		},
	)
	s.upserter.EXPECT().Upsert(gomock.Any(), alpha, gomock.Any()).Return(domain.UpsertResult{}, nil)
	s.claimer.EXPECT().MarkFetched(gomock.Any(), alpha.ID, s.now).Return(nil)

	stats, err := s.runner.RunCycle(ctx, 5)

	s.Require().NoError(err)
	s.Equal(1, stats.SourcesAttempted)
	s.Equal(1, stats.SourcesSucceeded)
}
