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
	"digest_fetcher/testdata/utils"
)

type ArticleUpserterTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	articles  *mocks.MockArticleStore
	txManager *mocks.MockTransactionManager
	clock     *mocks.MockClock
	now       time.Time

	upserter *ArticleUpserter
	source   *domain.Source
}

func (s *ArticleUpserterTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.clock = mocks.NewMockClock(s.ctrl)
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.clock.EXPECT().Now().Return(s.now).AnyTimes()

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.upserter = NewArticleUpserter(s.articles, s.txManager, s.clock, 24*time.Hour, logger)

	s.source = &domain.Source{
		ID:            uuid.New(),
		Name:          "Example",
		URL:           "https://example.com",
		Type:          domain.SourceTypeWebsite,
		DigestSection: utils.Ptr("tech"),
		Enabled:       true,
	}
}

func (s *ArticleUpserterTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestArticleUpserterTestSuite(t *testing.T) {
	suite.Run(t, new(ArticleUpserterTestSuite))
}

func urls(articles []domain.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.URL
	}
	return out
}

func (s *ArticleUpserterTestSuite) TestUpsert_DuplicateWithinBatch() {
	ctx := context.Background()
	candidates := []domain.RawArticle{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/a", Title: "A again"},
		{URL: "https://example.com/b", Title: "B"},
	}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, batch []domain.Article) ([]string, error) {
			s.Equal([]string{"https://example.com/a", "https://example.com/b"}, urls(batch))
			return urls(batch), nil
		},
	)

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(2, result.Inserted)
	s.Equal(1, result.Duplicate)
}

func (s *ArticleUpserterTestSuite) TestUpsert_ResubmissionOnlyCountsDuplicates() {
	ctx := context.Background()
	candidates := []domain.RawArticle{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b", Title: "B"},
	}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).Return(nil, nil)

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(0, result.Inserted)
	s.Equal(2, result.Duplicate)
}

func (s *ArticleUpserterTestSuite) TestUpsert_MapsSourceFields() {
	ctx := context.Background()
	published := s.now.Add(-time.Hour)
	candidates := []domain.RawArticle{
		{URL: "https://example.com/a", Title: "A", Content: "body", PublishedAt: &published},
		{URL: "https://example.com/b"},
	}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, batch []domain.Article) ([]string, error) {
			s.Require().Len(batch, 2)
			s.Equal(s.source.ID, batch[0].SourceID)
			s.Equal("tech", *batch[0].DigestSection)
			s.Equal("body", *batch[0].RawContent)
			s.Equal(&published, batch[0].PublishedAt)
			s.Equal(s.now, batch[0].FetchedAt)

			s.Equal("https://example.com/b", batch[1].Title)
			s.Nil(batch[1].RawContent)
			return urls(batch), nil
		},
	)

	_, err := s.upserter.Upsert(ctx, s.source, candidates)
	s.NoError(err)
}

func (s *ArticleUpserterTestSuite) TestUpsert_FiltersOlderThanLastFetch() {
	ctx := context.Background()
	lastFetched := s.now.Add(-2 * time.Hour)
	s.source.LastFetchedAt = &lastFetched

	older := s.now.Add(-3 * time.Hour)
	newer := s.now.Add(-time.Hour)
	candidates := []domain.RawArticle{
		{URL: "https://example.com/old", PublishedAt: &older},
		{URL: "https://example.com/new", PublishedAt: &newer},
		{URL: "https://example.com/undated"},
	}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, batch []domain.Article) ([]string, error) {
			s.Equal([]string{"https://example.com/new", "https://example.com/undated"}, urls(batch))
			return urls(batch), nil
		},
	)

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(1, result.FilteredOld)
	s.Equal(2, result.Inserted)
}

func (s *ArticleUpserterTestSuite) TestUpsert_FirstFetchUsesLookback() {
	ctx := context.Background()
	tooOld := s.now.Add(-25 * time.Hour)
	candidates := []domain.RawArticle{
		{URL: "https://example.com/old", PublishedAt: &tooOld},
	}

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(domain.UpsertResult{FilteredOld: 1}, result)
}

func (s *ArticleUpserterTestSuite) TestUpsert_KeywordFilter() {
	ctx := context.Background()
	s.source.Keywords = []string{"Golang", " postgres "}
	candidates := []domain.RawArticle{
		{URL: "https://example.com/1", Title: "Why GOLANG is fun"},
		{URL: "https://example.com/2", Title: "Databases", Content: "all about PostgreSQL"},
		{URL: "https://example.com/3", Title: "Cooking"},
	}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, batch []domain.Article) ([]string, error) {
			return urls(batch), nil
		},
	)

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(2, result.Inserted)
	s.Equal(1, result.FilteredKeyword)
}

func (s *ArticleUpserterTestSuite) TestUpsert_EmptyURLNotCounted() {
	ctx := context.Background()
	candidates := []domain.RawArticle{{Title: "no link"}}

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Require().NoError(err)
	s.Equal(domain.UpsertResult{}, result)
}

func (s *ArticleUpserterTestSuite) TestUpsert_StoreError() {
	ctx := context.Background()
	candidates := []domain.RawArticle{{URL: "https://example.com/a"}}

	s.articles.EXPECT().InsertBatch(ctx, gomock.Any()).Return(nil, errors.New("connection reset"))

	result, err := s.upserter.Upsert(ctx, s.source, candidates)

	s.Error(err)
	s.Contains(err.Error(), "Example")
	s.Equal(domain.UpsertResult{}, result)
}
