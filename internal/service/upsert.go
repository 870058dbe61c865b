package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"digest_fetcher/internal/domain"
)

// maxTitleLen matches articles.title.
const maxTitleLen = 500

// ArticleUpserter filters a source's fetched candidates and persists the
// survivors, deduplicating on URL.
type ArticleUpserter struct {
	articles  ArticleStore
	txManager TransactionManager
	clock     Clock
	lookback  time.Duration
	logger    *slog.Logger
}

// NewArticleUpserter creates an upserter. lookback bounds the age of
// accepted items for sources that were never fetched.
func NewArticleUpserter(
	articles ArticleStore,
	txManager TransactionManager,
	clock Clock,
	lookback time.Duration,
	logger *slog.Logger,
) *ArticleUpserter {
	return &ArticleUpserter{
		articles:  articles,
		txManager: txManager,
		clock:     clock,
		lookback:  lookback,
		logger:    logger.With("component", "upserter"),
	}
}

// Upsert persists the candidates of src. Re-submitting the same URLs only
// increases Duplicate. A transaction already on ctx is joined.
func (u *ArticleUpserter) Upsert(ctx context.Context, src *domain.Source, candidates []domain.RawArticle) (domain.UpsertResult, error) {
	var result domain.UpsertResult

	now := u.clock.Now().UTC()
	cutoff := now.Add(-u.lookback)
	if src.LastFetchedAt != nil {
		cutoff = *src.LastFetchedAt
	}

	keywords := lowerAll(src.Keywords)
	seen := make(map[string]struct{}, len(candidates))

	batch := make([]domain.Article, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" {
			u.logger.Debug("skipping candidate without url", "source", src.Name, "title", c.Title)
			continue
		}
		if c.PublishedAt != nil && c.PublishedAt.Before(cutoff) {
			result.FilteredOld++
			continue
		}
		if !matchesKeywords(c, keywords) {
			result.FilteredKeyword++
			continue
		}

		// Repeats within one batch count as duplicates without a round trip.
		if _, ok := seen[c.URL]; ok {
			result.Duplicate++
			continue
		}
		seen[c.URL] = struct{}{}

		batch = append(batch, toArticle(src, c, now))
	}

	if len(batch) == 0 {
		return result, nil
	}

	var inserted []string
	err := u.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inserted, err = u.articles.InsertBatch(txCtx, batch)
		return err
	})
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("insert articles for %s: %w", src.Name, err)
	}

	result.Inserted = len(inserted)
	result.Duplicate += len(batch) - len(inserted)

	u.logger.Debug("upserted articles",
		"source", src.Name,
		"inserted", result.Inserted,
		"duplicate", result.Duplicate,
		"filtered_old", result.FilteredOld,
		"filtered_keyword", result.FilteredKeyword,
	)

	return result, nil
}

func toArticle(src *domain.Source, c domain.RawArticle, fetchedAt time.Time) domain.Article {
	a := domain.Article{
		SourceID:      src.ID,
		URL:           c.URL,
		Title:         c.Title,
		DigestSection: src.DigestSection,
		PublishedAt:   c.PublishedAt,
		FetchedAt:     fetchedAt,
	}
	if a.Title == "" {
		a.Title = c.URL
	}
	a.Title = truncate(a.Title, maxTitleLen)
	if c.Content != "" {
		content := c.Content
		a.RawContent = &content
	}
	return a
}

func matchesKeywords(c domain.RawArticle, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(c.Title + " " + c.Content)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
