package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"digest_fetcher/internal/domain"
)

// articleInsertColumns must match the argument order in InsertBatch.
const articleInsertColumns = 7

// maxBatchRows keeps each statement well under the 65535 bind-parameter limit.
const maxBatchRows = 1000

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// InsertBatch inserts articles whose URL is not yet stored and returns the URLs
// of the rows actually created. Conflicting rows, including duplicates within
// the same batch, are ignored and never modified.
//
// Call it inside a transaction when the batch may span several statements;
// otherwise each chunk commits on its own.
func (s *ArticleStore) InsertBatch(ctx context.Context, articles []domain.Article) ([]string, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	exec := GetExecutor(ctx, s.db)

	var inserted []string
	for start := 0; start < len(articles); start += maxBatchRows {
		end := min(start+maxBatchRows, len(articles))

		urls, err := s.insertChunk(ctx, exec, articles[start:end])
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, urls...)
	}

	return inserted, nil
}

func (s *ArticleStore) insertChunk(ctx context.Context, exec sqlx.ExtContext, articles []domain.Article) ([]string, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO articles (id, source_id, url, title, raw_content, digest_section, published_at, fetched_at) VALUES `)
	valueArgs := make([]any, 0, len(articles)*articleInsertColumns)

	for i, a := range articles {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * articleInsertColumns
		sb.WriteString("(gen_random_uuid()")
		for col := 1; col <= articleInsertColumns; col++ {
			sb.WriteString(", $")
			sb.WriteString(strconv.Itoa(base + col))
		}
		sb.WriteString(")")

		valueArgs = append(valueArgs,
			a.SourceID,
			a.URL,
			a.Title,
			a.RawContent,
			a.DigestSection,
			a.PublishedAt,
			a.FetchedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (url) DO NOTHING RETURNING url")

	rows, err := exec.QueryContext(ctx, sb.String(), valueArgs...)
	if err != nil {
		return nil, fmt.Errorf("insert articles: %w", err)
	}
	defer rows.Close()

	var inserted []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan inserted url: %w", err)
		}
		inserted = append(inserted, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert articles: %w", err)
	}

	return inserted, nil
}

// CountBySource returns how many articles a source owns.
func (s *ArticleStore) CountBySource(ctx context.Context, sourceID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &n,
		`SELECT COUNT(*) FROM articles WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}
