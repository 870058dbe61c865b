// Package website fetches articles from a site's listing page: it collects
// article links from the listing and downloads each linked page.
package website

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"digest_fetcher/internal/domain"
)

var errNoContent = errors.New("no content extracted")

type Config struct {
	Client      ClientConfig
	MaxArticles int
	Concurrency int
}

type Fetcher struct {
	client      *Client
	maxArticles int
	concurrency int
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Fetcher {
	logger = logger.With("fetcher", domain.SourceTypeWebsite)

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Fetcher{
		client:      NewClient(cfg.Client, logger),
		maxArticles: cfg.MaxArticles,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Fetch returns the articles linked from src's listing page. A listing page
// that cannot be loaded is an error; individual article pages that fail are
// skipped.
func (f *Fetcher) Fetch(ctx context.Context, src *domain.Source) ([]domain.RawArticle, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	listing, err := f.client.Get(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", src.URL, err)
	}

	links, err := ExtractLinks(listing, base)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", src.URL, err)
	}
	if f.maxArticles > 0 && len(links) > f.maxArticles {
		links = links[:f.maxArticles]
	}

	f.logger.Debug("found article links", "source", src.Name, "count", len(links))

	results := make([]*domain.RawArticle, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, link := range links {
		g.Go(func() error {
			article, err := f.fetchArticle(gctx, link)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Warn("skipping article", "url", link, "error", err)
				return nil
			}
			results[i] = article
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch articles for %s: %w", src.Name, err)
	}

	articles := make([]domain.RawArticle, 0, len(results))
	for _, a := range results {
		if a != nil {
			articles = append(articles, *a)
		}
	}

	f.logger.Info("fetched articles", "source", src.Name, "links", len(links), "articles", len(articles))

	return articles, nil
}

func (f *Fetcher) fetchArticle(ctx context.Context, link string) (*domain.RawArticle, error) {
	body, err := f.client.Get(ctx, link)
	if err != nil {
		return nil, err
	}

	p, err := extractPage(body)
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}
	if p.Content == "" {
		return nil, errNoContent
	}

	title := p.Title
	if title == "" {
		title = link
	}

	return &domain.RawArticle{
		URL:         link,
		Title:       title,
		Content:     p.Content,
		PublishedAt: p.PublishedAt,
	}, nil
}
