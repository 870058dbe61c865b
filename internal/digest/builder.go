// Package digest assembles the daily digest from unassigned articles.
package digest

//go:generate mockgen -source=builder.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"digest_fetcher/internal/domain"
	"digest_fetcher/internal/settings"
)

var ErrNoArticles = errors.New("no unprocessed articles")

type Store interface {
	Create(ctx context.Context, day time.Time) (*domain.Digest, error)
	AssignUnprocessed(ctx context.Context, digestID uuid.UUID, sections []string) (int, error)
	MarkReady(ctx context.Context, id uuid.UUID, articleCount int) error
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Publisher interface {
	PublishDigest(ctx context.Context, digest *domain.Digest) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type SettingsProvider interface {
	Snapshot(ctx context.Context) settings.Values
}

type Builder struct {
	store     Store
	txManager TransactionManager
	publisher Publisher
	settings  SettingsProvider
	now       func() time.Time
	logger    *slog.Logger
}

// NewBuilder creates a builder. publisher may be nil, which disables
// notifications regardless of settings.
func NewBuilder(
	store Store,
	txManager TransactionManager,
	publisher Publisher,
	settings SettingsProvider,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		store:     store,
		txManager: txManager,
		publisher: publisher,
		settings:  settings,
		now:       time.Now,
		logger:    logger.With("component", "digest_builder"),
	}
}

// Generate creates the digest for day's UTC date and assigns every
// unprocessed article in the enabled sections to it, all in one transaction.
// A digest that already exists for the date yields domain.ErrUniqueConflict.
func (b *Builder) Generate(ctx context.Context, day time.Time) (*domain.Digest, error) {
	snapshot := b.settings.Snapshot(ctx)

	var digest *domain.Digest
	err := b.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		d, err := b.store.Create(txCtx, day)
		if err != nil {
			return err
		}

		n, err := b.store.AssignUnprocessed(txCtx, d.ID, snapshot.DigestSections)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoArticles
		}

		if err := b.store.MarkReady(txCtx, d.ID, n); err != nil {
			return err
		}

		d.Status = domain.DigestStatusReady
		d.ArticleCount = n
		digest = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build digest for %s: %w", domain.DateKey(day), err)
	}

	b.logger.Info("digest built",
		"digest_id", digest.ID,
		"date", domain.DateKey(day),
		"article_count", digest.ArticleCount,
	)

	if snapshot.Notifications && b.publisher != nil {
		b.notify(ctx, digest)
	}

	return digest, nil
}

// notify publishes the digest. Failure leaves notified_at unset so the
// digest can be announced later; it does not fail the build.
func (b *Builder) notify(ctx context.Context, digest *domain.Digest) {
	if err := b.publisher.PublishDigest(ctx, digest); err != nil {
		b.logger.Warn("digest notification failed", "digest_id", digest.ID, "error", err)
		return
	}

	at := b.now().UTC()
	if err := b.store.MarkNotified(ctx, digest.ID, at); err != nil {
		b.logger.Warn("mark digest notified", "digest_id", digest.ID, "error", err)
		return
	}
	digest.NotifiedAt = &at
}
