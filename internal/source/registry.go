// Package source dispatches fetches to the implementation for a source's type.
package source

import (
	"context"
	"errors"
	"fmt"

	"digest_fetcher/internal/domain"
)

var ErrUnsupportedType = errors.New("unsupported source type")

type Fetcher interface {
	Fetch(ctx context.Context, src *domain.Source) ([]domain.RawArticle, error)
}

// Registry routes each source to the fetcher registered for its type.
type Registry struct {
	fetchers map[domain.SourceType]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[domain.SourceType]Fetcher)}
}

func (r *Registry) Register(t domain.SourceType, f Fetcher) *Registry {
	r.fetchers[t] = f
	return r
}

func (r *Registry) Fetch(ctx context.Context, src *domain.Source) ([]domain.RawArticle, error) {
	f, ok := r.fetchers[src.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, src.Type)
	}
	return f.Fetch(ctx, src)
}
