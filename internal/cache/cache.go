package cache

import (
	"context"
	"time"

	"ventaspos/backend/internal/domain"
)

// ProductLookupCache caches product-by-code lookups used to pre-fill the
// add-product form. Entries are invalidated whenever the product mutates, so
// the cache only ever shortens the read path.
type ProductLookupCache interface {
	Get(ctx context.Context, code string) (*domain.Product, bool, error)
	Set(ctx context.Context, code string, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, code string) error
}

type NoopProductLookupCache struct{}

func (NoopProductLookupCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductLookupCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductLookupCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
