// Package url implements the "url" direct-backend kind: an eval-time
// single-file URL fetch, resolved through the shared fetch cache.
package url

import (
	"context"

	"github.com/ekala-project/eka/fetchcache"
	"github.com/ekala-project/eka/internal/core"
)

var cache *fetchcache.Cache

// SetCache wires the shared fetch cache this backend resolves through.
// Called once by the collaborator that owns the cache's lifetime
// (mirrors the teacher's ecosystem registration: each internal/direct
// package self-registers in init() but receives its runtime
// dependencies from the caller rather than constructing its own).
func SetCache(c *fetchcache.Cache) { cache = c }

func init() {
	core.Register(core.KindURL, func() core.Backend { return &Backend{} })
}

// Backend implements core.Backend for the "url" kind.
type Backend struct{}

func (b *Backend) Kind() core.Kind { return core.KindURL }

func (b *Backend) Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	return cache.Ingest(ctx, req)
}
