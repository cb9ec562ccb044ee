// Package build implements the "build" direct-backend kind: the same
// single-file URL fetch as "url", deferred to build time rather than
// eval time (spec §4.3). The core has one resolve phase, so "deferred"
// here means the fetch cache still performs the NAR-hash ingest during
// synchronize the same as it does for "url" — the distinction a build
// backend cares about is evaluation-time ordering in the consuming
// build system, which is out of scope (spec §2 Non-goals: "any
// evaluation or build backend").
package build

import (
	"context"

	"github.com/ekala-project/eka/fetchcache"
	"github.com/ekala-project/eka/internal/core"
)

var cache *fetchcache.Cache

// SetCache wires the shared fetch cache this backend resolves through.
func SetCache(c *fetchcache.Cache) { cache = c }

func init() {
	core.Register(core.KindBuild, func() core.Backend { return &Backend{} })
}

// Backend implements core.Backend for the "build" kind.
type Backend struct{}

func (b *Backend) Kind() core.Kind { return core.KindBuild }

func (b *Backend) Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	return cache.Ingest(ctx, req)
}
