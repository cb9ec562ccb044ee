// Package tar implements the "tar" direct-backend kind: a tarball URL,
// optionally with "{version}" interpolated from a resolved atom dep
// before fetch (spec §4.3).
package tar

import (
	"context"
	"strings"

	"github.com/ekala-project/eka/fetchcache"
	"github.com/ekala-project/eka/internal/core"
)

var cache *fetchcache.Cache

// SetCache wires the shared fetch cache this backend resolves through.
func SetCache(c *fetchcache.Cache) { cache = c }

func init() {
	core.Register(core.KindTar, func() core.Backend { return &Backend{} })
}

// Backend implements core.Backend for the "tar" kind.
type Backend struct{}

func (b *Backend) Kind() core.Kind { return core.KindTar }

func (b *Backend) Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	if req.Version != "" {
		req.URL = strings.ReplaceAll(req.URL, "{version}", req.Version)
	}
	req.Unpack = true
	resolved, err := cache.Ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	resolved.Unpack = true
	return resolved, nil
}
