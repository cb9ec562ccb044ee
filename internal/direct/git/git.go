// Package git implements the "git" direct-backend kind: a plain Git
// repository dependency, pinned by an explicit ref or resolved by
// semver over its tags (spec §4.3, §4.6 "Direct Git resolution").
package git

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/resolve"
)

var store *gitstore.Store

// SetStore wires the shared remote ref store this backend resolves
// through.
func SetStore(s *gitstore.Store) { store = s }

func init() {
	core.Register(core.KindGit, func() core.Backend { return &Backend{} })
}

// Backend implements core.Backend for the "git" kind.
type Backend struct{}

func (b *Backend) Kind() core.Kind { return core.KindGit }

func (b *Backend) Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	if req.Ref != "" {
		return resolveExplicitRef(ctx, req)
	}
	if req.Version != "" {
		return resolveVersionedTag(ctx, req)
	}
	return nil, &core.InputError{Field: "deps.direct.git." + req.Name, Reason: "must set either ref or version"}
}

// resolveExplicitRef accepts a branch, tag, or literal commit id and
// returns the commit id it points at.
func resolveExplicitRef(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	for _, glob := range []string{"refs/tags/" + req.Ref, "refs/heads/" + req.Ref} {
		refs, err := store.ListRefs(ctx, req.URL, glob)
		if err != nil {
			return nil, err
		}
		if len(refs) == 1 {
			return &core.Resolved{URL: req.URL, Rev: refs[0].ObjectID, Exec: req.Exec, Unpack: req.Unpack}, nil
		}
	}
	// Not a known branch or tag name; treat the literal value as a
	// commit id the caller already resolved out-of-band.
	return &core.Resolved{URL: req.URL, Rev: req.Ref, Exec: req.Exec, Unpack: req.Unpack}, nil
}

func resolveVersionedTag(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	rng, err := semver.NewConstraint(req.Version)
	if err != nil {
		return nil, &core.InputError{Field: "deps.direct.git." + req.Name + ".version", Reason: err.Error(), Wrapped: err}
	}
	refs, err := store.ListRefs(ctx, req.URL, "refs/tags/*")
	if err != nil {
		return nil, err
	}
	_, rev, err := resolve.SelectHighestTag(refs, rng, fmt.Sprintf("%s (%s)", req.Name, req.URL))
	if err != nil {
		return nil, err
	}
	return &core.Resolved{URL: req.URL, Rev: rev, Exec: req.Exec, Unpack: req.Unpack}, nil
}
