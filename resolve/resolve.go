// Package resolve implements atom and direct-dependency resolution and
// the manifest/lock synchronization algorithm (spec §4.6).
package resolve

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/lock"
	"github.com/ekala-project/eka/manifest"
)

// RefStore is the subset of gitstore.Store's surface the resolver needs,
// narrowed to an interface so resolution logic can be tested against a
// fake without a real Git transport.
type RefStore interface {
	ListRefs(ctx context.Context, remoteURL, glob string) ([]gitstore.Ref, error)
}

// OriginLookup resolves a mirror's origin value, either by reading
// refs/ekala/init from the remote (mirror case) or from the local set's
// own history (the "::" case). Kept as an interface so resolve does not
// need to know how a local origin is derived.
type OriginLookup interface {
	Origin(ctx context.Context, mirror string, isLocal bool) (identity.Origin, error)
}

// Resolver resolves manifest requirements against remotes and the fetch
// cache, and runs the synchronization algorithm.
type Resolver struct {
	Refs    RefStore
	Origins OriginLookup
	Pins    PinResolver
}

// PinResolver resolves a direct-dependency requirement to a content
// integrity hash, delegating to the fetch cache (spec §4.7).
type PinResolver interface {
	Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error)
}

// NewResolver constructs a Resolver from its three collaborators.
func NewResolver(refs RefStore, origins OriginLookup, pins PinResolver) *Resolver {
	return &Resolver{Refs: refs, Origins: origins, Pins: pins}
}

var atomVersionRef = regexp.MustCompile(`^refs/ekala/atoms/([^/]+)/(.+)$`)

// ResolveAtom implements spec §4.6 "Atom resolution": fall through
// mirrors in order, list the label's atom refs, pick the highest
// version satisfying rng, and return the lock entry for it.
func (r *Resolver) ResolveAtom(ctx context.Context, set manifest.SetRef, label string, rng *semver.Constraints) (*lock.AtomLock, error) {
	mirrors := set.Mirrors
	if set.Local {
		mirrors = []string{"::"}
	}
	if len(mirrors) == 0 {
		return nil, &core.ResolutionError{Label: label, Constraint: rng.String()}
	}

	var lastErr error
	for _, mirror := range mirrors {
		entry, err := r.resolveAtomAtMirror(ctx, mirror, set.Local, label, rng)
		if err == nil {
			return entry, nil
		}
		var remoteErr *core.RemoteError
		if !asRemoteError(err, &remoteErr) {
			return nil, err // non-retriable (e.g. NoMatchingVersion)
		}
		lastErr = err
	}
	return nil, &core.RemoteError{Remote: "(all mirrors)", Reason: "no mirror reachable", Wrapped: lastErr}
}

func (r *Resolver) resolveAtomAtMirror(ctx context.Context, mirror string, isLocal bool, label string, rng *semver.Constraints) (*lock.AtomLock, error) {
	refs, err := r.Refs.ListRefs(ctx, mirror, fmt.Sprintf("refs/ekala/atoms/%s/*", label))
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, &core.ResolutionError{Label: label, Constraint: rng.String()}
	}

	type candidate struct {
		version *semver.Version
		objID   string
	}
	var candidates []candidate
	for _, ref := range refs {
		m := atomVersionRef.FindStringSubmatch(ref.Name)
		if m == nil || m[1] != label {
			continue
		}
		v, err := semver.NewVersion(m[2])
		if err != nil {
			continue // non-conforming version component, drop per spec §4.6 step 2
		}
		candidates = append(candidates, candidate{version: v, objID: ref.ObjectID})
	}
	if len(candidates) == 0 {
		return nil, &core.ResolutionError{Label: label, Constraint: rng.String()}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].version.LessThan(candidates[j].version) })

	var winner *candidate
	for i := len(candidates) - 1; i >= 0; i-- {
		if rng.Check(candidates[i].version) {
			winner = &candidates[i]
			break
		}
	}
	if winner == nil {
		versions := make([]string, len(candidates))
		for i, c := range candidates {
			versions[i] = c.version.String()
		}
		return nil, &core.ResolutionError{Label: label, Constraint: rng.String(), Candidates: versions}
	}

	origin, err := r.Origins.Origin(ctx, mirror, isLocal)
	if err != nil {
		return nil, err
	}
	id := identity.Compute(origin, identity.Label(label))

	return &lock.AtomLock{
		Label:   label,
		Version: winner.version,
		Set:     origin.Hex(),
		Rev:     winner.objID,
		ID:      id.Bytes(),
	}, nil
}

func asRemoteError(err error, target **core.RemoteError) bool {
	re, ok := err.(*core.RemoteError)
	if !ok {
		return false
	}
	*target = re
	return true
}

var semverTagPattern = regexp.MustCompile(`^v?(\d+\.\d+\.\d+.*)$`)

// ResolveDirectGitTag implements spec §4.6 "Direct Git resolution with
// version": list ordinary refs/tags/*, filter client-side by a standard
// semver regex, and pick the highest tag satisfying rng.
func (r *Resolver) ResolveDirectGitTag(ctx context.Context, remoteURL string, rng *semver.Constraints) (version *semver.Version, rev string, err error) {
	refs, err := r.Refs.ListRefs(ctx, remoteURL, "refs/tags/*")
	if err != nil {
		return nil, "", err
	}
	return SelectHighestTag(refs, rng, remoteURL)
}

// SelectHighestTag filters refs/tags/* entries by a standard semver
// regex and returns the highest version satisfying rng along with its
// object id. Exported so internal/direct/git can reuse the exact same
// selection rule without depending on a full Resolver.
func SelectHighestTag(refs []gitstore.Ref, rng *semver.Constraints, label string) (version *semver.Version, rev string, err error) {
	type candidate struct {
		version *semver.Version
		objID   string
	}
	var candidates []candidate
	for _, ref := range refs {
		name := ref.Name
		const prefix = "refs/tags/"
		if len(name) <= len(prefix) {
			continue
		}
		tag := name[len(prefix):]
		m := semverTagPattern.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		v, err := semver.NewVersion(m[1])
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{version: v, objID: ref.ObjectID})
	}
	if len(candidates) == 0 {
		return nil, "", &core.ResolutionError{Label: label, Constraint: rng.String()}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].version.LessThan(candidates[j].version) })
	for i := len(candidates) - 1; i >= 0; i-- {
		if rng.Check(candidates[i].version) {
			return candidates[i].version, candidates[i].objID, nil
		}
	}
	return nil, "", &core.ResolutionError{Label: label, Constraint: rng.String()}
}
