// Package eka is the top-level facade over the atom identity, manifest,
// lock, remote ref store, resolver, fetch cache, and publisher
// components, re-exporting the handful of types and constructors a
// caller needs without reaching into each subpackage directly — the
// same shape the teacher's root registries.go package gave its registry
// constructors.
package eka

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/ekala-project/eka/fetchcache"
	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/core"
	directbuild "github.com/ekala-project/eka/internal/direct/build"
	directgit "github.com/ekala-project/eka/internal/direct/git"
	directtar "github.com/ekala-project/eka/internal/direct/tar"
	directurl "github.com/ekala-project/eka/internal/direct/url"
	"github.com/ekala-project/eka/lock"
	"github.com/ekala-project/eka/manifest"
	"github.com/ekala-project/eka/publish"
	"github.com/ekala-project/eka/resolve"
	"github.com/ekala-project/eka/uri"

	// all registers every direct-backend kind (url/git/tar/build) with
	// internal/core by side effect; WireDirectBackends then supplies the
	// runtime collaborators registration itself doesn't carry.
	_ "github.com/ekala-project/eka/all"
)

// Re-exported identity types.
type (
	Label  = identity.Label
	Origin = identity.Origin
	AtomID = identity.AtomID
)

// ComputeAtomID derives the AtomId for (origin, label).
func ComputeAtomID(origin Origin, label Label) AtomID { return identity.Compute(origin, label) }

// ParseLabel validates and parses a raw atom label.
func ParseLabel(s string) (Label, error) { return identity.ParseLabel(s) }

// Re-exported URI parsing.
type URI = uri.URI

// ParseURI parses the dependency-reference surface syntax (spec §4.2).
func ParseURI(s string, aliases uri.AliasTable) (URI, error) { return uri.Parse(s, aliases) }

// Re-exported manifest types.
type (
	SetManifest  = manifest.SetManifest
	AtomManifest = manifest.AtomManifest
)

// LoadSetManifest loads ekala.toml at path.
func LoadSetManifest(path string) (*SetManifest, error) { return manifest.LoadSetManifest(path) }

// LoadAtomManifest loads atom.toml at path.
func LoadAtomManifest(path string) (*AtomManifest, error) { return manifest.LoadAtomManifest(path) }

// Re-exported lockfile types.
type Lockfile = lock.Lockfile

// LoadLockfile loads atom.lock at path, or an empty lockfile if absent.
func LoadLockfile(path string) (*Lockfile, error) { return lock.Load(path) }

// Re-exported remote ref store.
type (
	RemoteStore = gitstore.Store
	Ref         = gitstore.Ref
)

// NewRemoteStore constructs a Store for talking to Git remotes.
func NewRemoteStore() *RemoteStore { return gitstore.NewStore() }

// Re-exported resolver and synchronization entry point.
type Resolver = resolve.Resolver

// NewResolver constructs a Resolver from its collaborators.
func NewResolver(refs resolve.RefStore, origins resolve.OriginLookup, pins resolve.PinResolver) *Resolver {
	return resolve.NewResolver(refs, origins, pins)
}

// Synchronize runs the manifest/lock reconciliation loop (spec §4.6).
var Synchronize = resolve.Synchronize

// OriginLookup is the production resolve.OriginLookup (spec §4.6 step 4):
// a mirror's origin comes from refs/ekala/init on that remote, a local
// ("::") set's origin comes from walking its own history to the root
// commit.
type OriginLookup = gitstore.OriginLookup

// NewOriginLookup constructs an OriginLookup. localRepo/localHead supply
// the "::" case (the same repository and commit a caller would otherwise
// pass to Publisher.Publish); pass a nil repo if the caller never
// resolves a local set.
func NewOriginLookup(store *RemoteStore, localRepo *git.Repository, localHead plumbing.Hash) *OriginLookup {
	return gitstore.NewOriginLookup(store, localRepo, localHead)
}

// DirectPinResolver is the production resolve.PinResolver: it routes a
// direct-dependency requirement to whichever internal/direct/* backend
// is registered for req.Kind (spec §4.6 step 3, §4.7). Its zero value is
// ready to use; WireDirectBackends must run first so the backends it
// dispatches to have a cache and store to resolve through.
type DirectPinResolver struct{}

// NewDirectPinResolver constructs a DirectPinResolver.
func NewDirectPinResolver() *DirectPinResolver { return &DirectPinResolver{} }

// Resolve implements resolve.PinResolver.
func (DirectPinResolver) Resolve(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	backend, err := core.New(req.Kind)
	if err != nil {
		return nil, err
	}
	return backend.Resolve(ctx, req)
}

// WireDirectBackends supplies the shared fetch cache and remote ref
// store to every registered direct-backend kind: url/tar/build resolve
// through cache, git resolves through store. Call this once, after
// constructing cache and store and before the first DirectPinResolver.Resolve
// (importing package eka has already registered every kind via all's
// blank import; this only wires their runtime collaborators).
func WireDirectBackends(cache *FetchCache, store *RemoteStore) {
	directurl.SetCache(cache)
	directtar.SetCache(cache)
	directbuild.SetCache(cache)
	directgit.SetStore(store)
}

// Re-exported fetch cache.
type FetchCache = fetchcache.Cache

// NewFetchCache constructs a Cache rooted at dir, backed by store for
// its manifest-record index and fetcher for network access.
func NewFetchCache(dir string, store fetchcache.Store, fetcher *fetchcache.CircuitBreakerFetcher) *FetchCache {
	return fetchcache.NewCache(dir, store, fetcher)
}

// Re-exported publisher.
type (
	Publisher    = publish.Publisher
	AtomOutcome  = publish.AtomOutcome
	AtomToPublish = publish.AtomToPublish
)

// NewPublisher constructs a Publisher over store.
func NewPublisher(store *RemoteStore) *Publisher { return publish.NewPublisher(store) }

// Re-exported error taxonomy (spec §7).
type (
	ErrUnknownBackend = core.ErrUnknownBackend
	InputError        = core.InputError
	ConsistencyError  = core.ConsistencyError
	RemoteError       = core.RemoteError
	ResolutionError   = core.ResolutionError
	IntegrityError    = core.IntegrityError
)
