// Package gitstore implements the remote ref store (spec §4.5): list_refs,
// fetch_objects, push_refs and init_remote, built on github.com/go-git/go-git/v5
// and github.com/go-git/go-billy/v5 — the same pair the teacher pulls in
// transitively for its own registry-side tag handling, promoted here to a
// direct dependency since this component's entire job is talking to Git
// remotes without shelling out to the `git` binary.
//
// Every remote ref the system publishes or reads lives under the fixed
// refs/ekala/ hierarchy; this package is agnostic to that naming and just
// moves refs and objects, leaving the hierarchy's shape to publish and
// resolve.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ekala-project/eka/internal/core"
)

// InitRef is the implicit root-anchor ref every set's remote carries.
const InitRef = "refs/ekala/init"

// Ref is one (name, object id) pair returned by ListRefs.
type Ref struct {
	Name     string
	ObjectID string // hex
}

// RefUpdate is one ref to create or move, passed to PushRefs.
type RefUpdate struct {
	Name     string
	ObjectID string // hex
}

// Store talks to a single Git remote at a time; all methods take the
// remote URL explicitly rather than binding one at construction, since a
// single resolve or publish call fans out across many mirrors.
type Store struct{}

// NewStore constructs a Store. It holds no per-remote state: go-git's
// transport layer does its own connection pooling per call.
func NewStore() *Store { return &Store{} }

func anonRemote(remoteURL string) *git.Remote {
	return git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "list",
		URLs: []string{remoteURL},
	})
}

// ListRefs performs a single ls-refs-style query against remoteURL,
// returning every ref matching glob (a "*"-suffixed prefix, e.g.
// "refs/ekala/atoms/button/*"). go-git's transport does not expose
// server-side ref filtering, so this filters client-side after listing —
// still a single round trip. A remote with no refs at all yields an
// empty list, not an error.
func (s *Store) ListRefs(ctx context.Context, remoteURL, glob string) ([]Ref, error) {
	refs, err := anonRemote(remoteURL).ListContext(ctx, &git.ListOptions{})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return []Ref{}, nil
	}
	if err != nil {
		return nil, &core.RemoteError{Remote: remoteURL, Reason: "list_refs: " + err.Error(), Wrapped: err}
	}

	prefix := strings.TrimSuffix(glob, "*")
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		name := r.Name().String()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if r.Type() != plumbing.HashReference {
			continue
		}
		out = append(out, Ref{Name: name, ObjectID: r.Hash().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FetchObjects fetches the object graph reachable from each named ref,
// shallowly when shallow is true (depth 1: just the commit and its tree,
// per spec §4.5 "minimal object download"), into an in-memory
// repository the caller can then inspect (e.g. via a Walker).
func (s *Store) FetchObjects(ctx context.Context, remoteURL string, refNames []string, shallow bool) (*git.Repository, error) {
	storer := memory.NewStorage()
	repo, err := git.Init(storer, nil)
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}}); err != nil {
		return nil, err
	}

	specs := make([]config.RefSpec, 0, len(refNames))
	for _, name := range refNames {
		specs = append(specs, config.RefSpec(fmt.Sprintf("+%s:%s", name, name)))
	}

	opts := &git.FetchOptions{RemoteName: "origin", RefSpecs: specs, Tags: git.NoTags}
	if shallow {
		opts.Depth = 1
	}

	if err := repo.FetchContext(ctx, opts); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, &core.RemoteError{Remote: remoteURL, Reason: "fetch_objects: " + err.Error(), Wrapped: err}
	}
	return repo, nil
}

// PushRefs publishes refs to remoteURL. Within one call all refs are
// pushed together in a single negotiation, which is how the Git smart
// protocol amortizes a multi-ref push over one connection. The remote is
// built in memory over objectSource's object storage and is not added to
// objectSource's configuration. publish calls this once per atom, one
// atom after another, against a single remote; neither this package nor
// publish pushes in parallel.
func (s *Store) PushRefs(ctx context.Context, remoteURL string, updates []RefUpdate, objectSource *git.Repository) error {
	if objectSource == nil {
		return fmt.Errorf("gitstore: PushRefs requires an object source repository")
	}
	const remoteName = "push"
	remote := git.NewRemote(objectSource.Storer, &config.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	})

	specs := make([]config.RefSpec, 0, len(updates))
	for _, u := range updates {
		specs = append(specs, config.RefSpec(fmt.Sprintf("%s:%s", u.ObjectID, u.Name)))
	}

	err := remote.PushContext(ctx, &git.PushOptions{RemoteName: remoteName, RefSpecs: specs})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return &core.RemoteError{Remote: remoteURL, Reason: "push_refs: " + err.Error(), Wrapped: err}
	}
	return nil
}

// InitRemote idempotently establishes refs/ekala/init on remoteURL: if
// the ref already exists, its object id must match rootCommit exactly
// (a differing init is a consistency error, not something this retries
// past); if absent, it is created.
func (s *Store) InitRemote(ctx context.Context, remoteURL string, rootCommit string, objectSource *git.Repository) error {
	existing, err := s.ListRefs(ctx, remoteURL, InitRef)
	if err != nil {
		return err
	}
	for _, ref := range existing {
		if ref.Name != InitRef {
			continue
		}
		if ref.ObjectID != rootCommit {
			return &core.ConsistencyError{Reason: fmt.Sprintf("remote %q already has %s=%s, differs from local root %s", remoteURL, InitRef, ref.ObjectID, rootCommit)}
		}
		return nil // already initialized, matches
	}

	return s.PushRefs(ctx, remoteURL, []RefUpdate{{Name: InitRef, ObjectID: rootCommit}}, objectSource)
}
