package gitstore

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/core"
)

// OriginLookup is the production implementation of resolve.OriginLookup
// (spec §4.6 step 4): a mirror's origin comes from the object id of its
// refs/ekala/init ref, while the local ("::") set's origin comes from
// walking its own history to the root commit.
//
// Structurally, rather than by import, satisfies resolve.OriginLookup —
// this package has no reason to depend on resolve.
type OriginLookup struct {
	store *Store

	// localRepo and localHead supply the "::" case: a caller resolving
	// against its own uncommitted working copy passes the repository it
	// already has open and the head commit to walk from, the same shape
	// publish.Publisher.Publish takes for the source commit it signs.
	localRepo *git.Repository
	localHead plumbing.Hash
}

// NewOriginLookup constructs an OriginLookup. localRepo and localHead may
// be the zero value if the caller never resolves a local ("::") set;
// doing so then returns an error rather than panicking.
func NewOriginLookup(store *Store, localRepo *git.Repository, localHead plumbing.Hash) *OriginLookup {
	return &OriginLookup{store: store, localRepo: localRepo, localHead: localHead}
}

// Origin implements resolve.OriginLookup.
func (o *OriginLookup) Origin(ctx context.Context, mirror string, isLocal bool) (identity.Origin, error) {
	if isLocal {
		return o.localOrigin(ctx)
	}
	return o.mirrorOrigin(ctx, mirror)
}

func (o *OriginLookup) mirrorOrigin(ctx context.Context, mirror string) (identity.Origin, error) {
	refs, err := o.store.ListRefs(ctx, mirror, InitRef)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.Name != InitRef {
			continue
		}
		raw, err := hex.DecodeString(ref.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("gitstore: %s on %q has a malformed object id: %w", InitRef, mirror, err)
		}
		return identity.Origin(raw), nil
	}
	return nil, &core.RemoteError{Remote: mirror, Reason: fmt.Sprintf("%s not found", InitRef)}
}

func (o *OriginLookup) localOrigin(ctx context.Context) (identity.Origin, error) {
	if o.localRepo == nil {
		return nil, fmt.Errorf("gitstore: local origin requested but no local repository was configured")
	}
	walker := NewWalker(o.localRepo)
	return identity.DeriveOrigin(ctx, walker, o.localHead[:])
}
