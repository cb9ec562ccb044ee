package gitstore

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Walker adapts a *git.Repository to identity.AncestryWalker, so
// identity.DeriveOrigin can walk first-parent history without the
// identity package importing go-git directly.
type Walker struct {
	repo *git.Repository
}

// NewWalker wraps repo (typically the one FetchObjects returned) for
// ancestry walks.
func NewWalker(repo *git.Repository) *Walker { return &Walker{repo: repo} }

// Parents returns the parent commit object ids of commit, in the order
// Git recorded them (first-parent first).
func (w *Walker) Parents(ctx context.Context, commit []byte) ([][]byte, error) {
	hash, err := hashFromBytes(commit)
	if err != nil {
		return nil, err
	}
	obj, err := w.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("gitstore: commit %s not present locally: %w", hash, err)
	}
	parents := make([][]byte, len(obj.ParentHashes))
	for i, p := range obj.ParentHashes {
		b := make([]byte, len(p))
		copy(b, p[:])
		parents[i] = b
	}
	return parents, nil
}

func hashFromBytes(b []byte) (plumbing.Hash, error) {
	var h plumbing.Hash
	if len(b) != len(h) {
		return h, fmt.Errorf("gitstore: commit id must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
