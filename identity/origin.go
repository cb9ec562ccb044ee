package identity

import "context"

// AncestryWalker is implemented by the git-facing layer (gitstore) and
// supplies the raw primitive identity.DeriveOrigin needs: walking parents
// from a head commit to the oldest reachable ancestor. Keeping this as a
// narrow interface (rather than importing gitstore, or go-git, directly)
// keeps identity pure and independently testable, mirroring how the
// teacher's core.Registry interface lets internal/core stay decoupled
// from any one ecosystem's HTTP client.
type AncestryWalker interface {
	// Parents returns the parent object ids of commit. A root commit
	// returns an empty, non-nil slice.
	Parents(ctx context.Context, commit []byte) ([][]byte, error)
}

// DeriveOrigin walks ancestors of head via walker until it reaches a
// commit with no parents, and returns that commit's id as the set's
// Origin (spec §4.1 "walk ancestors of a designated head to the unique
// root commit"). The derivation is pure given a fixed repository state:
// calling it twice for the same head returns the same Origin.
//
// If head itself has no parents, head is the origin.
//
// Failure: ErrMissingRoot is returned for an empty head. Any error from
// walker (for example a commit that is not present) is returned
// unchanged; a valid head always has at least itself as the eventual
// root.
func DeriveOrigin(ctx context.Context, walker AncestryWalker, head []byte) (Origin, error) {
	if len(head) == 0 {
		return nil, ErrMissingRoot
	}
	current := head
	visited := make(map[string]bool)

	for {
		key := string(current)
		if visited[key] {
			// A cycle can only mean corrupt history; treat the current
			// node as the root rather than looping forever.
			return Origin(current), nil
		}
		visited[key] = true

		parents, err := walker.Parents(ctx, current)
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			return Origin(current), nil
		}

		// Multiple first-parent roots can exist in a graph with grafted or
		// squash-merged history; spec §4.1 calls for "the" unique root,
		// so we deterministically follow the first parent, the same
		// convention `git log --first-parent` uses.
		current = parents[0]
	}
}
