// Package publish implements atom validation and the publish algorithm
// (spec §4.8): cutting a detached, reproducible commit for each atom's
// tree and pushing it alongside its manifest-only and source-anchor
// refs.
package publish

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/manifest"
)

// fixedIdentity is the constant author/committer identity every
// published atom commit carries, so two independent publishers cutting
// the same (tree, source commit) pair produce byte-identical commits
// (spec §4.8 step 3c: "author/committer = fixed identity, time = fixed
// constant").
var fixedIdentity = object.Signature{
	Name:  "eka",
	Email: "eka@ekala.dev",
	When:  time.Unix(0, 0).UTC(),
}

// Outcome classifies what happened to one atom during Publish.
type Outcome string

const (
	Published Outcome = "published"
	Skipped   Outcome = "skipped"
	Conflict  Outcome = "conflict"
)

// AtomOutcome reports the result of publishing one atom.
type AtomOutcome struct {
	Label   string
	Version string
	Outcome Outcome
	Detail  string
}

// AtomToPublish is one atom the caller wants published: its manifest
// plus the relative path, within the source commit's tree, of the
// directory containing it.
type AtomToPublish struct {
	Manifest *manifest.AtomManifest
	Path     string
}

// Publisher cuts and pushes atom commits.
type Publisher struct {
	Store *gitstore.Store
}

// NewPublisher constructs a Publisher.
func NewPublisher(store *gitstore.Store) *Publisher { return &Publisher{Store: store} }

// Validate implements spec §4.8 step 1: reject before touching the
// remote if any atom's label is invalid (manifest.LoadAtomManifest
// already enforced this at parse time), its version is invalid (same),
// or two atoms in the batch share a label.
func (p *Publisher) Validate(atoms []AtomToPublish) error {
	seen := make(map[string]string, len(atoms))
	for _, a := range atoms {
		label := string(a.Manifest.Label)
		if prior, ok := seen[label]; ok {
			return &core.ConsistencyError{Reason: fmt.Sprintf("label %q published from both %q and %q", label, prior, a.Path)}
		}
		seen[label] = a.Path
	}
	return nil
}

// Publish runs spec §4.8 steps 2-5 against one remote: ls-refs filter
// already-published atoms, cut a detached commit per remaining atom,
// and push its three refs.
func (p *Publisher) Publish(ctx context.Context, repo *git.Repository, sourceCommit plumbing.Hash, atoms []AtomToPublish, remoteURL string) ([]AtomOutcome, error) {
	if err := p.Validate(atoms); err != nil {
		return nil, err
	}

	outcomes := make([]AtomOutcome, 0, len(atoms))
	for _, a := range atoms {
		outcome, err := p.publishOne(ctx, repo, sourceCommit, a, remoteURL)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, *outcome)
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Label < outcomes[j].Label })
	return outcomes, nil
}

func (p *Publisher) publishOne(ctx context.Context, repo *git.Repository, sourceCommit plumbing.Hash, a AtomToPublish, remoteURL string) (*AtomOutcome, error) {
	label := string(a.Manifest.Label)
	version := a.Manifest.Version.String()

	atomRef := fmt.Sprintf("refs/ekala/atoms/%s/%s", label, version)
	manifestRef := fmt.Sprintf("refs/ekala/manifests/%s/%s", label, version)
	originRef := fmt.Sprintf("refs/ekala/origins/%s/%s", label, version)

	existing, err := p.Store.ListRefs(ctx, remoteURL, atomRef)
	if err != nil {
		return nil, err
	}

	atomCommitHash, manifestCommitHash, err := cutAtomCommits(repo, sourceCommit, a.Path, label, version)
	if err != nil {
		return nil, err
	}

	for _, ref := range existing {
		if ref.Name != atomRef {
			continue
		}
		if ref.ObjectID == atomCommitHash.String() {
			return &AtomOutcome{Label: label, Version: version, Outcome: Skipped}, nil
		}
		return &AtomOutcome{Label: label, Version: version, Outcome: Conflict,
			Detail: fmt.Sprintf("remote has %s, local tree produces %s", ref.ObjectID, atomCommitHash)}, nil
	}

	updates := []gitstore.RefUpdate{
		{Name: atomRef, ObjectID: atomCommitHash.String()},
		{Name: manifestRef, ObjectID: manifestCommitHash.String()},
		{Name: originRef, ObjectID: sourceCommit.String()},
	}
	if err := p.Store.PushRefs(ctx, remoteURL, updates, repo); err != nil {
		return nil, err
	}

	return &AtomOutcome{Label: label, Version: version, Outcome: Published}, nil
}

// cutAtomCommits implements spec §4.8 step 3: locate the atom's tree at
// the source commit, synthesize a parentless commit over it, and a
// second minimal commit over a tree containing only atom.toml.
func cutAtomCommits(repo *git.Repository, sourceCommit plumbing.Hash, atomPath, label, version string) (atomCommit, manifestCommit plumbing.Hash, err error) {
	commitObj, err := repo.CommitObject(sourceCommit)
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}
	rootTree, err := commitObj.Tree()
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}

	atomTree, err := rootTree.Tree(atomPath)
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, fmt.Errorf("locating tree for atom %q at %q: %w", label, atomPath, err)
	}

	manifestEntry, err := atomTree.FindEntry("atom.toml")
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, fmt.Errorf("atom %q at %q has no atom.toml: %w", label, atomPath, err)
	}

	message := fmt.Sprintf("atom %s@%s\n\nsource_path: %s\ncontent_hash: %s\nsource_commit_id: %s\n",
		label, version, atomPath, atomTree.Hash.String(), sourceCommit.String())

	atomCommit, err = synthesizeCommit(repo, atomTree.Hash, message)
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}

	manifestTreeHash, err := synthesizeManifestTree(repo, manifestEntry.Hash)
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}
	manifestMessage := fmt.Sprintf("manifest %s@%s\n\nsource_path: %s\nsource_commit_id: %s\n", label, version, atomPath, sourceCommit.String())
	manifestCommit, err = synthesizeCommit(repo, manifestTreeHash, manifestMessage)
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}

	return atomCommit, manifestCommit, nil
}

func synthesizeCommit(repo *git.Repository, treeHash plumbing.Hash, message string) (plumbing.Hash, error) {
	commit := &object.Commit{
		Author:       fixedIdentity,
		Committer:    fixedIdentity,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: nil,
	}
	obj := repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

func synthesizeManifestTree(repo *git.Repository, manifestBlobHash plumbing.Hash) (plumbing.Hash, error) {
	tree := &object.Tree{
		Entries: []object.TreeEntry{
			{Name: "atom.toml", Mode: filemode.Regular, Hash: manifestBlobHash},
		},
	}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}
