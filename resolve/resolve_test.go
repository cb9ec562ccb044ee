package resolve

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/manifest"
)

func fakeSet(mirror string) manifest.SetRef { return manifest.SetRef{Mirrors: []string{mirror}} }

func fakeSetMulti(mirrors ...string) manifest.SetRef { return manifest.SetRef{Mirrors: mirrors} }

type fakeRefStore struct {
	byMirror map[string][]gitstore.Ref
	fail     map[string]bool
}

func (f *fakeRefStore) ListRefs(_ context.Context, remoteURL, glob string) ([]gitstore.Ref, error) {
	if f.fail[remoteURL] {
		return nil, &core.RemoteError{Remote: remoteURL, Reason: "connection refused"}
	}
	var out []gitstore.Ref
	for _, r := range f.byMirror[remoteURL] {
		out = append(out, r)
	}
	_ = glob
	return out, nil
}

type fakeOrigins struct{ origin identity.Origin }

func (f *fakeOrigins) Origin(_ context.Context, _ string, _ bool) (identity.Origin, error) {
	return f.origin, nil
}

func rng(t *testing.T, s string) *semver.Constraints {
	t.Helper()
	c, err := semver.NewConstraint(s)
	if err != nil {
		t.Fatalf("NewConstraint(%q): %v", s, err)
	}
	return c
}

func TestResolveAtomPicksHighestSatisfying(t *testing.T) {
	refs := &fakeRefStore{byMirror: map[string][]gitstore.Ref{
		"https://example/co": {
			{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: "aaa"},
			{Name: "refs/ekala/atoms/button/1.1.2", ObjectID: "bbb"},
			{Name: "refs/ekala/atoms/button/2.0.0", ObjectID: "ccc"},
		},
	}}
	r := NewResolver(refs, &fakeOrigins{origin: identity.Origin("root")}, nil)

	entry, err := r.ResolveAtom(context.Background(), fakeSet("https://example/co"), "button", rng(t, "^1.0"))
	if err != nil {
		t.Fatalf("ResolveAtom: %v", err)
	}
	if entry.Version.String() != "1.1.2" {
		t.Fatalf("Version = %s, want 1.1.2", entry.Version)
	}
	if entry.Rev != "bbb" {
		t.Fatalf("Rev = %s, want bbb", entry.Rev)
	}
}

func TestResolveAtomMirrorFallthrough(t *testing.T) {
	refs := &fakeRefStore{
		fail: map[string]bool{"https://down.example": true},
		byMirror: map[string][]gitstore.Ref{
			"https://example/co": {{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: "aaa"}},
		},
	}
	r := NewResolver(refs, &fakeOrigins{origin: identity.Origin("root")}, nil)

	set := fakeSetMulti("https://down.example", "https://example/co")
	entry, err := r.ResolveAtom(context.Background(), set, "button", rng(t, "^1.0"))
	if err != nil {
		t.Fatalf("ResolveAtom: %v", err)
	}
	if entry.Rev != "aaa" {
		t.Fatalf("Rev = %s, want aaa (from second mirror)", entry.Rev)
	}
}

func TestResolveAtomNoMatchingVersion(t *testing.T) {
	refs := &fakeRefStore{byMirror: map[string][]gitstore.Ref{
		"https://example/co": {{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: "aaa"}},
	}}
	r := NewResolver(refs, &fakeOrigins{origin: identity.Origin("root")}, nil)

	_, err := r.ResolveAtom(context.Background(), fakeSet("https://example/co"), "button", rng(t, "^2.0"))
	if err == nil {
		t.Fatalf("expected NoMatchingVersion error")
	}
}
