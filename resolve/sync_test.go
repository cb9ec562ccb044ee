package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/lock"
	"github.com/ekala-project/eka/manifest"
)

type fakePinResolver struct{ resolved map[string]core.Resolved }

func (f *fakePinResolver) Resolve(_ context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	r := f.resolved[req.URL]
	return &r, nil
}

func writeTempManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atom.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const syncTestManifest = `
[package]
label = "app"
version = "1.0.0"

[package.sets]
ui = "https://example/co"

[deps.from.ui]
button = "^1.0"
icon = "^2.0"

[deps.direct.url]
[deps.direct.url.asset]
url = "https://assets.example/logo.png"
`

func TestSynchronizeResolvesEveryBondAndPin(t *testing.T) {
	m, err := manifest.LoadAtomManifest(writeTempManifest(t, syncTestManifest))
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}

	refs := &fakeRefStore{byMirror: map[string][]gitstore.Ref{
		"https://example/co": {
			{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: "aaa"},
			{Name: "refs/ekala/atoms/icon/2.3.0", ObjectID: "bbb"},
		},
	}}
	pins := &fakePinResolver{resolved: map[string]core.Resolved{
		"https://assets.example/logo.png": {URL: "https://assets.example/logo.png", Integrity: "sha256-deadbeef"},
	}}
	r := NewResolver(refs, &fakeOrigins{origin: identity.Origin("root")}, pins)

	l := lock.New(filepath.Join(t.TempDir(), "atom.lock"))

	if err := Synchronize(context.Background(), r, m, l); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if len(l.Atoms) != 2 {
		t.Fatalf("len(Atoms) = %d, want 2", len(l.Atoms))
	}
	var sawButton, sawIcon bool
	for _, a := range l.Atoms {
		switch a.Label {
		case "button":
			sawButton = a.Rev == "aaa"
		case "icon":
			sawIcon = a.Rev == "bbb"
		}
	}
	if !sawButton || !sawIcon {
		t.Fatalf("expected both button and icon resolved, got %+v", l.Atoms)
	}

	pin, ok := l.Pins["asset"]
	if !ok {
		t.Fatalf("expected pin %q in lockfile", "asset")
	}
	if pin.Hash != "sha256-deadbeef" {
		t.Fatalf("pin hash = %q, want sha256-deadbeef", pin.Hash)
	}
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	m, err := manifest.LoadAtomManifest(writeTempManifest(t, syncTestManifest))
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}
	refs := &fakeRefStore{byMirror: map[string][]gitstore.Ref{
		"https://example/co": {
			{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: "aaa"},
			{Name: "refs/ekala/atoms/icon/2.3.0", ObjectID: "bbb"},
		},
	}}
	pins := &fakePinResolver{resolved: map[string]core.Resolved{
		"https://assets.example/logo.png": {URL: "https://assets.example/logo.png", Integrity: "sha256-deadbeef"},
	}}
	r := NewResolver(refs, &fakeOrigins{origin: identity.Origin("root")}, pins)
	l := lock.New(filepath.Join(t.TempDir(), "atom.lock"))

	if err := Synchronize(context.Background(), r, m, l); err != nil {
		t.Fatalf("first Synchronize: %v", err)
	}
	first := l.Render()

	if err := Synchronize(context.Background(), r, m, l); err != nil {
		t.Fatalf("second Synchronize: %v", err)
	}
	second := l.Render()

	if first != second {
		t.Fatalf("Synchronize is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
