package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const sampleAtom = `
[package]
label = "button"
version = "1.2.0"
description = "a button component"

[package.sets]
ui = "::"
vendor = "https://example.com/vendor.git"

[deps.from.ui]
icon = "^1.0"

[deps.direct.url]
[deps.direct.url.asset]
url = "https://example.com/asset.tar.gz"
integrity = "sha256-abc"
unpack = true
`

func TestLoadAtomManifest(t *testing.T) {
	path := writeTemp(t, "atom.toml", sampleAtom)
	m, err := LoadAtomManifest(path)
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}
	if string(m.Label) != "button" {
		t.Fatalf("Label = %q, want button", m.Label)
	}
	if m.Version.String() != "1.2.0" {
		t.Fatalf("Version = %q, want 1.2.0", m.Version)
	}
	ref, ok := m.Sets["ui"]
	if !ok || !ref.Local {
		t.Fatalf("Sets[ui] = %+v, want local", ref)
	}
	dep, ok := m.AtomDeps["ui"]["icon"]
	if !ok || dep.RangeText != "^1.0" {
		t.Fatalf("AtomDeps[ui][icon] = %+v", dep)
	}
	req, ok := m.DirectDeps["url"]["asset"]
	if !ok || req.URL != "https://example.com/asset.tar.gz" || !req.Unpack {
		t.Fatalf("DirectDeps[url][asset] = %+v", req)
	}
}

func TestLoadAtomManifestRejectsUnknownKey(t *testing.T) {
	path := writeTemp(t, "atom.toml", `
[package]
label = "button"
version = "1.0.0"
bogus = "nope"
`)
	if _, err := LoadAtomManifest(path); err == nil {
		t.Fatalf("expected error for unrecognized key")
	}
}

func TestLoadAtomManifestRejectsBadLabel(t *testing.T) {
	path := writeTemp(t, "atom.toml", `
[package]
label = ""
version = "1.0.0"
`)
	if _, err := LoadAtomManifest(path); err == nil {
		t.Fatalf("expected error for empty label")
	}
}

func TestAddAtomBondRoundTrips(t *testing.T) {
	path := writeTemp(t, "atom.toml", sampleAtom)
	m, err := LoadAtomManifest(path)
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}
	if err := m.AddAtomBond("ui", "dialog", "^2.0"); err != nil {
		t.Fatalf("AddAtomBond: %v", err)
	}
	if err := m.WriteAtomic(); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	reloaded, err := LoadAtomManifest(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	dep, ok := reloaded.AtomDeps["ui"]["dialog"]
	if !ok || dep.RangeText != "^2.0" {
		t.Fatalf("dialog bond did not round-trip: %+v", dep)
	}
	// Pre-existing bond must survive the edit untouched.
	if reloaded.AtomDeps["ui"]["icon"].RangeText != "^1.0" {
		t.Fatalf("unrelated bond was disturbed")
	}
}

func TestAddAtomBondRejectsUnknownAlias(t *testing.T) {
	path := writeTemp(t, "atom.toml", sampleAtom)
	m, err := LoadAtomManifest(path)
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}
	if err := m.AddAtomBond("nope", "dialog", "^2.0"); err == nil {
		t.Fatalf("expected error for unknown set alias")
	}
}

func TestDirectRequirementRejectsUnknownBackend(t *testing.T) {
	path := writeTemp(t, "atom.toml", `
[package]
label = "button"
version = "1.0.0"

[deps.direct.ftp]
[deps.direct.ftp.asset]
url = "ftp://example.com/asset"
`)
	if _, err := LoadAtomManifest(path); err == nil {
		t.Fatalf("expected error for unsupported backend kind")
	}
}
