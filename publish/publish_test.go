package publish

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ekala-project/eka/manifest"
)

func buildRepoWithAtom(t *testing.T) (*git.Repository, string) {
	t.Helper()
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := wt.Filesystem.MkdirAll("components/button", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	f, err := wt.Filesystem.Create("components/button/atom.toml")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Write([]byte("[package]\nlabel = \"button\"\nversion = \"1.0.0\"\n"))
	f.Close()
	if _, err := wt.Add("components/button/atom.toml"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	hash, err := wt.Commit("add button", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return repo, hash.String()
}

func TestCutAtomCommitsIsDeterministic(t *testing.T) {
	repo, commitHex := buildRepoWithAtom(t)
	hash := mustHash(t, commitHex)

	a1, m1, err := cutAtomCommits(repo, hash, "components/button", "button", "1.0.0")
	if err != nil {
		t.Fatalf("cutAtomCommits (1): %v", err)
	}
	a2, m2, err := cutAtomCommits(repo, hash, "components/button", "button", "1.0.0")
	if err != nil {
		t.Fatalf("cutAtomCommits (2): %v", err)
	}
	if a1 != a2 {
		t.Fatalf("atom commit not deterministic: %s != %s", a1, a2)
	}
	if m1 != m2 {
		t.Fatalf("manifest commit not deterministic: %s != %s", m1, m2)
	}
}

func TestValidateRejectsDuplicateLabel(t *testing.T) {
	m1 := loadFixtureManifest(t, "button", "1.0.0")
	m2 := loadFixtureManifest(t, "button", "2.0.0")

	p := &Publisher{}
	err := p.Validate([]AtomToPublish{
		{Manifest: m1, Path: "a"},
		{Manifest: m2, Path: "b"},
	})
	if err == nil {
		t.Fatalf("expected error for duplicate label")
	}
}

func loadFixtureManifest(t *testing.T, label, version string) *manifest.AtomManifest {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "atom.toml")
	contents := "[package]\nlabel = \"" + label + "\"\nversion = \"" + version + "\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m, err := manifest.LoadAtomManifest(path)
	if err != nil {
		t.Fatalf("LoadAtomManifest: %v", err)
	}
	return m
}

func mustHash(t *testing.T, hex string) plumbing.Hash {
	t.Helper()
	var h plumbing.Hash
	for i := 0; i < len(h); i++ {
		var v byte
		for j := 0; j < 2; j++ {
			c := hex[i*2+j]
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= c - '0'
			case c >= 'a' && c <= 'f':
				v |= c - 'a' + 10
			}
		}
		h[i] = v
	}
	return h
}
