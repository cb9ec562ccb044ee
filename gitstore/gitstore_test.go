package gitstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

func commit(t *testing.T, wt *git.Worktree, path string, contents string) string {
	t.Helper()
	f, err := wt.Filesystem.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte(contents)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()
	if _, err := wt.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sig := &object.Signature{Name: "eka", Email: "eka@example.com", When: time.Unix(0, 0)}
	h, err := wt.Commit("c", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h.String()
}

func TestWalkerParents(t *testing.T) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	rootHex := commit(t, wt, "a.txt", "one")
	headHex := commit(t, wt, "b.txt", "two")

	w := NewWalker(repo)

	headHash, err := hashFromBytes(mustDecodeHex(t, headHex))
	if err != nil {
		t.Fatalf("hashFromBytes: %v", err)
	}
	parents, err := w.Parents(context.Background(), headHash[:])
	if err != nil {
		t.Fatalf("Parents: %v", err)
	}
	if len(parents) != 1 {
		t.Fatalf("len(parents) = %d, want 1", len(parents))
	}
	rootHash, err := hashFromBytes(mustDecodeHex(t, rootHex))
	if err != nil {
		t.Fatalf("hashFromBytes: %v", err)
	}
	if string(parents[0]) != string(rootHash[:]) {
		t.Fatalf("parent mismatch")
	}

	rootParents, err := w.Parents(context.Background(), rootHash[:])
	if err != nil {
		t.Fatalf("Parents(root): %v", err)
	}
	if len(rootParents) != 0 {
		t.Fatalf("root commit should have no parents, got %d", len(rootParents))
	}
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		var v byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= c - '0'
			case c >= 'a' && c <= 'f':
				v |= c - 'a' + 10
			default:
				t.Fatalf("bad hex char %q", c)
			}
		}
		b[i] = v
	}
	return b
}

func TestPushRefsThenListRefs(t *testing.T) {
	bareDir := filepath.Join(t.TempDir(), "remote.git")
	if _, err := git.PlainInit(bareDir, true); err != nil {
		t.Fatalf("PlainInit bare: %v", err)
	}
	remoteURL := "file://" + bareDir

	workDir := t.TempDir()
	workRepo, err := git.PlainInit(workDir, false)
	if err != nil {
		t.Fatalf("PlainInit work: %v", err)
	}
	wt, err := workRepo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	hex := commit(t, wt, "a.txt", "hi")

	s := NewStore()
	ctx := context.Background()

	if err := s.PushRefs(ctx, remoteURL, []RefUpdate{{Name: "refs/ekala/atoms/button/1.0.0", ObjectID: hex}}, workRepo); err != nil {
		t.Fatalf("PushRefs: %v", err)
	}

	refs, err := s.ListRefs(ctx, remoteURL, "refs/ekala/atoms/button/*")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(refs) != 1 || refs[0].ObjectID != hex {
		t.Fatalf("ListRefs = %+v, want one ref with object id %s", refs, hex)
	}
}

func TestOriginLookupMirrorReadsInitRef(t *testing.T) {
	bareDir := filepath.Join(t.TempDir(), "remote.git")
	if _, err := git.PlainInit(bareDir, true); err != nil {
		t.Fatalf("PlainInit bare: %v", err)
	}
	remoteURL := "file://" + bareDir

	workDir := t.TempDir()
	workRepo, err := git.PlainInit(workDir, false)
	if err != nil {
		t.Fatalf("PlainInit work: %v", err)
	}
	wt, err := workRepo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	rootHex := commit(t, wt, "a.txt", "root")

	s := NewStore()
	ctx := context.Background()
	if err := s.InitRemote(ctx, remoteURL, rootHex, workRepo); err != nil {
		t.Fatalf("InitRemote: %v", err)
	}

	lookup := NewOriginLookup(s, nil, plumbing.ZeroHash)
	origin, err := lookup.Origin(ctx, remoteURL, false)
	if err != nil {
		t.Fatalf("Origin: %v", err)
	}
	if origin.Hex() != rootHex {
		t.Fatalf("Origin = %s, want %s", origin.Hex(), rootHex)
	}
}

func TestOriginLookupMirrorMissingInitRef(t *testing.T) {
	bareDir := filepath.Join(t.TempDir(), "remote.git")
	if _, err := git.PlainInit(bareDir, true); err != nil {
		t.Fatalf("PlainInit bare: %v", err)
	}
	remoteURL := "file://" + bareDir

	lookup := NewOriginLookup(NewStore(), nil, plumbing.ZeroHash)
	if _, err := lookup.Origin(context.Background(), remoteURL, false); err == nil {
		t.Fatalf("expected error for missing %s", InitRef)
	}
}

func TestOriginLookupLocalWalksToRoot(t *testing.T) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	rootHex := commit(t, wt, "a.txt", "one")
	headHex := commit(t, wt, "b.txt", "two")

	headHash, err := hashFromBytes(mustDecodeHex(t, headHex))
	if err != nil {
		t.Fatalf("hashFromBytes: %v", err)
	}

	lookup := NewOriginLookup(nil, repo, headHash)
	origin, err := lookup.Origin(context.Background(), "::", true)
	if err != nil {
		t.Fatalf("Origin: %v", err)
	}
	if origin.Hex() != rootHex {
		t.Fatalf("Origin = %s, want %s", origin.Hex(), rootHex)
	}
}

func TestOriginLookupLocalWithoutRepoErrors(t *testing.T) {
	lookup := NewOriginLookup(NewStore(), nil, plumbing.ZeroHash)
	if _, err := lookup.Origin(context.Background(), "::", true); err == nil {
		t.Fatalf("expected error when no local repository is configured")
	}
}
