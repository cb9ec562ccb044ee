package git

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ekala-project/eka/gitstore"
	"github.com/ekala-project/eka/internal/core"
)

func TestBackendResolveVersionedTag(t *testing.T) {
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
	f, err := wt.Filesystem.Create("a.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Write([]byte("hi"))
	f.Close()
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	hash, err := wt.Commit("c", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := workRepo.CreateTag("v1.2.0", hash, nil); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	remote, err := workRepo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}})
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	if err := remote.Push(&git.PushOptions{RefSpecs: []config.RefSpec{
		"refs/heads/*:refs/heads/*",
		"refs/tags/*:refs/tags/*",
	}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	SetStore(gitstore.NewStore())
	b := &Backend{}
	resolved, err := b.Resolve(context.Background(), core.DirectRequirement{Name: "lib", URL: remoteURL, Version: "^1.0.0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Rev != hash.String() {
		t.Fatalf("Rev = %s, want %s", resolved.Rev, hash.String())
	}
}
