package fetchcache

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nix-community/go-nix/pkg/nar"
	"github.com/nix-community/go-nix/pkg/nixbase32"
)

// narHash computes the Nix-compatible NAR hash of the file or directory
// tree at path, rendered as "sha256-<base32>" (spec §4.7: "computes a
// Nix-compatible NAR hash"). Pinning to this exact digest means a
// pinned direct dependency's content hash is comparable against hashes
// produced by the original build tooling without re-deriving a new
// convention.
func narHash(path string) (string, error) {
	h := sha256.New()
	w, err := nar.NewWriter(h)
	if err != nil {
		return "", err
	}
	defer w.Close()

	if err := dumpPath(w, path, "/"); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return "sha256-" + nixbase32.EncodeToString(h.Sum(nil)), nil
}

// dumpPath walks path (a regular file, symlink, or directory) and
// writes it into w as NAR entries rooted at narPath.
func dumpPath(w *nar.Writer, path, narPath string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		return w.WriteHeader(&nar.Header{
			Path:       narPath,
			Type:       nar.TypeSymlink,
			LinkTarget: target,
		})

	case info.IsDir():
		if err := w.WriteHeader(&nar.Header{Path: narPath, Type: nar.TypeDirectory}); err != nil {
			return err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			childNarPath := filepath.Join(narPath, e.Name())
			if err := dumpPath(w, filepath.Join(path, e.Name()), childNarPath); err != nil {
				return err
			}
		}
		return nil

	default:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		executable := info.Mode()&0o111 != 0
		if err := w.WriteHeader(&nar.Header{
			Path:       narPath,
			Type:       nar.TypeRegular,
			Size:       info.Size(),
			Executable: executable,
		}); err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		return err
	}
}
