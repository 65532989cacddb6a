// Package fsutil holds the stage-then-publish primitives every mutating
// component uses. Nothing in truthmint writes an authoritative file in place.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const tmpPattern = ".truth-tmp-*"

// Infixes of the sibling directories a directory swap leaves next to its
// target while it runs: <target>.tmp-<id> is staged, <target>.old-<id> is the
// previous content moved aside.
const (
	StagedInfix = ".tmp-"
	AsideInfix  = ".old-"
)

// StagingDir returns a fresh staging path next to target.
func StagingDir(target string) string {
	return target + StagedInfix + uuid.NewString()[:8]
}

// IsSwapLeftover reports whether name is a staged or moved-aside sibling of
// the directory named base.
func IsSwapLeftover(name, base string) bool {
	return strings.HasPrefix(name, base+StagedInfix) || strings.HasPrefix(name, base+AsideInfix)
}

// SweepSwapLeftovers removes the staged and moved-aside siblings of target
// that an interrupted swap left behind, returning the removed paths.
func SweepSwapLeftovers(fs afero.Fs, target string) ([]string, error) {
	dir, base := filepath.Split(target)
	infos, err := afero.ReadDir(fs, filepath.Clean(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var removed []string
	for _, info := range infos {
		if !info.IsDir() || !IsSwapLeftover(info.Name(), base) {
			continue
		}
		p := filepath.Join(dir, info.Name())
		if err := fs.RemoveAll(p); err != nil {
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// CopyDir copies the regular files below src into dst, which must not exist.
func CopyDir(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return err
		}
		return afero.WriteFile(fs, target, data, info.Mode().Perm())
	})
}

// WriteFileAtomic writes data to path using a temp file in the same directory
// followed by a rename. On failure the original file (if any) is unchanged and
// the temp file is removed. The parent directory is created if missing.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(fs, path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams content produced by write into a temp file next to path
// and publishes it with a single rename.
func WriteAtomic(fs afero.Fs, path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	f, err := afero.TempFile(fs, dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	tmpPath := f.Name()

	success := false
	defer func() {
		if !success {
			fs.Remove(tmpPath)
		}
	}()

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}

	success = true
	return nil
}

// SwapDir publishes a fully built directory staged at dir into target.
// An existing target is moved aside first and removed only after staged is in
// place; if publishing fails the previous target is moved back.
func SwapDir(fs afero.Fs, staged, target string) error {
	exists, err := afero.DirExists(fs, target)
	if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	var aside string
	if exists {
		aside = target + AsideInfix + uuid.NewString()[:8]
		if err := fs.Rename(target, aside); err != nil {
			return fmt.Errorf("move aside %s: %w", target, err)
		}
	}

	if err := fs.Rename(staged, target); err != nil {
		if aside != "" {
			if rerr := fs.Rename(aside, target); rerr != nil {
				return fmt.Errorf("publish %s: %w (restore failed: %v)", target, err, rerr)
			}
		}
		return fmt.Errorf("publish %s: %w", target, err)
	}

	if aside != "" {
		if err := fs.RemoveAll(aside); err != nil {
			return fmt.Errorf("remove %s: %w", aside, err)
		}
	}
	return nil
}

// RemoveIfExists deletes path and reports whether it existed.
func RemoveIfExists(fs afero.Fs, path string) (bool, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil || !ok {
		return false, err
	}
	if err := fs.Remove(path); err != nil {
		return true, err
	}
	return true, nil
}

// ReadIfExists returns the content of path, or nil and false when absent.
func ReadIfExists(fs afero.Fs, path string) ([]byte, bool, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// NormalizeEOL converts CRLF and lone CR line endings to LF.
func NormalizeEOL(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}
