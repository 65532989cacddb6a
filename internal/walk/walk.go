// Package walk is the one canonical enumerator of the project tree. Every
// component that needs "the files of the project" gets them from Enumerate.
package walk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/policy"
)

// Options selects which variant of the file set to produce.
type Options struct {
	// IncludeArtifacts force-includes the policy's artifact allowlist even when
	// a parent directory is excluded. Packaging sets it; index building must not.
	IncludeArtifacts bool
	// Slim additionally drops slim_exclude_extra matches.
	Slim bool
	// MaxReaders bounds parallel file reads. Zero means GOMAXPROCS.
	MaxReaders int
}

// File is one member of a FileSet.
type File struct {
	Path string // slash-separated, relative to the root
	Data []byte
	Mode fs.FileMode
}

// FileSet is the enumerated project tree, sorted by Path.
type FileSet struct {
	Root  string
	Files []File
}

// Enumerate walks root and applies pol. Unreadable entries fail the walk with
// E_SCAN; nothing is skipped silently.
func Enumerate(ctx context.Context, afs afero.Fs, root string, pol *policy.Policy, opts Options) (*FileSet, error) {
	if pol == nil {
		return nil, errors.New(errors.KindConfig, "enumerate: no filter policy")
	}

	var paths []string
	err := afero.Walk(afs, root, func(p string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := relPath(root, p)
		if relErr != nil {
			return relErr
		}
		if err != nil {
			return errors.AtPath(errors.KindScan, rel, "unreadable entry", err)
		}
		if rel == "." {
			return nil
		}

		if info.IsDir() {
			if pol.ExcludedDir(info.Name()) && !(opts.IncludeArtifacts && pol.LeadsToAllowlisted(rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, statErr := afs.Stat(p)
			if statErr != nil {
				return errors.AtPath(errors.KindScan, rel, "broken symlink", statErr)
			}
			if target.IsDir() {
				return nil
			}
		} else if !info.Mode().IsRegular() {
			return nil
		}

		if Admits(pol, rel, opts) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		if errors.GetKind(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.KindScan, "walk "+root, err)
	}

	sort.Strings(paths)

	mapper := iter.Mapper[string, File]{MaxGoroutines: opts.MaxReaders}
	files, err := mapper.MapErr(paths, func(rel *string) (File, error) {
		abs := filepath.Join(root, filepath.FromSlash(*rel))
		data, err := afero.ReadFile(afs, abs)
		if err != nil {
			return File{}, errors.AtPath(errors.KindScan, *rel, "unreadable file", err)
		}
		info, err := afs.Stat(abs)
		if err != nil {
			return File{}, errors.AtPath(errors.KindScan, *rel, "stat", err)
		}
		return File{Path: *rel, Data: data, Mode: info.Mode().Perm()}, nil
	})
	if err != nil {
		return nil, err
	}

	return &FileSet{Root: root, Files: files}, nil
}

// Admits reports whether a file at rel belongs in a File Set enumerated with
// opts. Packagers use it to re-derive SLIM from a FULL set.
func Admits(pol *policy.Policy, rel string, opts Options) bool {
	if !pol.ExcludedFile(rel) {
		return !(opts.Slim && pol.SlimExcluded(rel))
	}
	if !opts.IncludeArtifacts || !pol.Allowlisted(rel) || pol.ExcludedByPattern(rel) {
		return false
	}
	// .git never comes back, even through an allowlist.
	if rel == ".git" || strings.HasPrefix(rel, ".git/") || strings.Contains(rel, "/.git/") {
		return false
	}
	return !(opts.Slim && pol.SlimExcluded(rel))
}

func relPath(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", errors.AtPath(errors.KindScan, p, "outside root", err)
	}
	return filepath.ToSlash(rel), nil
}

// Len returns the number of files.
func (s *FileSet) Len() int { return len(s.Files) }

// Paths returns the sorted member paths.
func (s *FileSet) Paths() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Path
	}
	return out
}

// Get returns the file at rel.
func (s *FileSet) Get(rel string) (File, bool) {
	i := sort.Search(len(s.Files), func(i int) bool { return s.Files[i].Path >= rel })
	if i < len(s.Files) && s.Files[i].Path == rel {
		return s.Files[i], true
	}
	return File{}, false
}

// Filter returns the members for which keep returns true, preserving order.
func (s *FileSet) Filter(keep func(File) bool) *FileSet {
	out := &FileSet{Root: s.Root}
	for _, f := range s.Files {
		if keep(f) {
			out.Files = append(out.Files, f)
		}
	}
	return out
}

// Digest is a sha256 over every (path, content) pair in order. Two sets with
// the same members and bytes have the same digest.
func (s *FileSet) Digest() string {
	h := sha256.New()
	for _, f := range s.Files {
		sum := sha256.Sum256(f.Data)
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
