package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
)

// Inspect opens the zip at file and lists its members, reading each one so
// that corrupt data fails here rather than on extraction.
func Inspect(fs afero.Fs, file string) (*Archive, error) {
	a := &Archive{Path: file}
	err := withReader(fs, file, func(r *zip.Reader) error {
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "open member "+f.Name, err)
			}
			n, err := io.Copy(io.Discard, rc)
			rc.Close()
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "read member "+f.Name, err)
			}
			a.Members = append(a.Members, Member{Name: f.Name, Size: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReadMember returns the content of one member.
func ReadMember(fs afero.Fs, file, name string) ([]byte, error) {
	var out []byte
	err := withReader(fs, file, func(r *zip.Reader) error {
		for _, f := range r.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "open member "+name, err)
			}
			defer rc.Close()
			out, err = io.ReadAll(rc)
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "read member "+name, err)
			}
			return nil
		}
		return errors.AtPath(errors.KindArtifactMissing, file, "no member "+name, nil)
	})
	return out, err
}

func withReader(fs afero.Fs, file string, fn func(*zip.Reader) error) error {
	f, err := fs.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.AtPath(errors.KindArtifactMissing, file, "archive missing", nil)
		}
		return errors.AtPath(errors.KindArtifactContent, file, "open archive", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.AtPath(errors.KindArtifactContent, file, "stat archive", err)
	}
	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		return errors.AtPath(errors.KindArtifactContent, file, "not a readable zip", err)
	}
	return fn(r)
}

// Validate inspects an artifact and checks its layout: the file name parses
// as an artifact name, every member is nested under the project folder, and
// no path is repeated (case-insensitively), absolute or escaping.
func Validate(fs afero.Fs, file string) (*Archive, error) {
	project, _, kind, ok := ParseArtifactName(filepath.Base(file))
	if !ok {
		return nil, errors.AtPath(errors.KindArtifactContent, file, "not an artifact name (<project>_TRUTH_V<N>_FULL|SLIM.zip)", nil)
	}
	a, err := Inspect(fs, file)
	if err != nil {
		return nil, err
	}
	a.Kind, a.Root = kind, project
	if err := checkLayout(a, project); err != nil {
		return nil, err
	}
	return a, nil
}

func checkLayout(a *Archive, root string) error {
	if len(a.Members) == 0 {
		return errors.AtPath(errors.KindArtifactContent, a.Path, "archive is empty", nil)
	}
	var errs []error
	seen := map[string]bool{}
	for _, m := range a.Members {
		key := strings.ToLower(m.Name)
		switch {
		case seen[key]:
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, a.Path, "duplicate member "+m.Name, nil))
		case strings.HasPrefix(m.Name, "/") || strings.Contains(m.Name, "\\") || path.Clean(m.Name) != m.Name || strings.HasPrefix(m.Name, "../"):
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, a.Path, "unsafe member path "+m.Name, nil))
		case root != "" && !strings.HasPrefix(m.Name, root+"/"):
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, a.Path, fmt.Sprintf("member %s is not nested under %s/", m.Name, root), nil))
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}

// ManifestName is the backup manifest member, below the project folder.
const ManifestName = "BACKUP_MANIFEST.json"

// BackupManifest lists every file in a backup archive.
type BackupManifest struct {
	Project string          `json:"project"`
	Files   []ManifestEntry `json:"files"`
}

// ManifestEntry is one file in a BackupManifest.
type ManifestEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// ValidateBackup checks a backup archive against its manifest: every listed
// file is present with the recorded size and hash, and nothing else is.
func ValidateBackup(fs afero.Fs, file string) (*BackupManifest, error) {
	a, err := Inspect(fs, file)
	if err != nil {
		return nil, err
	}
	if len(a.Members) == 0 {
		return nil, errors.AtPath(errors.KindArtifactContent, file, "backup is empty", nil)
	}
	root, _, _ := strings.Cut(a.Members[0].Name, "/")
	a.Kind, a.Root = KindBackup, root
	if err := checkLayout(a, root); err != nil {
		return nil, err
	}

	raw, err := ReadMember(fs, file, root+"/"+ManifestName)
	if err != nil {
		return nil, err
	}
	var man BackupManifest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&man); err != nil {
		return nil, errors.AtPath(errors.KindArtifactContent, file, "manifest is not valid JSON", err)
	}
	if man.Project != root {
		return nil, errors.AtPath(errors.KindArtifactContent, file, fmt.Sprintf("manifest project %q does not match folder %q", man.Project, root), nil)
	}

	sums := map[string]ManifestEntry{}
	err = withReader(fs, file, func(r *zip.Reader) error {
		for _, f := range r.File {
			rel, ok := strings.CutPrefix(f.Name, root+"/")
			if !ok || rel == ManifestName || f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "open member "+f.Name, err)
			}
			h := sha256.New()
			n, err := io.Copy(h, rc)
			rc.Close()
			if err != nil {
				return errors.AtPath(errors.KindArtifactContent, file, "read member "+f.Name, err)
			}
			sums[rel] = ManifestEntry{Path: rel, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, want := range man.Files {
		got, ok := sums[want.Path]
		switch {
		case !ok:
			errs = append(errs, errors.AtPath(errors.KindArtifactMissing, file, "manifest lists missing file "+want.Path, nil))
		case got != want:
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, file, "content mismatch for "+want.Path, nil))
		}
		delete(sums, want.Path)
	}
	extra := make([]string, 0, len(sums))
	for p := range sums {
		extra = append(extra, p)
	}
	sort.Strings(extra)
	for _, p := range extra {
		errs = append(errs, errors.AtPath(errors.KindArtifactContent, file, "file not in manifest: "+p, nil))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &man, nil
}
