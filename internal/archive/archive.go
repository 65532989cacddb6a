// Package archive writes and validates the zip archives truthmint produces:
// FULL and SLIM artifacts, pre-confirm backups and repo-relative patches.
//
// Archives are deterministic. Members are sorted, every header carries the
// same timestamp and mode, and the deflate level is fixed, so packaging an
// unchanged File Set twice yields identical bytes.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

// Kind distinguishes archive layouts.
type Kind string

const (
	KindFull   Kind = "full"
	KindSlim   Kind = "slim"
	KindBackup Kind = "backup"
	KindPatch  Kind = "patch"
)

// CompressionLevel is the fixed deflate level for every archive.
const CompressionLevel = 6

// memberTime is stamped on every member. It is the earliest time the zip
// format can represent.
var memberTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

var artifactName = regexp.MustCompile(`^(.+)_TRUTH_V(\d+)_(FULL|SLIM)\.zip$`)

// Member is one archive entry.
type Member struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Archive describes a written or inspected archive.
type Archive struct {
	Kind    Kind     `json:"kind"`
	Path    string   `json:"path"`
	Root    string   `json:"root,omitempty"`
	Members []Member `json:"members"`
}

// Names returns the member names in archive order.
func (a *Archive) Names() []string {
	out := make([]string, len(a.Members))
	for i, m := range a.Members {
		out[i] = m.Name
	}
	return out
}

// ArtifactName returns "<project>_TRUTH_V<N>_FULL.zip" or "_SLIM.zip".
func ArtifactName(project string, version int, kind Kind) string {
	return fmt.Sprintf("%s_TRUTH_V%d_%s.zip", project, version, strings.ToUpper(string(kind)))
}

// ParseArtifactName splits an artifact file name. ok is false for anything
// that is not a FULL or SLIM artifact name.
func ParseArtifactName(name string) (project string, version int, kind Kind, ok bool) {
	m := artifactName.FindStringSubmatch(name)
	if m == nil {
		return "", 0, "", false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, "", false
	}
	return m[1], v, Kind(strings.ToLower(m[3])), true
}

// Packager writes archives for one project tree.
type Packager struct {
	fs     afero.Fs
	root   string
	pol    *policy.Policy
	logger *slog.Logger
}

// NewPackager returns a Packager writing artifacts below root.
func NewPackager(fs afero.Fs, root string, pol *policy.Policy, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{fs: fs, root: root, pol: pol, logger: logger.With("component", "archive.Packager")}
}

// Dir returns the artifact directory.
func (p *Packager) Dir() string {
	return filepath.Join(p.root, p.pol.ArtifactDir)
}

// ArtifactPath returns where the artifact of kind for version is written.
func (p *Packager) ArtifactPath(project string, version int, kind Kind) string {
	return filepath.Join(p.Dir(), ArtifactName(project, version, kind))
}

// PackFull writes the FULL artifact: every member of set the policy admits
// with the artifact allowlist, nested under project/.
func (p *Packager) PackFull(ctx context.Context, set *walk.FileSet, project string, version int) (*Archive, error) {
	return p.packArtifact(ctx, set, project, version, KindFull)
}

// PackSlim writes the SLIM artifact: the FULL members minus the policy's
// slim-only exclusions. set may be the FULL set.
func (p *Packager) PackSlim(ctx context.Context, set *walk.FileSet, project string, version int) (*Archive, error) {
	return p.packArtifact(ctx, set, project, version, KindSlim)
}

func (p *Packager) packArtifact(ctx context.Context, set *walk.FileSet, project string, version int, kind Kind) (*Archive, error) {
	if project == "" || version < 1 {
		return nil, errors.Newf(errors.KindUsage, "cannot name artifact for project %q version %d", project, version)
	}
	opts := walk.Options{IncludeArtifacts: true, Slim: kind == KindSlim}
	files := set.Filter(func(f walk.File) bool { return walk.Admits(p.pol, f.Path, opts) }).Files

	members := make([]pending, len(files))
	for i, f := range files {
		members[i] = pending{name: project + "/" + f.Path, data: f.Data}
	}
	dest := p.ArtifactPath(project, version, kind)
	a, err := p.write(ctx, dest, members)
	if err != nil {
		return nil, err
	}
	a.Kind, a.Root = kind, project
	p.logger.Debug("artifact written", "kind", kind, "path", dest, "members", len(a.Members))
	return a, nil
}

// PackPatch writes a repo-relative archive of the members of set at or below
// any of paths. Every requested path must match at least one member.
func (p *Packager) PackPatch(ctx context.Context, set *walk.FileSet, paths []string, dest string) (*Archive, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.KindUsage, "patch needs at least one path")
	}
	var members []pending
	for _, want := range paths {
		want = strings.TrimPrefix(path.Clean(filepath.ToSlash(want)), "./")
		found := false
		for _, f := range set.Files {
			if want == "." || f.Path == want || strings.HasPrefix(f.Path, want+"/") {
				members = append(members, pending{name: f.Path, data: f.Data})
				found = true
			}
		}
		if !found {
			return nil, errors.Newf(errors.KindUsage, "patch path %q matches no file in the tree", want)
		}
	}
	members = dedupe(members)

	a, err := p.write(ctx, dest, members)
	if err != nil {
		return nil, err
	}
	a.Kind = KindPatch
	return a, nil
}

type pending struct {
	name string
	data []byte
}

// dedupe drops exact repeats, which overlapping patch paths produce.
func dedupe(in []pending) []pending {
	seen := map[string]bool{}
	out := in[:0]
	for _, m := range in {
		if !seen[m.name] {
			seen[m.name] = true
			out = append(out, m)
		}
	}
	return out
}

// write stores members, sorted by name, into dest through a temp file in the
// same directory. Names that collide case-insensitively are rejected.
func (p *Packager) write(ctx context.Context, dest string, members []pending) (*Archive, error) {
	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })

	folded := make(map[string]string, len(members))
	for _, m := range members {
		key := strings.ToLower(m.name)
		if prev, dup := folded[key]; dup {
			return nil, errors.Newf(errors.KindArtifactContent, "duplicate archive path %q (collides with %q)", m.name, prev)
		}
		folded[key] = m.name
	}

	a := &Archive{Path: dest, Members: make([]Member, 0, len(members))}
	err := fsutil.WriteAtomic(p.fs, dest, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, CompressionLevel)
		})
		for _, m := range members {
			if err := ctx.Err(); err != nil {
				return err
			}
			hdr := &zip.FileHeader{Name: m.name, Method: zip.Deflate, Modified: memberTime}
			hdr.SetMode(0o644)
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("add %s: %w", m.name, err)
			}
			if _, err := fw.Write(m.data); err != nil {
				return fmt.Errorf("write %s: %w", m.name, err)
			}
			a.Members = append(a.Members, Member{Name: m.name, Size: int64(len(m.data))})
		}
		return zw.Close()
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.AtPath(errors.KindArtifactContent, dest, "write archive", err)
	}
	return a, nil
}

// Artifacts lists the FULL/SLIM artifact file names in the artifact
// directory, sorted.
func (p *Packager) Artifacts() ([]string, error) {
	infos, err := afero.ReadDir(p.fs, p.Dir())
	if err != nil {
		if exists, _ := afero.DirExists(p.fs, p.Dir()); !exists {
			return nil, nil
		}
		return nil, errors.AtPath(errors.KindScan, p.pol.ArtifactDir, "list artifacts", err)
	}
	var out []string
	for _, info := range infos {
		if _, _, _, ok := ParseArtifactName(info.Name()); ok && !info.IsDir() {
			out = append(out, info.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
