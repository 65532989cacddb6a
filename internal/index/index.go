// Package index builds the derived index: a repository map, a Go symbol index
// and an entrypoint list, all regenerated from the File Set and published
// into index_dir in one swap.
package index

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

// Output file names.
const (
	RepoMapFile     = "repo_map.json"
	GoIndexFile     = "go_index.json"
	EntrypointsFile = "entrypoints.json"
	ReadmeFile      = "README.txt"
	ManifestFile    = "INDEX.txt"
)

// Output is one published index file.
type Output struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Index describes a published index directory.
type Index struct {
	Dir     string   `json:"dir"`
	Outputs []Output `json:"outputs"`
}

// Builder renders and publishes the derived index.
type Builder struct {
	fs     afero.Fs
	root   string
	pol    *policy.Policy
	logger *slog.Logger
}

// NewBuilder returns a Builder for the project at root.
func NewBuilder(fs afero.Fs, root string, pol *policy.Policy, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{fs: fs, root: root, pol: pol, logger: logger.With("component", "index.Builder")}
}

// Dir returns the published index directory.
func (b *Builder) Dir() string {
	return filepath.Join(b.root, b.pol.IndexDir)
}

// Exists reports whether an index has been published.
func (b *Builder) Exists() (bool, error) {
	return afero.DirExists(b.fs, b.Dir())
}

type rendered struct {
	name string
	data []byte
}

// render produces the index files for set without touching the filesystem.
// Generated trees in set are ignored, so an index never indexes itself.
func (b *Builder) render(ctx context.Context, set *walk.FileSet) ([]rendered, error) {
	src := set.Filter(func(f walk.File) bool { return !b.pol.ExcludedFile(f.Path) })

	repoMap := buildRepoMap(src, b.pol)
	goIndex, err := buildGoIndex(ctx, src, b.pol)
	if err != nil {
		return nil, err
	}
	entrypoints := findEntrypoints(goIndex)

	var out []rendered
	for _, item := range []struct {
		name string
		v    any
	}{
		{RepoMapFile, repoMap},
		{GoIndexFile, goIndex},
		{EntrypointsFile, entrypoints},
	} {
		data, err := json.MarshalIndent(item.v, "", "  ")
		if err != nil {
			return nil, errors.Wrap(errors.KindIndex, "encode "+item.name, err)
		}
		out = append(out, rendered{item.name, append(data, '\n')})
	}
	out = append(out, rendered{ReadmeFile, readme(repoMap, goIndex, entrypoints)})

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	out = append(out, rendered{ManifestFile, manifest(out)})
	return out, nil
}

// Rebuild renders the index into a staging directory next to index_dir and
// swaps it into place. A failure leaves the published index untouched.
func (b *Builder) Rebuild(ctx context.Context, set *walk.FileSet) (*Index, error) {
	files, err := b.render(ctx, set)
	if err != nil {
		return nil, err
	}

	staged := fsutil.StagingDir(b.Dir())
	published := false
	defer func() {
		if !published {
			b.fs.RemoveAll(staged)
		}
	}()

	if err := b.fs.MkdirAll(staged, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindIndex, "create staging dir", err)
	}
	idx := &Index{Dir: b.pol.IndexDir}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(b.fs, filepath.Join(staged, f.name), f.data, 0o644); err != nil {
			return nil, errors.Wrap(errors.KindIndex, "write "+f.name, err)
		}
		idx.Outputs = append(idx.Outputs, Output{Name: f.name, Size: int64(len(f.data)), SHA256: digest(f.data)})
	}

	if err := fsutil.SwapDir(b.fs, staged, b.Dir()); err != nil {
		return nil, errors.Wrap(errors.KindIndex, "publish index", err)
	}
	published = true

	b.logger.Debug("index published", "dir", b.pol.IndexDir, "files", set.Len(), "outputs", len(idx.Outputs))
	return idx, nil
}

// Verify checks the published index against its INDEX.txt manifest: every
// listed output matches its size and hash, and nothing unlisted is present.
func (b *Builder) Verify() error {
	rel := b.pol.IndexDir + "/" + ManifestFile
	data, err := afero.ReadFile(b.fs, filepath.Join(b.Dir(), ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.AtPath(errors.KindIndex, rel, "manifest missing", nil)
		}
		return errors.AtPath(errors.KindIndex, rel, "read manifest", err)
	}

	listed := map[string]bool{ManifestFile: true}
	var errs []error
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 3 {
			errs = append(errs, errors.AtLine(errors.KindIndex, rel, n, "want name<TAB>size<TAB>sha256"))
			continue
		}
		name, size, sum := fields[0], fields[1], fields[2]
		listed[name] = true

		content, err := afero.ReadFile(b.fs, filepath.Join(b.Dir(), name))
		if err != nil {
			errs = append(errs, errors.AtLine(errors.KindIndex, rel, n, name+" is listed but unreadable"))
			continue
		}
		if strconv.Itoa(len(content)) != size || digest(content) != sum {
			errs = append(errs, errors.AtLine(errors.KindIndex, rel, n, name+" does not match its manifest entry"))
		}
	}

	infos, err := afero.ReadDir(b.fs, b.Dir())
	if err != nil {
		return errors.AtPath(errors.KindIndex, b.pol.IndexDir, "list index", err)
	}
	for _, info := range infos {
		if !listed[info.Name()] {
			errs = append(errs, errors.AtPath(errors.KindIndex, b.pol.IndexDir+"/"+info.Name(), "not listed in manifest", nil))
		}
	}
	return errors.Join(errs...)
}

// MatchesFileSet reports whether the published index is exactly what
// a rebuild from set would produce.
func (b *Builder) MatchesFileSet(ctx context.Context, set *walk.FileSet) error {
	files, err := b.render(ctx, set)
	if err != nil {
		return err
	}
	var stale []string
	for _, f := range files {
		got, err := afero.ReadFile(b.fs, filepath.Join(b.Dir(), f.name))
		if err != nil || !bytes.Equal(got, f.data) {
			stale = append(stale, f.name)
		}
	}
	if len(stale) > 0 {
		return errors.Newf(errors.KindIndex, "index is stale for the current tree: %s", strings.Join(stale, ", "))
	}
	return nil
}

func manifest(files []rendered) []byte {
	var b bytes.Buffer
	for _, f := range files {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", f.name, len(f.data), digest(f.data))
	}
	return b.Bytes()
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
