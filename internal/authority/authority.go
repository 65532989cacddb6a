// Package authority owns the single version integer and project name of a
// truthmint project. Both live in one file; any second assignment anywhere in
// the tree is authority drift.
package authority

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

var (
	versionLine = regexp.MustCompile(`^\s*TRUTH_VERSION\s*=\s*(\d+)\s*$`)
	projectLine = regexp.MustCompile(`^\s*PROJECT_NAME\s*=\s*"([^"]*)"\s*$`)

	versionRewrite = regexp.MustCompile(`(?m)^(\s*TRUTH_VERSION\s*=\s*)\d+`)
)

// Record is the authoritative version and project name.
type Record struct {
	Project string `json:"project"`
	Version int    `json:"version"`
	Path    string `json:"path"`
}

// Location is one assignment line.
type Location struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// Assignments lists every TRUTH_VERSION and PROJECT_NAME assignment found in a
// File Set.
type Assignments struct {
	Version []Location `json:"version"`
	Project []Location `json:"project"`
}

// Authority reads and writes the authority file.
type Authority struct {
	fs   afero.Fs
	root string
	pol  *policy.Policy
}

// New returns an Authority for the project at root.
func New(fs afero.Fs, root string, pol *policy.Policy) *Authority {
	return &Authority{fs: fs, root: root, pol: pol}
}

// Path returns the authority file's absolute path.
func (a *Authority) Path() string {
	return filepath.Join(a.root, filepath.FromSlash(a.pol.AuthorityFile))
}

// Read parses the authority file. It must hold exactly one assignment of each
// value.
func (a *Authority) Read() (Record, error) {
	rel := a.pol.AuthorityFile
	data, err := afero.ReadFile(a.fs, a.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, errors.AtPath(errors.KindConfig, rel, "authority file missing", nil)
		}
		return Record{}, errors.AtPath(errors.KindScan, rel, "read authority file", err)
	}
	return Parse(rel, data)
}

// Parse extracts the record from authority file content.
func Parse(rel string, data []byte) (Record, error) {
	var versions, projects []Location
	rec := Record{Path: rel}

	scanLines(data, func(n int, line string) {
		if m := versionLine.FindStringSubmatch(line); m != nil {
			versions = append(versions, Location{rel, n})
			rec.Version, _ = strconv.Atoi(m[1])
		}
		if m := projectLine.FindStringSubmatch(line); m != nil {
			projects = append(projects, Location{rel, n})
			rec.Project = m[1]
		}
	})

	switch {
	case len(versions) == 0:
		return Record{}, errors.AtPath(errors.KindConfig, rel, "no TRUTH_VERSION assignment", nil)
	case len(projects) == 0:
		return Record{}, errors.AtPath(errors.KindConfig, rel, "no PROJECT_NAME assignment", nil)
	case len(versions) > 1:
		return Record{}, drift("TRUTH_VERSION", versions)
	case len(projects) > 1:
		return Record{}, drift("PROJECT_NAME", projects)
	}
	if strings.EqualFold(path.Ext(rel), ".toml") {
		var doc struct {
			Project string `toml:"PROJECT_NAME"`
			Version int    `toml:"TRUTH_VERSION"`
		}
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return Record{}, errors.AtPath(errors.KindConfig, rel, "authority file is not valid TOML", err)
		}
	}
	if rec.Version < 1 {
		return Record{}, errors.AtLine(errors.KindConfig, rel, versions[0].Line, "TRUTH_VERSION must be >= 1")
	}
	if strings.TrimSpace(rec.Project) == "" {
		return Record{}, errors.AtLine(errors.KindConfig, rel, projects[0].Line, "PROJECT_NAME is empty")
	}
	return rec, nil
}

// Scan collects every assignment in the text files of set and fails with
// E_AUTHORITY_DRIFT when either value is assigned more than once or anywhere
// other than the authority file.
func (a *Authority) Scan(set *walk.FileSet) (Assignments, error) {
	var out Assignments
	for _, f := range set.Files {
		if f.Path != a.pol.AuthorityFile && !a.pol.IsText(f.Path) {
			continue
		}
		scanLines(f.Data, func(n int, line string) {
			if versionLine.MatchString(line) {
				out.Version = append(out.Version, Location{f.Path, n})
			}
			if projectLine.MatchString(line) {
				out.Project = append(out.Project, Location{f.Path, n})
			}
		})
	}

	verr, perr := out.Drift(a.pol.AuthorityFile)
	return out, errors.Join(verr, perr)
}

// Drift reports, separately for each value, whether it is assigned anywhere
// but exactly once in authorityFile.
func (s Assignments) Drift(authorityFile string) (version, project error) {
	if misplaced(s.Version, authorityFile) {
		version = drift("TRUTH_VERSION", s.Version)
	}
	if misplaced(s.Project, authorityFile) {
		project = drift("PROJECT_NAME", s.Project)
	}
	return version, project
}

func misplaced(locs []Location, authorityFile string) bool {
	if len(locs) > 1 {
		return true
	}
	return len(locs) == 1 && locs[0].Path != authorityFile
}

// Write publishes a new version, rewriting only the TRUTH_VERSION line.
func (a *Authority) Write(version int) error {
	if version < 1 {
		return errors.Newf(errors.KindUsage, "refusing to write TRUTH_VERSION %d (must be >= 1)", version)
	}
	data, err := afero.ReadFile(a.fs, a.Path())
	if err != nil {
		return errors.AtPath(errors.KindConfig, a.pol.AuthorityFile, "read authority file", err)
	}
	if _, err := Parse(a.pol.AuthorityFile, data); err != nil {
		return err
	}

	updated := versionRewrite.ReplaceAll(data, []byte("${1}"+strconv.Itoa(version)))
	return a.publish(updated)
}

// Create writes a fresh authority file holding project and version.
func (a *Authority) Create(project string, version int) error {
	if version < 1 {
		return errors.Newf(errors.KindUsage, "refusing to write TRUTH_VERSION %d (must be >= 1)", version)
	}
	return a.publish(Render(project, version))
}

// Bytes returns the raw authority file content.
func (a *Authority) Bytes() ([]byte, error) {
	return afero.ReadFile(a.fs, a.Path())
}

// Restore republishes previously captured content.
func (a *Authority) Restore(data []byte) error {
	return a.publish(data)
}

func (a *Authority) publish(data []byte) error {
	if err := fsutil.WriteFileAtomic(a.fs, a.Path(), data, 0o644); err != nil {
		return errors.AtPath(errors.KindTransaction, a.pol.AuthorityFile, "write authority file", err)
	}
	return nil
}

// Render returns the canonical authority file content.
func Render(project string, version int) []byte {
	return []byte(fmt.Sprintf("# Single source of truth. Edited only by truth confirm / truth reseed.\nPROJECT_NAME = %q\nTRUTH_VERSION = %d\n", project, version))
}

func drift(name string, locs []Location) error {
	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.String()
	}
	sort.Strings(names)
	return errors.Newf(errors.KindAuthorityDrift, "%s must be assigned exactly once, in the authority file; found %d: %s",
		name, len(locs), strings.Join(names, ", "))
}

func scanLines(data []byte, fn func(n int, line string)) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		fn(n, sc.Text())
	}
}
