package truthlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
)

var draftName = regexp.MustCompile(`^TRUTH_V(\d+)\.draft\.md$`)

// Drafts stores the single pending draft entry.
type Drafts struct {
	fs  afero.Fs
	dir string
}

// NewDrafts returns the draft store rooted at dir.
func NewDrafts(fs afero.Fs, dir string) *Drafts {
	return &Drafts{fs: fs, dir: dir}
}

// Path returns where the draft for version lives.
func (d *Drafts) Path(version int) string {
	return filepath.Join(d.dir, fmt.Sprintf("TRUTH_V%d.draft.md", version))
}

// Save writes e as the pending draft. An existing draft is replaced only when
// overwrite is set.
func (d *Drafts) Save(e Entry, overwrite bool) (string, error) {
	if err := e.Check(); err != nil {
		return "", err
	}
	files, err := d.list()
	if err != nil {
		return "", err
	}
	if len(files) > 0 && !overwrite {
		return "", errors.Newf(errors.KindUsage, "draft %s already pending (revert it or pass --overwrite)", filepath.Base(files[0]))
	}

	target := d.Path(e.Version)
	if err := fsutil.WriteFileAtomic(d.fs, target, []byte(Render(e)), 0o644); err != nil {
		return "", errors.AtPath(errors.KindTransaction, target, "write draft", err)
	}
	for _, f := range files {
		if f == target {
			continue
		}
		if err := d.fs.Remove(f); err != nil && !os.IsNotExist(err) {
			return "", errors.AtPath(errors.KindTransaction, f, "remove replaced draft", err)
		}
	}
	return target, nil
}

// Pending returns the draft and its path, or nil when none exists. More than
// one draft file, or a draft whose content disagrees with its file name, is
// an E_FORMAT error.
func (d *Drafts) Pending() (*Entry, string, error) {
	files, err := d.list()
	if err != nil {
		return nil, "", err
	}
	switch len(files) {
	case 0:
		return nil, "", nil
	case 1:
	default:
		return nil, "", errors.Newf(errors.KindFormat, "%d drafts pending in %s; at most one may exist", len(files), d.dir)
	}

	path := files[0]
	data, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return nil, "", errors.AtPath(errors.KindScan, path, "read draft", err)
	}
	entries, err := Parse(data, Options{Path: path})
	if err != nil {
		return nil, "", err
	}
	if len(entries) != 1 {
		return nil, "", errors.AtPath(errors.KindFormat, path, fmt.Sprintf("draft holds %d entries, want 1", len(entries)), nil)
	}
	want, _ := strconv.Atoi(draftName.FindStringSubmatch(filepath.Base(path))[1])
	if entries[0].Version != want {
		return nil, "", errors.AtLine(errors.KindFormat, path, entries[0].Line,
			fmt.Sprintf("draft content is TRUTH_V%d but file name says TRUTH_V%d", entries[0].Version, want))
	}
	return &entries[0], path, nil
}

// Discard removes every draft file and reports whether one existed.
func (d *Drafts) Discard() (bool, error) {
	files, err := d.list()
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if err := d.fs.Remove(f); err != nil && !os.IsNotExist(err) {
			return false, errors.AtPath(errors.KindTransaction, f, "remove draft", err)
		}
	}
	return len(files) > 0, nil
}

func (d *Drafts) list() ([]string, error) {
	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.AtPath(errors.KindScan, d.dir, "list drafts", err)
	}
	var out []string
	for _, info := range infos {
		if !info.IsDir() && draftName.MatchString(info.Name()) {
			out = append(out, filepath.Join(d.dir, info.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
