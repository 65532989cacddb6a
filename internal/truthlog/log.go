package truthlog

import (
	"bytes"
	"os"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
)

// Log is the truth log file.
type Log struct {
	fs   afero.Fs
	path string
	opts Options
}

// Open returns the log stored at path. Nothing is read until a method needs
// it. opts.Path defaults to path.
func Open(fs afero.Fs, path string, opts Options) *Log {
	if opts.Path == "" {
		opts.Path = path
	}
	return &Log{fs: fs, path: path, opts: opts}
}

// Path returns the log file's location.
func (l *Log) Path() string { return l.path }

// Bytes returns the raw log content.
func (l *Log) Bytes() ([]byte, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.AtPath(errors.KindConfig, l.opts.Path, "truth log missing", nil)
		}
		return nil, errors.AtPath(errors.KindScan, l.opts.Path, "read truth log", err)
	}
	return data, nil
}

// Entries parses the whole log.
func (l *Log) Entries() ([]Entry, error) {
	data, err := l.Bytes()
	if err != nil {
		return nil, err
	}
	return Parse(data, l.opts)
}

// Latest returns the last entry, or nil for an empty log.
func (l *Log) Latest() (*Entry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}

// ValidateContiguity parses the log and checks its version sequence.
func (l *Log) ValidateContiguity() error {
	entries, err := l.Entries()
	if err != nil {
		return err
	}
	return CheckContiguity(entries, l.opts.Path)
}

// Append adds e to the end of the log. e must be the next version and belong
// to the same project. The combined log is parsed again before it is
// published, so a rendering bug can never reach the file.
func (l *Log) Append(e Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	current, err := l.Bytes()
	if err != nil {
		return err
	}
	entries, err := Parse(current, l.opts)
	if err != nil {
		return err
	}
	if err := CheckContiguity(entries, l.opts.Path); err != nil {
		return err
	}

	want := 1
	if n := len(entries); n > 0 {
		want = entries[n-1].Version + 1
		if e.Project != entries[0].Project {
			return errors.Newf(errors.KindFormat, "entry project %q does not match log project %q", e.Project, entries[0].Project)
		}
	}
	if e.Version != want {
		return errors.Newf(errors.KindContiguity, "cannot append TRUTH_V%d: next version is TRUTH_V%d", e.Version, want)
	}

	next := Normalize(current)
	if len(next) > 0 && !bytes.HasSuffix(next, []byte("\n")) {
		next = append(next, '\n')
	}
	if len(next) > 0 {
		next = append(next, '\n')
	}
	next = append(next, Render(e)...)

	return l.publish(next)
}

// Reset replaces the whole log with a single first entry. It is used when a
// new epoch starts.
func (l *Log) Reset(e Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	if e.Version != 1 {
		return errors.Newf(errors.KindContiguity, "a new epoch starts at TRUTH_V1, not TRUTH_V%d", e.Version)
	}
	return l.publish([]byte(Render(e)))
}

// Restore republishes previously captured raw content.
func (l *Log) Restore(data []byte) error {
	if err := fsutil.WriteFileAtomic(l.fs, l.path, data, 0o644); err != nil {
		return errors.AtPath(errors.KindTransaction, l.opts.Path, "restore truth log", err)
	}
	return nil
}

func (l *Log) publish(data []byte) error {
	if _, err := Parse(data, l.opts); err != nil {
		return errors.Wrap(errors.KindFormat, "refusing to publish unparseable log", err)
	}
	if err := fsutil.WriteFileAtomic(l.fs, l.path, data, 0o644); err != nil {
		return errors.AtPath(errors.KindTransaction, l.opts.Path, "write truth log", err)
	}
	return nil
}

// Repair normalizes line endings and drops a trailing entry that never got
// its END line. It reports what changed; unchanged logs are not rewritten.
func (l *Log) Repair() (RepairResult, error) {
	data, err := l.Bytes()
	if err != nil {
		return RepairResult{}, err
	}
	fixed, res, err := Repair(data, l.opts)
	if err != nil {
		return res, err
	}
	if !res.Changed {
		return res, nil
	}
	if err := fsutil.WriteFileAtomic(l.fs, l.path, fixed, 0o644); err != nil {
		return res, errors.AtPath(errors.KindTransaction, l.opts.Path, "write repaired log", err)
	}
	return res, nil
}
