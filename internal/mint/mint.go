// Package mint drives the confirm transaction: it turns the pending draft
// into the next locked truth log entry, regenerates the derived index and the
// FULL and SLIM artifacts, and verifies the result, rolling every change back
// when any step after the first mutation fails.
package mint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/authority"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/git"
	"github.com/pders01/truthmint/internal/index"
	"github.com/pders01/truthmint/internal/metrics"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/truthlog"
	"github.com/pders01/truthmint/internal/verify"
	"github.com/pders01/truthmint/internal/walk"
)

// IndexBuilder regenerates the derived index.
type IndexBuilder interface {
	Rebuild(ctx context.Context, set *walk.FileSet) (*index.Index, error)
	Exists() (bool, error)
	Dir() string
}

// Packager writes artifacts and backups.
type Packager interface {
	PackFull(ctx context.Context, set *walk.FileSet, project string, version int) (*archive.Archive, error)
	PackSlim(ctx context.Context, set *walk.FileSet, project string, version int) (*archive.Archive, error)
	PackBackup(ctx context.Context, set *walk.FileSet, project, dest string) (*archive.Archive, error)
	ArtifactPath(project string, version int, kind archive.Kind) string
	Artifacts() ([]string, error)
	Dir() string
}

// Deps are the Orchestrator's collaborators. Index, Packager, Now and Commit
// default to the real implementations.
type Deps struct {
	FS       afero.Fs
	Root     string
	Policy   *policy.Policy
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Index    IndexBuilder
	Packager Packager
	Now      func() time.Time
	Commit   func(ctx context.Context, dir string) string
}

// Orchestrator runs drafts and confirms for one project.
type Orchestrator struct {
	fs       afero.Fs
	root     string
	pol      *policy.Policy
	auth     *authority.Authority
	log      *truthlog.Log
	drafts   *truthlog.Drafts
	index    IndexBuilder
	packager Packager
	verifier *verify.Verifier
	now      func() time.Time
	commit   func(ctx context.Context, dir string) string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New returns an Orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		fs:       d.FS,
		root:     d.Root,
		pol:      d.Policy,
		auth:     authority.New(d.FS, d.Root, d.Policy),
		log:      truthlog.Open(d.FS, filepath.Join(d.Root, filepath.FromSlash(d.Policy.LogFile)), truthlog.Options{AllowLegacy: d.Policy.AllowLegacyEntries, Path: d.Policy.LogFile}),
		drafts:   truthlog.NewDrafts(d.FS, filepath.Join(d.Root, d.Policy.DraftDir)),
		index:    d.Index,
		packager: d.Packager,
		verifier: verify.New(verify.Deps{FS: d.FS, Root: d.Root, Policy: d.Policy, Logger: logger, Metrics: d.Metrics}),
		now:      d.Now,
		commit:   d.Commit,
		logger:   logger.With("component", "mint.Orchestrator"),
		metrics:  d.Metrics,
	}
	if o.index == nil {
		o.index = index.NewBuilder(d.FS, d.Root, d.Policy, logger)
	}
	if o.packager == nil {
		o.packager = archive.NewPackager(d.FS, d.Root, d.Policy, logger)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.commit == nil {
		o.commit = git.Describe
	}
	return o
}

// DraftRequest describes the entry to draft.
type DraftRequest struct {
	Statement []string
	Notes     []string
	Type      truthlog.Type
	Overwrite bool
}

// Result describes a finished confirm, reseed or pack.
type Result struct {
	TxID        string           `json:"tx_id,omitempty"`
	Project     string           `json:"project"`
	FromVersion int              `json:"from_version,omitempty"`
	Version     int              `json:"version"`
	Entry       *truthlog.Entry  `json:"entry,omitempty"`
	Full        *archive.Archive `json:"full"`
	Slim        *archive.Archive `json:"slim"`
	Backup      string           `json:"backup_zip,omitempty"`
	Pre         *verify.Report   `json:"pre,omitempty"`
	Post        *verify.Report   `json:"post"`
	Duration    time.Duration    `json:"duration"`
}

// MintDraft writes the draft for the next version. Nothing in the log or the
// authority file changes.
func (o *Orchestrator) MintDraft(ctx context.Context, req DraftRequest) (*truthlog.Entry, string, error) {
	m := newMachine(StateIdle, o.now, o.logger, nil)
	if err := o.refuseInterrupted(); err != nil {
		return nil, "", err
	}
	rec, err := o.auth.Read()
	if err != nil {
		return nil, "", err
	}
	statement := bullets(req.Statement)
	if len(statement) == 0 {
		return nil, "", errors.New(errors.KindUsage, "empty statement: a draft needs at least one non-blank line")
	}

	next := rec.Version + 1
	e := truthlog.Entry{
		Project:    rec.Project,
		Version:    next,
		Type:       req.Type,
		LockedPre:  o.lockedPre(ctx, next, fmt.Sprintf("TRUTH_V%d", rec.Version)),
		LockedPost: lockedPost(rec.Project, next),
		Statement:  statement,
		Notes:      bullets(req.Notes),
	}
	path, err := o.drafts.Save(e, req.Overwrite)
	if err != nil {
		return nil, "", err
	}
	if err := m.to(StateDraftPending); err != nil {
		return nil, "", err
	}
	o.logger.Info("draft written", "version", next, "path", path)
	return &e, path, nil
}

// Draft returns the pending draft, or nil.
func (o *Orchestrator) Draft() (*truthlog.Entry, string, error) {
	return o.drafts.Pending()
}

// RevertDraft discards the pending draft.
func (o *Orchestrator) RevertDraft() error {
	m := newMachine(StateDraftPending, o.now, o.logger, nil)
	existed, err := o.drafts.Discard()
	if err != nil {
		return err
	}
	if !existed {
		return errors.New(errors.KindUsage, "no draft to revert")
	}
	return m.to(StateIdle)
}

func (o *Orchestrator) lockedPre(ctx context.Context, version int, previous string) []string {
	lines := []string{
		fmt.Sprintf("Version: %d", version),
		"Previous: " + previous,
		"Timestamp: " + o.now().UTC().Format(time.RFC3339),
	}
	if c := o.commit(ctx, o.root); c != "" {
		lines = append(lines, "Commit: "+c)
	}
	return lines
}

func lockedPost(project string, version int) []string {
	return []string{
		"FULL: " + archive.ArtifactName(project, version, archive.KindFull),
		"SLIM: " + archive.ArtifactName(project, version, archive.KindSlim),
	}
}

// bullets drops blank lines and prefixes the rest with "- ".
func bullets(lines []string) []string {
	var out []string
	for _, l := range lines {
		for _, s := range strings.Split(l, "\n") {
			s = strings.TrimRight(s, " \t\r")
			if strings.TrimSpace(s) == "" {
				continue
			}
			if !strings.HasPrefix(strings.TrimLeft(s, " \t"), "- ") {
				s = "- " + strings.TrimSpace(s)
			}
			out = append(out, s)
		}
	}
	return out
}

// Status summarizes the project's mint state.
type Status struct {
	Project     string          `json:"project"`
	Version     int             `json:"version"`
	State       State           `json:"state"`
	Latest      string          `json:"latest,omitempty"`
	Draft       *truthlog.Entry `json:"draft,omitempty"`
	DraftPath   string          `json:"draft_path,omitempty"`
	Interrupted *Journal        `json:"interrupted,omitempty"`
	Artifacts   []string        `json:"artifacts"`
	Index       bool            `json:"index"`
	Commit      string          `json:"commit,omitempty"`
}

// Status reads the project state without changing anything.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	rec, err := o.auth.Read()
	if err != nil {
		return nil, err
	}
	st := &Status{Project: rec.Project, Version: rec.Version, State: StateIdle, Commit: o.commit(ctx, o.root)}

	latest, err := o.log.Latest()
	if err != nil {
		return nil, err
	}
	if latest != nil {
		st.Latest = latest.Header()
	}
	if st.Draft, st.DraftPath, err = o.drafts.Pending(); err != nil {
		return nil, err
	}
	if st.Draft != nil {
		st.State = StateDraftPending
	}
	if st.Interrupted, err = readJournal(o.fs, o.journalPath()); err != nil {
		return nil, err
	}
	if st.Artifacts, err = o.packager.Artifacts(); err != nil {
		return nil, err
	}
	if st.Artifacts == nil {
		st.Artifacts = []string{}
	}
	if st.Index, err = o.index.Exists(); err != nil {
		return nil, err
	}
	return st, nil
}

// Verify runs one verifier phase.
func (o *Orchestrator) Verify(ctx context.Context, phase verify.Phase) *verify.Report {
	return o.verifier.Run(ctx, phase)
}

// Pack rebuilds the index and the artifacts of the current version without
// minting, then runs the post phase. Packing is deterministic, so an
// unchanged tree reproduces the existing artifacts byte for byte.
func (o *Orchestrator) Pack(ctx context.Context) (*Result, error) {
	start := o.now()
	if err := o.refuseInterrupted(); err != nil {
		return nil, err
	}
	rec, err := o.auth.Read()
	if err != nil {
		return nil, err
	}
	res := &Result{Project: rec.Project, Version: rec.Version}
	if err := o.rebuildIndex(ctx); err != nil {
		return res, err
	}
	if err := o.publishArtifacts(ctx, res); err != nil {
		return res, err
	}
	res.Post = o.verifier.Run(ctx, verify.PhasePost)
	res.Duration = o.now().Sub(start)
	if err := res.Post.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) rebuildIndex(ctx context.Context) error {
	set, err := walk.Enumerate(ctx, o.fs, o.root, o.pol, walk.Options{})
	if err != nil {
		return err
	}
	_, err = o.index.Rebuild(ctx, set)
	return err
}

func (o *Orchestrator) journalPath() string {
	return filepath.Join(o.root, o.pol.BackupDir, JournalFile)
}

func (o *Orchestrator) markerPath() string {
	return filepath.Join(o.packager.Dir(), archive.MarkerFile)
}

func (o *Orchestrator) refuseInterrupted() error {
	j, err := readJournal(o.fs, o.journalPath())
	if err != nil {
		return err
	}
	if j != nil {
		return errors.AtStep("start", fmt.Sprintf("%s %s did not finish (TRUTH_V%d -> TRUTH_V%d); run truth recover", j.Kind, j.TxID, j.FromVersion, j.ToVersion), nil)
	}
	return nil
}

func (o *Orchestrator) abs(rel string) string {
	return filepath.Join(o.root, filepath.FromSlash(rel))
}

func (o *Orchestrator) rel(abs string) string {
	rel, err := filepath.Rel(o.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
