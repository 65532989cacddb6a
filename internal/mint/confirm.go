package mint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/verify"
	"github.com/pders01/truthmint/internal/walk"
)

// Mint outcomes recorded in metrics.
const (
	outcomeLocked     = "locked"
	outcomeAborted    = "aborted"
	outcomeRolledBack = "rolled_back"
)

// step is one mutating stage of a transaction.
type step struct {
	state State
	run   func() error
}

// ConfirmDraft turns the pending draft into the next locked entry. The pre
// phase must pass before anything is written; from the first write on, any
// failure or cancellation rolls the repository back to its state before the
// call.
func (o *Orchestrator) ConfirmDraft(ctx context.Context) (res *Result, err error) {
	start := o.now()
	outcome := outcomeAborted
	defer func() {
		o.metrics.ObserveMint(outcome, o.now().Sub(start).Seconds())
		if res != nil {
			res.Duration = o.now().Sub(start)
		}
	}()

	if err := o.refuseInterrupted(); err != nil {
		return nil, err
	}
	draft, _, err := o.drafts.Pending()
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, errors.New(errors.KindUsage, "no draft pending; run truth draft mint first")
	}

	m := newMachine(StateDraftPending, o.now, o.logger, o.metrics)
	res = &Result{Project: draft.Project, Version: draft.Version, Entry: draft}

	// Nothing below changes the repository until begin succeeds.
	abort := func(state State, msg string, cause error) (*Result, error) {
		_ = m.to(StateDraftPending)
		return res, errors.AtStep(string(state), msg+"; nothing changed", cause)
	}

	if err := m.to(StateVerifyingPre); err != nil {
		return res, err
	}
	res.Pre = o.verifier.Run(ctx, verify.PhasePre)
	if err := res.Pre.Err(); err != nil {
		return abort(StateVerifyingPre, "pre verification failed", err)
	}
	rec, err := o.auth.Read()
	if err != nil {
		return abort(StateVerifyingPre, "read authority", err)
	}
	if draft.Project != rec.Project || draft.Version != rec.Version+1 {
		return abort(StateVerifyingPre, "stale draft", errors.Newf(errors.KindContiguity,
			"draft is TRUTH_V%d of %q but the next version is TRUTH_V%d of %q; mint a new draft",
			draft.Version, draft.Project, rec.Version+1, rec.Project))
	}
	res.FromVersion = rec.Version

	full := o.packager.ArtifactPath(rec.Project, draft.Version, archive.KindFull)
	slim := o.packager.ArtifactPath(rec.Project, draft.Version, archive.KindSlim)
	for _, p := range []string{full, slim} {
		if exists, _ := afero.Exists(o.fs, p); exists {
			return abort(StateVerifyingPre, "artifact already present", errors.AtPath(errors.KindArtifactContent, o.rel(p),
				"an artifact for the version being confirmed already exists", nil))
		}
	}

	if err := m.to(StateBackingUp); err != nil {
		return res, err
	}
	t, err := o.begin(ctx, m, &Journal{
		Kind:        "confirm",
		Project:     rec.Project,
		FromVersion: rec.Version,
		ToVersion:   draft.Version,
		Created:     []string{o.rel(full), o.rel(slim)},
	})
	if err != nil {
		return abort(StateBackingUp, "backup failed", err)
	}
	res.TxID, res.Backup = t.j.TxID, t.j.Backup

	err = t.run(ctx, []step{
		{StateAppending, func() error {
			if err := o.auth.Write(draft.Version); err != nil {
				return err
			}
			return o.log.Append(*draft)
		}},
		{StateRebuildingIndex, func() error { return o.rebuildIndex(ctx) }},
		{StatePackaging, func() error {
			if err := o.publishArtifacts(ctx, res); err != nil {
				return err
			}
			return archive.WriteMarker(o.fs, o.markerPath(), archive.Marker{
				Backup:    t.j.Backup,
				Version:   rec.Version,
				TxID:      t.j.TxID,
				CreatedAt: o.now().UTC(),
			})
		}},
		{StateVerifyingPost, func() error {
			res.Post = o.verifier.Run(ctx, verify.PhasePost)
			return res.Post.Err()
		}},
	})
	if err != nil {
		outcome = outcomeRolledBack
		return res, err
	}

	if _, err := o.drafts.Discard(); err != nil {
		o.logger.Warn("confirmed but the draft could not be removed", "error", err)
	}
	outcome = outcomeLocked
	o.logger.Info("confirmed", "tx", t.j.TxID, "version", draft.Version, "full", filepath.Base(full), "slim", filepath.Base(slim))
	return res, nil
}

// publishArtifacts packs FULL and SLIM from the current tree.
func (o *Orchestrator) publishArtifacts(ctx context.Context, res *Result) error {
	set, err := walk.Enumerate(ctx, o.fs, o.root, o.pol, walk.Options{IncludeArtifacts: true})
	if err != nil {
		return err
	}
	if res.Full, err = o.packager.PackFull(ctx, set, res.Project, res.Version); err != nil {
		return err
	}
	res.Slim, err = o.packager.PackSlim(ctx, set, res.Project, res.Version)
	return err
}

// tx is a running transaction. Its snapshots hold the exact bytes of the
// files it may rewrite in place.
type tx struct {
	o         *Orchestrator
	m         *machine
	j         *Journal
	snapshots []snapshot
}

type snapshot struct {
	rel     string
	data    []byte
	existed bool
}

// begin snapshots the log and authority file, writes the backup zip and the
// journal. It changes nothing a rollback would have to undo: on failure the
// backup is removed again.
func (o *Orchestrator) begin(ctx context.Context, m *machine, j *Journal) (*tx, error) {
	t := &tx{o: o, m: m, j: j}
	for _, rel := range []string{o.pol.LogFile, o.pol.AuthorityFile} {
		data, existed, err := fsutil.ReadIfExists(o.fs, o.abs(rel))
		if err != nil {
			return nil, errors.AtPath(errors.KindScan, rel, "snapshot", err)
		}
		t.snapshots = append(t.snapshots, snapshot{rel: rel, data: data, existed: existed})
	}
	marker, _, err := fsutil.ReadIfExists(o.fs, o.markerPath())
	if err != nil {
		return nil, errors.AtPath(errors.KindScan, o.rel(o.markerPath()), "snapshot", err)
	}
	indexExists, err := o.index.Exists()
	if err != nil {
		return nil, err
	}

	set, err := walk.Enumerate(ctx, o.fs, o.root, o.pol, walk.Options{})
	if err != nil {
		return nil, err
	}
	j.TxID = uuid.NewString()
	j.StartedAt = o.now().UTC()
	j.Marker = marker
	name := fmt.Sprintf("before_%s_TRUTH_V%d_%s_%s.zip", j.Kind, j.FromVersion, j.StartedAt.Format("20060102_150405"), j.TxID[:8])
	dest := filepath.Join(o.root, o.pol.BackupDir, name)
	j.Backup = o.rel(dest)

	var stash string
	cleanup := func() {
		_, _ = fsutil.RemoveIfExists(o.fs, dest)
		if stash != "" {
			_ = o.fs.RemoveAll(stash)
		}
	}
	if indexExists {
		stash = filepath.Join(o.root, o.pol.BackupDir, "index_"+j.TxID[:8])
		if err := fsutil.CopyDir(o.fs, o.index.Dir(), stash); err != nil {
			cleanup()
			return nil, errors.AtPath(errors.KindIndex, o.pol.IndexDir, "copy index aside", err)
		}
		j.IndexStash = o.rel(stash)
	}
	if _, err := o.packager.PackBackup(ctx, set, j.Project, dest); err != nil {
		cleanup()
		return nil, err
	}
	if err := writeJournal(o.fs, o.journalPath(), j); err != nil {
		cleanup()
		return nil, err
	}
	o.logger.Info("transaction started", "tx", j.TxID, "kind", j.Kind, "from", j.FromVersion, "to", j.ToVersion, "backup", j.Backup)
	return t, nil
}

// run executes steps in order, checking for cancellation before each. The
// first failure rolls back. On success the machine is Locked and the journal
// is gone.
func (t *tx) run(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := t.m.to(s.state); err != nil {
			return t.fail(ctx, err)
		}
		err := ctx.Err()
		if err == nil {
			err = s.run()
		}
		if err != nil {
			return t.fail(ctx, errors.AtStep(string(s.state), t.j.Kind+" failed, rolled back", err))
		}
	}
	if err := t.m.to(StateLocked); err != nil {
		return t.fail(ctx, err)
	}
	if _, err := fsutil.RemoveIfExists(t.o.fs, t.o.journalPath()); err != nil {
		return errors.AtStep(string(StateLocked), "remove journal", err)
	}
	if t.j.IndexStash != "" {
		if err := t.o.fs.RemoveAll(t.o.abs(t.j.IndexStash)); err != nil {
			t.o.logger.Warn("could not remove index copy", "path", t.j.IndexStash, "error", err)
		}
	}
	return nil
}

// fail rolls back and returns cause, or cause joined with the rollback
// failure when the repository could not be fully restored.
func (t *tx) fail(ctx context.Context, cause error) error {
	_ = t.m.to(StateRolledBack)
	t.o.logger.Warn("rolling back", "tx", t.j.TxID, "error", cause)
	if err := t.o.undo(context.WithoutCancel(ctx), t.j, t.snapshots); err != nil {
		t.o.metrics.ObserveRollback(false)
		t.o.logger.Error("rollback incomplete", "tx", t.j.TxID, "error", err)
		return errors.Join(cause, errors.AtStep(string(StateRolledBack), "rollback incomplete; journal kept, run truth recover", err))
	}
	t.o.metrics.ObserveRollback(true)
	return cause
}

// undo restores the repository to its state before the transaction in j.
// Every step is attempted even when an earlier one fails. The journal is
// removed only when all of them succeed.
func (o *Orchestrator) undo(ctx context.Context, j *Journal, snapshots []snapshot) error {
	var errs []error
	for _, s := range snapshots {
		var err error
		if s.existed {
			err = fsutil.WriteFileAtomic(o.fs, o.abs(s.rel), s.data, 0o644)
		} else {
			_, err = fsutil.RemoveIfExists(o.fs, o.abs(s.rel))
		}
		if err != nil {
			errs = append(errs, errors.AtPath(errors.KindTransaction, s.rel, "restore", err))
		}
	}
	for _, rel := range j.Created {
		if _, err := fsutil.RemoveIfExists(o.fs, o.abs(rel)); err != nil {
			errs = append(errs, errors.AtPath(errors.KindTransaction, rel, "remove", err))
		}
	}
	for i := len(j.Moved) - 1; i >= 0; i-- {
		mv := j.Moved[i]
		if err := o.fs.Rename(o.abs(mv.To), o.abs(mv.From)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, errors.AtPath(errors.KindTransaction, mv.To, "move back to "+mv.From, err))
			continue
		}
		// Only succeeds once the directory is empty.
		_ = o.fs.Remove(filepath.Dir(o.abs(mv.To)))
	}

	var err error
	if j.Marker != nil {
		err = fsutil.WriteFileAtomic(o.fs, o.markerPath(), j.Marker, 0o644)
	} else {
		_, err = fsutil.RemoveIfExists(o.fs, o.markerPath())
	}
	if err != nil {
		errs = append(errs, errors.AtPath(errors.KindTransaction, o.rel(o.markerPath()), "restore backup marker", err))
	}

	if err := o.restoreIndex(ctx, j); err != nil {
		errs = append(errs, errors.AtPath(errors.KindTransaction, o.pol.IndexDir, "restore index", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if _, err := fsutil.RemoveIfExists(o.fs, o.journalPath()); err != nil {
		return errors.AtPath(errors.KindTransaction, o.rel(o.journalPath()), "remove journal", err)
	}
	if j.IndexStash != "" {
		if err := o.fs.RemoveAll(o.abs(j.IndexStash)); err != nil {
			o.logger.Warn("could not remove index copy", "path", j.IndexStash, "error", err)
		}
	}
	o.logger.Info("rolled back", "tx", j.TxID)
	return nil
}

// restoreIndex puts back the index exactly as it was before the transaction
// and clears any staging directories an interrupted rebuild left next to it.
// The copy taken by begin stays in place until the whole undo succeeds, so a
// repeated undo restores it again.
func (o *Orchestrator) restoreIndex(ctx context.Context, j *Journal) error {
	if removed, err := fsutil.SweepSwapLeftovers(o.fs, o.index.Dir()); err != nil {
		return err
	} else if len(removed) > 0 {
		o.logger.Info("removed index swap leftovers", "dirs", len(removed))
	}
	if j.IndexStash == "" {
		return o.fs.RemoveAll(o.index.Dir())
	}
	stash := o.abs(j.IndexStash)
	exists, err := afero.DirExists(o.fs, stash)
	if err != nil {
		return err
	}
	if !exists {
		o.logger.Warn("index copy missing, rebuilding from the restored tree", "path", j.IndexStash)
		return o.rebuildIndex(ctx)
	}
	staged := fsutil.StagingDir(o.index.Dir())
	if err := fsutil.CopyDir(o.fs, stash, staged); err != nil {
		_ = o.fs.RemoveAll(staged)
		return err
	}
	return fsutil.SwapDir(o.fs, staged, o.index.Dir())
}

// Recover undoes a transaction that was interrupted before it could finish
// or roll back, restoring the log and authority file from the journal's
// backup zip. It returns the recovered journal.
func (o *Orchestrator) Recover(ctx context.Context) (*Journal, error) {
	j, err := readJournal(o.fs, o.journalPath())
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, errors.New(errors.KindUsage, "nothing to recover: no transaction journal")
	}
	backup := o.abs(j.Backup)
	man, err := archive.ValidateBackup(o.fs, backup)
	if err != nil {
		return j, errors.AtStep("recover", "backup "+j.Backup+" is unusable", err)
	}

	var snapshots []snapshot
	for _, rel := range []string{o.pol.LogFile, o.pol.AuthorityFile} {
		data, err := archive.ReadMember(o.fs, backup, man.Project+"/"+rel)
		switch {
		case err == nil:
			snapshots = append(snapshots, snapshot{rel: rel, data: data, existed: true})
		case errors.Is(err, errors.ErrArtifactMissing):
			snapshots = append(snapshots, snapshot{rel: rel})
		default:
			return j, errors.AtStep("recover", "read "+rel+" from backup", err)
		}
	}
	if err := o.undo(ctx, j, snapshots); err != nil {
		return j, errors.AtStep("recover", "recovery incomplete; journal kept", err)
	}
	o.metrics.ObserveRollback(true)
	return j, nil
}
