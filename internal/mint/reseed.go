package mint

import (
	"context"
	"fmt"
	"path"
	"regexp"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/truthlog"
	"github.com/pders01/truthmint/internal/verify"
)

var projectName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ReseedRequest starts a new epoch.
type ReseedRequest struct {
	// Project renames the project. Empty keeps the current name.
	Project   string
	Statement []string
}

// Reseed starts a new epoch at TRUTH_V1. The current log and artifacts move
// to a timestamped folder below the archive directory, the authority file and
// log are rewritten for version 1, and fresh artifacts are packed. It runs as
// a transaction like ConfirmDraft but skips the pre phase, since reseeding is
// how a project with an unusable history starts over.
func (o *Orchestrator) Reseed(ctx context.Context, req ReseedRequest) (res *Result, err error) {
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
	old, readErr := o.auth.Read()
	project := req.Project
	if project == "" {
		if readErr != nil {
			return nil, errors.Wrap(errors.KindUsage, "current project name unreadable; pass a project name", readErr)
		}
		project = old.Project
	}
	if !projectName.MatchString(project) {
		return nil, errors.Newf(errors.KindUsage, "project name %q must match [A-Za-z0-9_-]+", project)
	}
	statement := bullets(req.Statement)
	if len(statement) == 0 {
		statement = []string{"- New epoch"}
	}
	previous := "none"
	if readErr == nil {
		previous = fmt.Sprintf("%s TRUTH_V%d", old.Project, old.Version)
	}

	stamp := o.now().UTC().Format("20060102_150405")
	epoch := path.Join(o.pol.ArchiveDir, "epoch_"+stamp)
	names, err := o.packager.Artifacts()
	if err != nil {
		return nil, err
	}
	var moved []Move
	for _, name := range names {
		moved = append(moved, Move{From: path.Join(o.pol.ArtifactDir, name), To: path.Join(epoch, name)})
	}
	logCopy := path.Join(epoch, path.Base(o.pol.LogFile))
	full := o.packager.ArtifactPath(project, 1, archive.KindFull)
	slim := o.packager.ArtifactPath(project, 1, archive.KindSlim)

	res = &Result{Project: project, Version: 1, FromVersion: old.Version}
	m := newMachine(StateBackingUp, o.now, o.logger, o.metrics)
	t, err := o.begin(ctx, m, &Journal{
		Kind:        "reseed",
		Project:     project,
		FromVersion: old.Version,
		ToVersion:   1,
		Created:     []string{logCopy, o.rel(full), o.rel(slim)},
		Moved:       moved,
	})
	if err != nil {
		return res, errors.AtStep(string(StateBackingUp), "backup failed; nothing changed", err)
	}
	res.TxID, res.Backup = t.j.TxID, t.j.Backup

	entry := truthlog.Entry{
		Project:    project,
		Version:    1,
		LockedPre:  o.lockedPre(ctx, 1, previous),
		LockedPost: lockedPost(project, 1),
		Statement:  statement,
	}
	res.Entry = &entry

	err = t.run(ctx, []step{
		{StateAppending, func() error {
			if err := o.fs.MkdirAll(o.abs(epoch), 0o755); err != nil {
				return errors.AtPath(errors.KindTransaction, epoch, "create epoch folder", err)
			}
			if logSnap := t.snapshots[0]; logSnap.existed {
				if err := fsutil.WriteFileAtomic(o.fs, o.abs(logCopy), logSnap.data, 0o644); err != nil {
					return errors.AtPath(errors.KindTransaction, logCopy, "archive old log", err)
				}
			}
			for _, mv := range moved {
				if err := o.fs.Rename(o.abs(mv.From), o.abs(mv.To)); err != nil {
					return errors.AtPath(errors.KindTransaction, mv.From, "archive artifact", err)
				}
			}
			if _, err := fsutil.RemoveIfExists(o.fs, o.markerPath()); err != nil {
				return errors.AtPath(errors.KindTransaction, o.rel(o.markerPath()), "remove backup marker", err)
			}
			if err := o.auth.Create(project, 1); err != nil {
				return err
			}
			return o.log.Reset(entry)
		}},
		{StateRebuildingIndex, func() error { return o.rebuildIndex(ctx) }},
		{StatePackaging, func() error { return o.publishArtifacts(ctx, res) }},
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
		o.logger.Warn("reseeded but a draft from the old epoch could not be removed", "error", err)
	}
	outcome = outcomeLocked
	o.logger.Info("reseeded", "tx", t.j.TxID, "project", project, "archived", epoch)
	return res, nil
}
