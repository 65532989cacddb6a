package mint

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/walk"
)

// CreateBackup writes a manual backup of the current tree to the backup
// directory and returns its repo-relative path.
func (o *Orchestrator) CreateBackup(ctx context.Context) (string, error) {
	rec, err := o.auth.Read()
	if err != nil {
		return "", err
	}
	set, err := walk.Enumerate(ctx, o.fs, o.root, o.pol, walk.Options{})
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("manual_TRUTH_V%d_%s.zip", rec.Version, o.now().UTC().Format("20060102_150405"))
	dest := filepath.Join(o.root, o.pol.BackupDir, name)
	if _, err := o.packager.PackBackup(ctx, set, rec.Project, dest); err != nil {
		return "", err
	}
	o.logger.Info("backup written", "path", o.rel(dest), "files", set.Len())
	return o.rel(dest), nil
}

// Backups lists the backups, newest first.
func (o *Orchestrator) Backups() ([]archive.BackupInfo, error) {
	return archive.Backups(o.fs, filepath.Join(o.root, o.pol.BackupDir))
}

// PruneBackups deletes backups beyond the keep newest that are older than
// maxAge. The backup named by the last confirm and the one an interrupted
// transaction would recover from are never deleted. With dryRun nothing is
// removed.
func (o *Orchestrator) PruneBackups(keep int, maxAge time.Duration, dryRun bool) ([]archive.BackupInfo, error) {
	backups, err := o.Backups()
	if err != nil {
		return nil, err
	}
	protect, err := o.protectedBackups()
	if err != nil {
		return nil, err
	}
	doomed := archive.PruneCandidates(backups, keep, maxAge, o.now(), protect...)
	if dryRun {
		return doomed, nil
	}
	for _, b := range doomed {
		if err := o.fs.Remove(b.Path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", b.Name, err)
		}
		o.logger.Info("backup pruned", "name", b.Name)
	}
	return doomed, nil
}

func (o *Orchestrator) protectedBackups() ([]string, error) {
	var names []string
	m, err := archive.ReadMarker(o.fs, o.markerPath())
	if err != nil {
		return nil, err
	}
	if m != nil {
		names = append(names, path.Base(m.Backup))
	}
	j, err := readJournal(o.fs, o.journalPath())
	if err != nil {
		return nil, err
	}
	if j != nil && j.Backup != "" {
		names = append(names, path.Base(j.Backup))
	}
	return names, nil
}
