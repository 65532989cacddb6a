package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/walk"
)

// PackBackup writes a nested archive of set to dest together with a
// BACKUP_MANIFEST.json recording each file's size and sha256.
func (p *Packager) PackBackup(ctx context.Context, set *walk.FileSet, project, dest string) (*Archive, error) {
	man := BackupManifest{Project: project, Files: make([]ManifestEntry, 0, set.Len())}
	members := make([]pending, 0, set.Len()+1)
	for _, f := range set.Files {
		sum := sha256.Sum256(f.Data)
		man.Files = append(man.Files, ManifestEntry{Path: f.Path, Size: int64(len(f.Data)), SHA256: hex.EncodeToString(sum[:])})
		members = append(members, pending{name: project + "/" + f.Path, data: f.Data})
	}
	raw, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.KindArtifactContent, "encode backup manifest", err)
	}
	members = append(members, pending{name: project + "/" + ManifestName, data: append(raw, '\n')})

	a, err := p.write(ctx, dest, members)
	if err != nil {
		return nil, err
	}
	a.Kind, a.Root = KindBackup, project
	p.logger.Debug("backup written", "path", dest, "files", set.Len())
	return a, nil
}

// BackupInfo describes one backup archive on disk.
type BackupInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backups lists the zip files in dir, newest first.
func Backups(fs afero.Fs, dir string) ([]BackupInfo, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if exists, _ := afero.DirExists(fs, dir); !exists {
			return nil, nil
		}
		return nil, errors.AtPath(errors.KindScan, dir, "list backups", err)
	}
	var out []BackupInfo
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".zip") {
			continue
		}
		out = append(out, BackupInfo{
			Name:    info.Name(),
			Path:    filepath.Join(dir, info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// PruneCandidates returns the backups to delete: everything beyond the keep
// newest that is also older than maxAge. Names in protect are never returned.
func PruneCandidates(backups []BackupInfo, keep int, maxAge time.Duration, now time.Time, protect ...string) []BackupInfo {
	protected := map[string]bool{}
	for _, name := range protect {
		protected[name] = true
	}
	var out []BackupInfo
	for i, b := range backups {
		if i < keep || protected[b.Name] {
			continue
		}
		if maxAge > 0 && now.Sub(b.ModTime) < maxAge {
			continue
		}
		out = append(out, b)
	}
	return out
}

// MarkerFile names the backup taken by the most recent confirm. It lives in
// the artifact directory.
const MarkerFile = "last_before_confirm_backup.json"

// Marker is the content of MarkerFile.
type Marker struct {
	Backup    string    `json:"backup_zip"` // repo-relative
	Version   int       `json:"version"`    // authority version the backup captured
	TxID      string    `json:"tx_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadMarker loads a marker. It returns nil, nil when there is none.
func ReadMarker(fs afero.Fs, path string) (*Marker, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.AtPath(errors.KindArtifactContent, path, "read backup marker", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.AtPath(errors.KindArtifactContent, path, "backup marker is not valid JSON", err)
	}
	if strings.TrimSpace(m.Backup) == "" {
		return nil, errors.AtPath(errors.KindArtifactContent, path, "backup marker names no backup", nil)
	}
	return &m, nil
}

// WriteMarker publishes m at path.
func WriteMarker(fs afero.Fs, path string, m Marker) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindArtifactContent, "encode backup marker", err)
	}
	if err := fsutil.WriteFileAtomic(fs, path, append(raw, '\n'), 0o644); err != nil {
		return errors.AtPath(errors.KindTransaction, path, "write backup marker", err)
	}
	return nil
}
