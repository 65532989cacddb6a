package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/walk"
)

func (r *run) artifactPaths() (full, slim string, err error) {
	if r.recErr != nil {
		return "", "", r.recErr
	}
	return r.packager.ArtifactPath(r.rec.Project, r.rec.Version, archive.KindFull),
		r.packager.ArtifactPath(r.rec.Project, r.rec.Version, archive.KindSlim), nil
}

func (r *run) artifactsExist(context.Context) (string, error) {
	full, slim, err := r.artifactPaths()
	if err != nil {
		return "", err
	}
	var errs []error
	for _, p := range []string{full, slim} {
		exists, err := afero.Exists(r.fs, p)
		if err != nil {
			errs = append(errs, errors.AtPath(errors.KindArtifactMissing, r.rel(p), "stat artifact", err))
		} else if !exists {
			errs = append(errs, errors.AtPath(errors.KindArtifactMissing, r.rel(p), "artifact missing", nil))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return filepath.Base(full) + ", " + filepath.Base(slim), nil
}

// artifactsNaming checks every artifact in the artifact directory belongs to
// the current project and no version beyond the authority's.
func (r *run) artifactsNaming(context.Context) (string, error) {
	if r.recErr != nil {
		return "", r.recErr
	}
	names, err := r.packager.Artifacts()
	if err != nil {
		return "", err
	}
	var errs []error
	for _, name := range names {
		project, version, _, _ := archive.ParseArtifactName(name)
		rel := r.pol.ArtifactDir + "/" + name
		switch {
		case project != r.rec.Project:
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, rel,
				fmt.Sprintf("artifact belongs to project %q, authority says %q", project, r.rec.Project), nil))
		case version > r.rec.Version:
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, rel,
				fmt.Sprintf("artifact is newer than TRUTH_V%d", r.rec.Version), nil))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d artifacts", len(names)), nil
}

func (r *run) artifactsStructure(context.Context) (string, error) {
	full, slim, err := r.artifactPaths()
	if err != nil {
		return "", err
	}
	var errs []error
	members := 0
	for _, p := range []string{full, slim} {
		a, err := archive.Validate(r.fs, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		members += len(a.Members)
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d members nested under %s/", members, r.rec.Project), nil
}

func (r *run) slimExclusions(context.Context) (string, error) {
	_, slim, err := r.artifactPaths()
	if err != nil {
		return "", err
	}
	a, err := archive.Inspect(r.fs, slim)
	if err != nil {
		return "", err
	}
	opts := walk.Options{IncludeArtifacts: true, Slim: true}
	var errs []error
	for _, m := range a.Members {
		rel, ok := strings.CutPrefix(m.Name, r.rec.Project+"/")
		if !ok || !walk.Admits(r.pol, rel, opts) {
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, r.rel(slim), "SLIM contains excluded "+m.Name, nil))
		}
	}
	if err := capped(errs); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d members admitted", len(a.Members)), nil
}

// fullMembers checks FULL holds exactly what packaging the current tree would
// put in it, with matching sizes.
func (r *run) fullMembers(ctx context.Context) (string, error) {
	full, _, err := r.artifactPaths()
	if err != nil {
		return "", err
	}
	a, err := archive.Inspect(r.fs, full)
	if err != nil {
		return "", err
	}
	set, err := walk.Enumerate(ctx, r.fs, r.root, r.pol, walk.Options{IncludeArtifacts: true})
	if err != nil {
		return "", err
	}

	sizes := make(map[string]int64, len(a.Members))
	for _, m := range a.Members {
		sizes[strings.TrimPrefix(m.Name, r.rec.Project+"/")] = m.Size
	}
	rel := r.rel(full)
	var errs []error
	for _, f := range set.Files {
		size, ok := sizes[f.Path]
		switch {
		case !ok:
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, rel, "FULL is missing "+f.Path, nil))
		case size != int64(len(f.Data)):
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, rel, "FULL has a different "+f.Path, nil))
		}
		delete(sizes, f.Path)
	}
	for _, m := range a.Members {
		name := strings.TrimPrefix(m.Name, r.rec.Project+"/")
		if _, extra := sizes[name]; extra {
			errs = append(errs, errors.AtPath(errors.KindArtifactContent, rel, "FULL has "+name+" which the tree does not", nil))
		}
	}
	if err := capped(errs); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d members", len(a.Members)), nil
}

func (r *run) indexMatchesFileSet(ctx context.Context) (string, error) {
	if r.setErr != nil {
		return "", r.setErr
	}
	exists, err := r.index.Exists()
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.AtPath(errors.KindIndex, r.pol.IndexDir, "no index published", nil)
	}
	if err := r.index.MatchesFileSet(ctx, r.set); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d files indexed", r.set.Len()), nil
}

func (r *run) lastConfirmBackup(context.Context) (string, error) {
	markerPath := filepath.Join(r.packager.Dir(), archive.MarkerFile)
	m, err := archive.ReadMarker(r.fs, markerPath)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "no confirm backup recorded", nil
	}
	if _, err := archive.ValidateBackup(r.fs, filepath.Join(r.root, filepath.FromSlash(m.Backup))); err != nil {
		return "", err
	}
	return m.Backup, nil
}

func (r *run) rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
