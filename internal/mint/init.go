package mint

import (
	"context"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/truthlog"
)

// InitResult reports what Init wrote.
type InitResult struct {
	Project   string `json:"project"`
	Authority string `json:"authority_file"`
	Log       string `json:"log_file"`
}

// Init seeds a project: an authority file at TRUTH_V1 and a log holding the
// matching first entry. It refuses to touch a project that already has
// either file. Artifacts are left to Pack.
func (o *Orchestrator) Init(ctx context.Context, project string) (*InitResult, error) {
	if !projectName.MatchString(project) {
		return nil, errors.Newf(errors.KindUsage, "project name %q must match [A-Za-z0-9_-]+", project)
	}
	for _, rel := range []string{o.pol.AuthorityFile, o.pol.LogFile} {
		exists, err := afero.Exists(o.fs, o.abs(rel))
		if err != nil {
			return nil, errors.AtPath(errors.KindScan, rel, "stat", err)
		}
		if exists {
			return nil, errors.AtPath(errors.KindUsage, rel, "already initialized (use truth reseed to start a new epoch)", nil)
		}
	}

	e := truthlog.Entry{
		Project:    project,
		Version:    1,
		Type:       truthlog.TypeConfirm,
		LockedPre:  o.lockedPre(ctx, 1, "none"),
		LockedPost: lockedPost(project, 1),
		Statement:  []string{"- Project initialized"},
	}
	if err := o.auth.Create(project, 1); err != nil {
		return nil, err
	}
	if err := o.log.Reset(e); err != nil {
		_ = o.fs.Remove(o.auth.Path())
		return nil, err
	}
	o.logger.Info("project initialized", "project", project)
	return &InitResult{Project: project, Authority: o.pol.AuthorityFile, Log: o.pol.LogFile}, nil
}
