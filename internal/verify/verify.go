// Package verify runs the named consistency checks over a truthmint project.
//
// A Verifier runs in one of two phases. The pre phase checks what must hold
// before a confirm may start; the post phase adds the artifact checks that
// only make sense once FULL and SLIM exist. Every check of the phase always
// runs, so a Report lists every failure at once.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/authority"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/index"
	"github.com/pders01/truthmint/internal/metrics"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/truthlog"
	"github.com/pders01/truthmint/internal/walk"
)

// Phase selects the check list.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ParsePhase accepts "pre" or "post".
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhasePre, PhasePost:
		return p, nil
	}
	return "", errors.Newf(errors.KindUsage, "unknown phase %q (want pre or post)", s)
}

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// Report collects the results of one phase, in check order.
type Report struct {
	Phase   Phase    `json:"phase"`
	Results []Result `json:"results"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failing results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of every failing check, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
	}
	return errors.Join(errs...)
}

// Deps are the Verifier's collaborators.
type Deps struct {
	FS      afero.Fs
	Root    string
	Policy  *policy.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Verifier runs checks against one project.
type Verifier struct {
	fs       afero.Fs
	root     string
	pol      *policy.Policy
	auth     *authority.Authority
	log      *truthlog.Log
	index    *index.Builder
	packager *archive.Packager
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New returns a Verifier.
func New(d Deps) *Verifier {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logPath := filepath.Join(d.Root, filepath.FromSlash(d.Policy.LogFile))
	return &Verifier{
		fs:       d.FS,
		root:     d.Root,
		pol:      d.Policy,
		auth:     authority.New(d.FS, d.Root, d.Policy),
		log:      truthlog.Open(d.FS, logPath, truthlog.Options{AllowLegacy: d.Policy.AllowLegacyEntries, Path: d.Policy.LogFile}),
		index:    index.NewBuilder(d.FS, d.Root, d.Policy, logger),
		packager: archive.NewPackager(d.FS, d.Root, d.Policy, logger),
		logger:   logger.With("component", "verify.Verifier"),
		metrics:  d.Metrics,
	}
}

type check struct {
	name string
	fn   func(*run, context.Context) (string, error)
}

var preChecks = []check{
	{"policy.single-authority", (*run).singlePolicy},
	{"authority.version", (*run).authorityVersion},
	{"authority.project", (*run).authorityProject},
	{"log.format", (*run).logFormat},
	{"log.contiguity", (*run).logContiguity},
	{"log.matches-authority", (*run).logMatchesAuthority},
	{"scan.truncation", (*run).truncation},
	{"scan.forbidden-markers", (*run).forbiddenMarkers},
	{"index.integrity", (*run).indexIntegrity},
}

var postChecks = []check{
	{"artifacts.exist", (*run).artifactsExist},
	{"artifacts.naming", (*run).artifactsNaming},
	{"artifacts.structure", (*run).artifactsStructure},
	{"artifacts.slim-exclusions", (*run).slimExclusions},
	{"artifacts.full-members", (*run).fullMembers},
	{"index.matches-fileset", (*run).indexMatchesFileSet},
	{"backup.last-confirm", (*run).lastConfirmBackup},
}

// Checks returns the check names of a phase, in run order.
func Checks(phase Phase) []string {
	list := checksFor(phase)
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.name
	}
	return out
}

func checksFor(phase Phase) []check {
	if phase == PhasePost {
		return append(append([]check(nil), preChecks...), postChecks...)
	}
	return preChecks
}

// Run executes every check of phase. A cancelled ctx fails the checks that
// have not run yet.
func (v *Verifier) Run(ctx context.Context, phase Phase) *Report {
	r := v.prepare(ctx)
	report := &Report{Phase: phase}
	for _, c := range checksFor(phase) {
		var detail string
		err := ctx.Err()
		if err == nil {
			detail, err = c.fn(r, ctx)
		}
		res := Result{Name: c.name, OK: err == nil, Detail: detail, Err: err}
		if err != nil {
			res.Error = err.Error()
			v.logger.Debug("check failed", "phase", phase, "check", c.name, "error", err)
		}
		v.metrics.ObserveCheck(string(phase), c.name, res.OK)
		report.Results = append(report.Results, res)
	}
	v.logger.Info("verification finished", "phase", phase, "checks", len(report.Results), "failed", len(report.Failed()))
	return report
}

// run holds the inputs shared by the checks of one Run. Each is loaded once;
// a load error is reported by every check that depends on it.
type run struct {
	*Verifier

	set    *walk.FileSet
	setErr error

	rec    authority.Record
	recErr error

	assign    authority.Assignments
	assignErr error

	entries    []truthlog.Entry
	entriesErr error
}

func (v *Verifier) prepare(ctx context.Context) *run {
	r := &run{Verifier: v}
	r.set, r.setErr = walk.Enumerate(ctx, v.fs, v.root, v.pol, walk.Options{})
	r.rec, r.recErr = v.auth.Read()
	r.entries, r.entriesErr = v.log.Entries()
	if r.setErr == nil {
		// Scan's joined error is split per value by Drift below.
		r.assign, _ = v.auth.Scan(r.set)
	} else {
		r.assignErr = r.setErr
	}
	return r
}

// policyNames are the document names that count as a second policy when
// found anywhere besides the loaded one.
var policyNames = map[string]bool{"truth.toml": true, "truth.yaml": true, "truth.yml": true}

func (r *run) singlePolicy(context.Context) (string, error) {
	if r.setErr != nil {
		return "", r.setErr
	}
	var others []string
	for _, f := range r.set.Files {
		base := filepath.Base(f.Path)
		if f.Path != r.pol.File && (policyNames[base] || base == filepath.Base(r.pol.File)) {
			others = append(others, f.Path)
		}
	}
	if len(others) > 0 {
		return "", errors.Newf(errors.KindAuthorityDrift, "filter policy defined more than once: %s and %s",
			r.pol.File, strings.Join(others, ", "))
	}
	return r.pol.File, nil
}

func (r *run) authorityVersion(context.Context) (string, error) {
	if r.recErr != nil {
		return "", r.recErr
	}
	if r.assignErr != nil {
		return "", r.assignErr
	}
	if verr, _ := r.assign.Drift(r.pol.AuthorityFile); verr != nil {
		return "", verr
	}
	return fmt.Sprintf("TRUTH_VERSION = %d (%s)", r.rec.Version, r.rec.Path), nil
}

func (r *run) authorityProject(context.Context) (string, error) {
	if r.recErr != nil {
		return "", r.recErr
	}
	if r.assignErr != nil {
		return "", r.assignErr
	}
	if _, perr := r.assign.Drift(r.pol.AuthorityFile); perr != nil {
		return "", perr
	}
	return fmt.Sprintf("PROJECT_NAME = %q", r.rec.Project), nil
}

func (r *run) logFormat(context.Context) (string, error) {
	if r.entriesErr != nil {
		return "", r.entriesErr
	}
	return fmt.Sprintf("%d entries", len(r.entries)), nil
}

func (r *run) logContiguity(context.Context) (string, error) {
	if r.entriesErr != nil {
		return "", r.entriesErr
	}
	if err := truthlog.CheckContiguity(r.entries, r.pol.LogFile); err != nil {
		return "", err
	}
	if len(r.entries) == 0 {
		return "empty", nil
	}
	return fmt.Sprintf("TRUTH_V1..TRUTH_V%d", r.entries[len(r.entries)-1].Version), nil
}

func (r *run) logMatchesAuthority(context.Context) (string, error) {
	if r.entriesErr != nil {
		return "", r.entriesErr
	}
	if r.recErr != nil {
		return "", r.recErr
	}
	if len(r.entries) == 0 {
		return "", errors.AtPath(errors.KindContiguity, r.pol.LogFile, "log has no entries", nil)
	}
	latest := r.entries[len(r.entries)-1]
	if latest.Project != r.rec.Project {
		return "", errors.AtLine(errors.KindAuthorityDrift, r.pol.LogFile, latest.Line,
			fmt.Sprintf("latest entry is for project %q, authority says %q", latest.Project, r.rec.Project))
	}
	if latest.Version != r.rec.Version {
		return "", errors.AtLine(errors.KindContiguity, r.pol.LogFile, latest.Line,
			fmt.Sprintf("latest entry is TRUTH_V%d, authority says TRUTH_V%d", latest.Version, r.rec.Version))
	}
	return latest.Header(), nil
}

// maxFindings caps how many locations one scan check reports.
const maxFindings = 20

func (r *run) truncation(context.Context) (string, error) {
	if r.setErr != nil {
		return "", r.setErr
	}
	var errs []error
	scanned := 0
	for _, f := range r.set.Files {
		if !r.pol.IsText(f.Path) {
			continue
		}
		scanned++
		for n, line := range lines(f.Data) {
			if strings.TrimSpace(line) == "..." {
				errs = append(errs, errors.AtLine(errors.KindTruncation, f.Path, n+1, "standalone truncation line"))
			}
		}
	}
	if err := capped(errs); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d text files", scanned), nil
}

func (r *run) forbiddenMarkers(context.Context) (string, error) {
	if r.setErr != nil {
		return "", r.setErr
	}
	var errs []error
	for _, f := range r.set.Files {
		if f.Path == r.pol.File || !r.pol.IsText(f.Path) {
			continue
		}
	file:
		for n, line := range lines(f.Data) {
			for _, m := range r.pol.ForbiddenMarkers {
				if strings.Contains(line, m) {
					errs = append(errs, errors.AtLine(errors.KindTruncation, f.Path, n+1, "forbidden marker "+m))
					break file
				}
			}
		}
	}
	if err := capped(errs); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d markers", len(r.pol.ForbiddenMarkers)), nil
}

func (r *run) indexIntegrity(context.Context) (string, error) {
	exists, err := r.index.Exists()
	if err != nil {
		return "", err
	}
	if !exists {
		return "no index published", nil
	}
	if err := r.index.Verify(); err != nil {
		return "", err
	}
	return r.pol.IndexDir + " matches " + index.ManifestFile, nil
}

func lines(data []byte) []string {
	return strings.Split(string(truthlog.Normalize(data)), "\n")
}

// capped joins errs, keeping the first maxFindings and counting the rest.
func capped(errs []error) error {
	if len(errs) > maxFindings {
		rest := len(errs) - maxFindings
		errs = append(errs[:maxFindings], fmt.Errorf("and %d more", rest))
	}
	return errors.Join(errs...)
}
