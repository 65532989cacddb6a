package mint

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/truthmint/internal/archive"
	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/index"
	"github.com/pders01/truthmint/internal/metrics"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/testutil"
	"github.com/pders01/truthmint/internal/truthlog"
	"github.com/pders01/truthmint/internal/verify"
	"github.com/pders01/truthmint/internal/walk"
)

var clock = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func deps(p *testutil.TempProject) Deps {
	return Deps{
		FS:      p.FS(),
		Root:    p.Path,
		Policy:  p.Policy(),
		Metrics: metrics.New(),
		Now:     func() time.Time { return clock },
		Commit:  func(context.Context, string) string { return "" },
	}
}

func draft(t *testing.T, o *Orchestrator, lines ...string) *truthlog.Entry {
	t.Helper()
	if len(lines) == 0 {
		lines = []string{"ship the thing"}
	}
	e, _, err := o.MintDraft(context.Background(), DraftRequest{Statement: lines, Type: truthlog.TypeConfirm})
	require.NoError(t, err)
	return e
}

// failingIndex fails the Rebuild calls whose 1-based number is in fail.
type failingIndex struct {
	*index.Builder
	fail  map[int]bool
	calls int
	hook  func()
}

func (f *failingIndex) Rebuild(ctx context.Context, set *walk.FileSet) (*index.Index, error) {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	if f.fail[f.calls] {
		return nil, errors.New(errors.KindIndex, "injected index failure")
	}
	return f.Builder.Rebuild(ctx, set)
}

// brokenSlim packs a SLIM artifact and then overwrites it with garbage, or
// fails outright when fail is set.
type brokenSlim struct {
	*archive.Packager
	fs   afero.Fs
	fail bool
}

func (b *brokenSlim) PackSlim(ctx context.Context, set *walk.FileSet, project string, version int) (*archive.Archive, error) {
	if b.fail {
		return nil, errors.New(errors.KindArtifactContent, "injected packaging failure")
	}
	a, err := b.Packager.PackSlim(ctx, set, project, version)
	if err != nil {
		return nil, err
	}
	return a, afero.WriteFile(b.fs, a.Path, []byte("not a zip"), 0o644)
}

type snapshotFiles map[string]string

func takeSnapshot(p *testutil.TempProject) snapshotFiles {
	return snapshotFiles{
		"TRUTH.md":     p.ReadFile("TRUTH.md"),
		"version.toml": p.ReadFile("version.toml"),
	}
}

func assertRestored(t *testing.T, p *testutil.TempProject, before snapshotFiles) {
	t.Helper()
	for name, content := range before {
		assert.Equal(t, content, p.ReadFile(name), name)
	}
	assert.False(t, p.Exists("_truth/demo_TRUTH_V2_FULL.zip"))
	assert.False(t, p.Exists("_truth/demo_TRUTH_V2_SLIM.zip"))
	assert.False(t, p.Exists("_truth/"+archive.MarkerFile))
	assert.False(t, p.Exists("_truth_backups/"+JournalFile))
	assert.True(t, p.Exists("_truth_drafts/TRUTH_V2.draft.md"), "draft survives a rollback")
}

func TestMintDraftLeavesLogAlone(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	before := takeSnapshot(p)
	o := New(deps(p))

	e, path, err := o.MintDraft(context.Background(), DraftRequest{Statement: []string{"first change\n\n- second"}})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, []string{"- first change", "- second"}, e.Statement)
	assert.Equal(t, []string{"Version: 2", "Previous: TRUTH_V1", "Timestamp: 2026-10-19T12:00:00Z"}, e.LockedPre)
	assert.Equal(t, []string{"FULL: demo_TRUTH_V2_FULL.zip", "SLIM: demo_TRUTH_V2_SLIM.zip"}, e.LockedPost)
	assert.Equal(t, p.Abs("_truth_drafts/TRUTH_V2.draft.md"), path)
	for name, content := range before {
		assert.Equal(t, content, p.ReadFile(name))
	}

	_, _, err = o.MintDraft(context.Background(), DraftRequest{Statement: []string{"again"}})
	assert.True(t, errors.Is(err, errors.ErrUsage))

	e, _, err = o.MintDraft(context.Background(), DraftRequest{Statement: []string{"again"}, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"- again"}, e.Statement)

	_, _, err = o.MintDraft(context.Background(), DraftRequest{Statement: []string{" ", ""}, Overwrite: true})
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestMintDraftRecordsCommit(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	d := deps(p)
	d.Commit = func(context.Context, string) string { return "0123abc-dirty" }

	e := draft(t, New(d))
	v, ok := e.Field("Commit")
	require.True(t, ok)
	assert.Equal(t, "0123abc-dirty", v)
}

func TestConfirmLocksDraft(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	d := deps(p)
	o := New(d)
	draft(t, o)

	res, err := o.ConfirmDraft(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FromVersion)
	assert.Equal(t, 2, res.Version)
	assert.True(t, res.Pre.OK())
	assert.True(t, res.Post.OK())
	assert.Equal(t, p.Abs("_truth/demo_TRUTH_V2_FULL.zip"), res.Full.Path)

	assert.Contains(t, p.ReadFile("version.toml"), "TRUTH_VERSION = 2\n")
	assert.Contains(t, p.ReadFile("TRUTH.md"), "TRUTH - demo (TRUTH_V2) [CONFIRM]")
	assert.False(t, p.Exists("_truth_drafts/TRUTH_V2.draft.md"))
	assert.False(t, p.Exists("_truth_backups/"+JournalFile))
	assert.True(t, p.Exists(res.Backup))

	marker, err := archive.ReadMarker(p.FS(), p.Abs("_truth/"+archive.MarkerFile))
	require.NoError(t, err)
	assert.Equal(t, res.Backup, marker.Backup)
	assert.Equal(t, 1, marker.Version)

	// The backup holds the tree as it was before the confirm.
	data, err := archive.ReadMember(p.FS(), p.Abs(res.Backup), "demo/version.toml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "TRUTH_VERSION = 1\n")

	assert.True(t, o.Verify(context.Background(), verify.PhasePost).OK())
	assert.Equal(t, 1.0, promtest.ToFloat64(d.Metrics.Mints.WithLabelValues(outcomeLocked)))

	// A second round continues the sequence.
	draft(t, o, "next")
	res, err = o.ConfirmDraft(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)
	assert.True(t, p.Exists("_truth/demo_TRUTH_V2_FULL.zip"))
}

func TestConfirmWithoutDraft(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).ConfirmDraft(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestPreFailureChangesNothing(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))
	draft(t, o)
	p.CreateFile("docs/cut.md", "start\n...\n")
	before := takeSnapshot(p)

	res, err := o.ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransaction))
	assert.True(t, errors.Is(err, errors.ErrTruncation))
	assert.Contains(t, err.Error(), "nothing changed")
	assert.False(t, res.Pre.OK())
	assert.Nil(t, res.Post)

	assertRestored(t, p, before)
	assert.False(t, p.Exists("_truth_backups"), "no backup is taken before the pre phase passes")
}

func TestStaleDraftIsRefused(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := truthlog.NewDrafts(p.FS(), p.Abs("_truth_drafts")).Save(testutil.Entry("demo", 3), false)
	require.NoError(t, err)

	_, err = New(deps(p)).ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrContiguity))
	assert.Contains(t, p.ReadFile("version.toml"), "TRUTH_VERSION = 1\n")
}

func TestRollbackOnIndexFailure(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	d := deps(p)
	d.Index = &failingIndex{Builder: index.NewBuilder(p.FS(), p.Path, d.Policy, nil), fail: map[int]bool{1: true}}
	o := New(d)
	draft(t, o)
	before := takeSnapshot(p)

	_, err := o.ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransaction))
	assert.True(t, errors.Is(err, errors.ErrIndex))
	assert.Contains(t, err.Error(), "step rebuilding-index")

	assertRestored(t, p, before)
	assert.False(t, p.Exists("_index"), "an index that did not exist before is removed again")
	assert.Equal(t, 1.0, promtest.ToFloat64(d.Metrics.Mints.WithLabelValues(outcomeRolledBack)))
	assert.Equal(t, 1.0, promtest.ToFloat64(d.Metrics.Rollbacks.WithLabelValues("true")))
}

func TestRollbackOnPackagingFailure(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Pack(context.Background())
	require.NoError(t, err)

	d := deps(p)
	d.Packager = &brokenSlim{Packager: archive.NewPackager(p.FS(), p.Path, d.Policy, nil), fs: p.FS(), fail: true}
	o := New(d)
	draft(t, o)
	before := takeSnapshot(p)

	_, err = o.ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step packaging")

	assertRestored(t, p, before)
	assert.True(t, p.Exists("_truth/demo_TRUTH_V1_FULL.zip"))
	assert.True(t, o.Verify(context.Background(), verify.PhasePost).OK(), "the V1 state verifies again after rollback")
}

func TestRollbackRestoresPriorIndex(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Pack(context.Background())
	require.NoError(t, err)
	// The index now lags the tree; pre verification only checks its integrity.
	p.CreateFile("src/late.go", "package src\n")
	indexBefore := p.ReadFile("_index/repo_map.json")
	manifestBefore := p.ReadFile("_index/INDEX.txt")

	d := deps(p)
	d.Packager = &brokenSlim{Packager: archive.NewPackager(p.FS(), p.Path, d.Policy, nil), fs: p.FS(), fail: true}
	o := New(d)
	draft(t, o)

	_, err = o.ConfirmDraft(context.Background())
	require.Error(t, err)

	assert.Equal(t, indexBefore, p.ReadFile("_index/repo_map.json"), "rollback restores the index it found")
	assert.Equal(t, manifestBefore, p.ReadFile("_index/INDEX.txt"))
	assert.NotContains(t, p.ReadFile("_index/repo_map.json"), "src/late.go")
	entries, err := os.ReadDir(p.Abs("_truth_backups"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir(), "index copy %s left behind", e.Name())
	}
}

func TestRecoverSweepsIndexSwapLeftovers(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Pack(context.Background())
	require.NoError(t, err)
	indexBefore := p.ReadFile("_index/repo_map.json")

	o := New(deps(p))
	e := draft(t, o)
	m := newMachine(StateBackingUp, o.now, o.logger, nil)
	tx, err := o.begin(context.Background(), m, &Journal{
		Kind:        "confirm",
		Project:     "demo",
		FromVersion: 1,
		ToVersion:   2,
		Created:     []string{"_truth/demo_TRUTH_V2_FULL.zip", "_truth/demo_TRUTH_V2_SLIM.zip"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, tx.j.IndexStash)
	require.NoError(t, o.auth.Write(2))
	require.NoError(t, o.log.Append(*e))
	// Died between the renames of an index swap.
	require.NoError(t, os.Rename(p.Abs("_index"), p.Abs("_index.old-deadbeef")))
	p.CreateFile("_index.tmp-cafebabe/repo_map.json", "{}\n")

	set, err := walk.Enumerate(context.Background(), p.FS(), p.Path, p.Policy(), walk.Options{IncludeArtifacts: true})
	require.NoError(t, err)
	for _, path := range set.Paths() {
		assert.False(t, strings.HasPrefix(path, "_index."), "%s enumerated", path)
	}

	_, err = New(deps(p)).Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Exists("_index.old-deadbeef"))
	assert.False(t, p.Exists("_index.tmp-cafebabe"))
	assert.False(t, p.Exists(tx.j.IndexStash))
	assert.Equal(t, indexBefore, p.ReadFile("_index/repo_map.json"))
	assert.True(t, New(deps(p)).Verify(context.Background(), verify.PhasePost).OK())
}

func TestRollbackOnPostFailure(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	d := deps(p)
	d.Packager = &brokenSlim{Packager: archive.NewPackager(p.FS(), p.Path, d.Policy, nil), fs: p.FS()}
	o := New(d)
	draft(t, o)
	before := takeSnapshot(p)

	res, err := o.ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactContent))
	assert.Contains(t, err.Error(), "step verifying-post")
	require.NotNil(t, res.Post)
	assert.False(t, res.Post.OK())

	assertRestored(t, p, before)
}

func TestCancellationRollsBack(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := deps(p)
	d.Index = &failingIndex{Builder: index.NewBuilder(p.FS(), p.Path, d.Policy, nil), hook: cancel}
	o := New(d)
	draft(t, o)
	before := takeSnapshot(p)

	_, err := o.ConfirmDraft(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assertRestored(t, p, before)
}

func TestIncompleteRollbackKeepsJournal(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Pack(context.Background())
	require.NoError(t, err)

	d := deps(p)
	// A non-empty directory where the new FULL artifact goes cannot be
	// removed by the rollback.
	blocker := &failingIndex{Builder: index.NewBuilder(p.FS(), p.Path, d.Policy, nil), fail: map[int]bool{1: true}}
	blocker.hook = func() { p.CreateFile("_truth/demo_TRUTH_V2_FULL.zip/stuck", "x") }
	d.Index = blocker
	o := New(d)
	draft(t, o)
	before := takeSnapshot(p)

	_, err = o.ConfirmDraft(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback incomplete")
	assert.True(t, p.Exists("_truth_backups/"+JournalFile))
	assert.Equal(t, 1.0, promtest.ToFloat64(d.Metrics.Rollbacks.WithLabelValues("false")))

	st, err := o.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.Interrupted)
	assert.Equal(t, 2, st.Interrupted.ToVersion)

	_, err = o.ConfirmDraft(context.Background())
	assert.True(t, errors.Is(err, errors.ErrTransaction))
	assert.Contains(t, err.Error(), "truth recover")

	require.NoError(t, os.RemoveAll(p.Abs("_truth/demo_TRUTH_V2_FULL.zip")))
	healthy := New(deps(p))
	j, err := healthy.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "confirm", j.Kind)
	for name, content := range before {
		assert.Equal(t, content, p.ReadFile(name), name)
	}
	assert.False(t, p.Exists("_truth_backups/"+JournalFile))
	assert.True(t, healthy.Verify(context.Background(), verify.PhasePost).OK())
}

func TestRecoverAfterCrash(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))
	e := draft(t, o)
	before := takeSnapshot(p)

	// Simulate a process that died right after appending.
	m := newMachine(StateBackingUp, o.now, o.logger, nil)
	tx, err := o.begin(context.Background(), m, &Journal{
		Kind:        "confirm",
		Project:     "demo",
		FromVersion: 1,
		ToVersion:   2,
		Created:     []string{"_truth/demo_TRUTH_V2_FULL.zip", "_truth/demo_TRUTH_V2_SLIM.zip"},
	})
	require.NoError(t, err)
	require.NoError(t, o.auth.Write(2))
	require.NoError(t, o.log.Append(*e))
	p.CreateFile("_truth/demo_TRUTH_V2_FULL.zip", "partial")

	j, err := New(deps(p)).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tx.j.TxID, j.TxID)
	assertRestored(t, p, before)
	assert.True(t, p.Exists(j.Backup), "the backup is kept")
}

func TestRecoverWithoutJournal(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Recover(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestRevertDraft(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))
	draft(t, o)

	require.NoError(t, o.RevertDraft())
	assert.False(t, p.Exists("_truth_drafts/TRUTH_V2.draft.md"))
	assert.True(t, errors.Is(o.RevertDraft(), errors.ErrUsage))
}

func TestPackIsReproducible(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))

	res, err := o.Pack(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(res.Full.Path)
	require.NoError(t, err)

	_, err = o.Pack(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(res.Full.Path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReseed(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))
	draft(t, o)
	_, err := o.ConfirmDraft(context.Background())
	require.NoError(t, err)

	res, err := o.Reseed(context.Background(), ReseedRequest{Project: "fresh", Statement: []string{"start over"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 2, res.FromVersion)
	assert.True(t, res.Post.OK())

	assert.Contains(t, p.ReadFile("version.toml"), `PROJECT_NAME = "fresh"`)
	assert.Contains(t, p.ReadFile("version.toml"), "TRUTH_VERSION = 1\n")
	entries, err := truthlog.Parse([]byte(p.ReadFile("TRUTH.md")), truthlog.Options{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	prev, _ := entries[0].Field("Previous")
	assert.Equal(t, "demo TRUTH_V2", prev)

	names, err := os.ReadDir(p.Abs("_truth"))
	require.NoError(t, err)
	var artifacts []string
	for _, n := range names {
		if strings.HasSuffix(n.Name(), ".zip") {
			artifacts = append(artifacts, n.Name())
		}
	}
	assert.Equal(t, []string{"fresh_TRUTH_V1_FULL.zip", "fresh_TRUTH_V1_SLIM.zip"}, artifacts)
	assert.False(t, p.Exists("_truth/"+archive.MarkerFile))

	epoch := "_truth_archive/epoch_" + clock.Format("20060102_150405")
	for _, name := range []string{"TRUTH.md", "demo_TRUTH_V2_FULL.zip", "demo_TRUTH_V2_SLIM.zip"} {
		assert.True(t, p.Exists(filepath.Join(epoch, name)), name)
	}
	assert.Contains(t, p.ReadFile(epoch+"/TRUTH.md"), "TRUTH - demo (TRUTH_V2)")

	_, err = o.Reseed(context.Background(), ReseedRequest{Project: "bad name"})
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestReseedRollsBack(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	_, err := New(deps(p)).Pack(context.Background())
	require.NoError(t, err)
	before := takeSnapshot(p)

	d := deps(p)
	d.Packager = &brokenSlim{Packager: archive.NewPackager(p.FS(), p.Path, d.Policy, nil), fs: p.FS(), fail: true}
	_, err = New(d).Reseed(context.Background(), ReseedRequest{Project: "fresh"})
	require.Error(t, err)

	for name, content := range before {
		assert.Equal(t, content, p.ReadFile(name), name)
	}
	assert.True(t, p.Exists("_truth/demo_TRUTH_V1_FULL.zip"))
	assert.True(t, p.Exists("_truth/demo_TRUTH_V1_SLIM.zip"))
	assert.False(t, p.Exists("_truth/fresh_TRUTH_V1_FULL.zip"))
	assert.False(t, p.Exists("_truth_archive/epoch_"+clock.Format("20060102_150405")+"/TRUTH.md"))
}

func TestStatus(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))

	st, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.Version)
	assert.Equal(t, "TRUTH - demo (TRUTH_V1) [CONFIRM]", st.Latest)
	assert.Empty(t, st.Artifacts)
	assert.False(t, st.Index)

	draft(t, o)
	st, err = o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDraftPending, st.State)
	assert.Equal(t, 2, st.Draft.Version)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateDraftPending))
	assert.True(t, CanTransition(StatePackaging, StateRolledBack))
	assert.False(t, CanTransition(StateIdle, StateLocked))
	assert.False(t, CanTransition(StateVerifyingPre, StateRolledBack), "nothing to roll back before the first write")
	assert.False(t, CanTransition(StateLocked, StateRolledBack))

	m := newMachine(StateIdle, time.Now, slog.Default(), nil)
	err := m.to(StateAppending)
	assert.True(t, errors.Is(err, errors.ErrTransaction))
	assert.Equal(t, StateIdle, m.state)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, policy.DefaultFile), []byte(policy.Default()), 0o644))
	d := Deps{FS: afero.NewOsFs(), Root: dir, Policy: policy.MustDefault(), Now: func() time.Time { return clock }, Commit: func(context.Context, string) string { return "" }}
	o := New(d)

	_, err := o.Init(context.Background(), "no spaces")
	assert.True(t, errors.Is(err, errors.ErrUsage))

	res, err := o.Init(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "version.toml", res.Authority)
	assert.True(t, o.Verify(context.Background(), verify.PhasePre).OK())

	st, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)
	assert.Equal(t, "TRUTH - demo (TRUTH_V1) [CONFIRM]", st.Latest)

	_, err = o.Init(context.Background(), "demo")
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestPruneKeepsConfirmBackup(t *testing.T) {
	p := testutil.NewTempProject(t, "demo")
	o := New(deps(p))
	draft(t, o)
	res, err := o.ConfirmDraft(context.Background())
	require.NoError(t, err)

	manual, err := o.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "_truth_backups/manual_TRUTH_V2_20261019_120000.zip", manual)
	_, err = archive.ValidateBackup(p.FS(), p.Abs(manual))
	require.NoError(t, err)
	p.CreateFile("_truth_backups/old.zip", "x")

	doomed, err := o.PruneBackups(0, 0, true)
	require.NoError(t, err)
	var names []string
	for _, b := range doomed {
		names = append(names, b.Name)
	}
	assert.ElementsMatch(t, []string{"manual_TRUTH_V2_20261019_120000.zip", "old.zip"}, names)
	assert.True(t, p.Exists(manual), "dry run removes nothing")

	_, err = o.PruneBackups(0, 0, false)
	require.NoError(t, err)
	assert.False(t, p.Exists(manual))
	assert.False(t, p.Exists("_truth_backups/old.zip"))
	assert.True(t, p.Exists(res.Backup))
}
