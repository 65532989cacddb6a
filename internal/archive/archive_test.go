package archive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

func fixture(t *testing.T, files map[string]string) (afero.Fs, *walk.FileSet, *Packager) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for rel, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/repo/"+rel, []byte(content), 0o644))
	}
	pol := policy.MustDefault()
	set, err := walk.Enumerate(context.Background(), fs, "/repo", pol, walk.Options{IncludeArtifacts: true})
	require.NoError(t, err)
	return fs, set, NewPackager(fs, "/repo", pol, nil)
}

var tree = map[string]string{
	"main.go":                      "package main\n",
	"docs/readme.md":               "# docs\n",
	"docs/diagram.png":             "\x89PNG",
	"media/intro.txt":              "media\n",
	"_index/INDEX.txt":             "idx\n",
	"_truth/old_TRUTH_V1_FULL.zip": "old",
	".git/HEAD":                    "ref\n",
}

func TestPackFullAndSlim(t *testing.T) {
	fs, set, p := fixture(t, tree)
	ctx := context.Background()

	full, err := p.PackFull(ctx, set, "demo", 2)
	require.NoError(t, err)
	assert.Equal(t, "/repo/_truth/demo_TRUTH_V2_FULL.zip", full.Path)
	assert.Equal(t, []string{
		"demo/_index/INDEX.txt",
		"demo/docs/diagram.png",
		"demo/docs/readme.md",
		"demo/main.go",
		"demo/media/intro.txt",
	}, full.Names())

	slim, err := p.PackSlim(ctx, set, "demo", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo/_index/INDEX.txt", "demo/docs/readme.md", "demo/main.go"}, slim.Names())

	for _, path := range []string{full.Path, slim.Path} {
		a, err := Validate(fs, path)
		require.NoError(t, err)
		assert.Equal(t, "demo", a.Root)
	}

	names, err := p.Artifacts()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo_TRUTH_V2_FULL.zip", "demo_TRUTH_V2_SLIM.zip", "old_TRUTH_V1_FULL.zip"}, names)
}

func TestPackingIsByteIdentical(t *testing.T) {
	fs, set, p := fixture(t, tree)
	ctx := context.Background()

	first, err := p.PackFull(ctx, set, "demo", 3)
	require.NoError(t, err)
	a, err := afero.ReadFile(fs, first.Path)
	require.NoError(t, err)

	_, err = p.PackFull(ctx, set, "demo", 3)
	require.NoError(t, err)
	b, err := afero.ReadFile(fs, first.Path)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a, b), "repacking an unchanged set changed the archive")
}

func TestCaseInsensitiveDuplicatesRejected(t *testing.T) {
	fs, set, p := fixture(t, map[string]string{"README.md": "a", "readme.md": "b"})

	_, err := p.PackFull(context.Background(), set, "demo", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactContent))

	exists, err := afero.Exists(fs, "/repo/_truth/demo_TRUTH_V1_FULL.zip")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidateRejectsFlatArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("main.go")
	require.NoError(t, err)
	_, err = w.Write([]byte("package main\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, "/out/demo_TRUTH_V1_FULL.zip", buf.Bytes(), 0o644))

	_, err = Validate(fs, "/out/demo_TRUTH_V1_FULL.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactContent))
	assert.Contains(t, err.Error(), "not nested under demo/")
}

func TestValidateMissingArchive(t *testing.T) {
	_, err := Validate(afero.NewMemMapFs(), "/out/demo_TRUTH_V1_SLIM.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactMissing))
}

func TestPackPatchIsRepoRelative(t *testing.T) {
	fs, set, p := fixture(t, tree)

	a, err := p.PackPatch(context.Background(), set, []string{"docs", "main.go", "docs/readme.md"}, "/out/patch.zip")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/diagram.png", "docs/readme.md", "main.go"}, a.Names())

	inspected, err := Inspect(fs, "/out/patch.zip")
	require.NoError(t, err)
	assert.Equal(t, a.Names(), inspected.Names())

	_, err = p.PackPatch(context.Background(), set, []string{"nope"}, "/out/patch2.zip")
	assert.True(t, errors.Is(err, errors.ErrUsage))
}

func TestBackupRoundTrip(t *testing.T) {
	fs, set, p := fixture(t, map[string]string{"TRUTH.md": "log\n", "version.toml": "v\n"})

	_, err := p.PackBackup(context.Background(), set, "demo", "/repo/_truth_backups/b1.zip")
	require.NoError(t, err)

	man, err := ValidateBackup(fs, "/repo/_truth_backups/b1.zip")
	require.NoError(t, err)
	assert.Equal(t, "demo", man.Project)
	assert.Len(t, man.Files, 2)

	data, err := ReadMember(fs, "/repo/_truth_backups/b1.zip", "demo/TRUTH.md")
	require.NoError(t, err)
	assert.Equal(t, "log\n", string(data))
}

func TestValidateBackupDetectsMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"demo/a.txt":           "changed",
		"demo/" + ManifestName: `{"project":"demo","files":[{"path":"a.txt","size":1,"sha256":"00"}]}`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, "/b.zip", buf.Bytes(), 0o644))

	_, err := ValidateBackup(fs, "/b.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactContent))
}

func TestParseArtifactName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		version int
		kind    Kind
		ok      bool
	}{
		{"demo_TRUTH_V6_FULL.zip", "demo", 6, KindFull, true},
		{"my_app_TRUTH_V12_SLIM.zip", "my_app", 12, KindSlim, true},
		{"demo_TRUTH_V6.zip", "", 0, "", false},
		{"demo_TRUTH_Vx_FULL.zip", "", 0, "", false},
	}
	for _, tt := range tests {
		project, version, kind, ok := ParseArtifactName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.project, project, tt.name)
		assert.Equal(t, tt.version, version, tt.name)
		assert.Equal(t, tt.kind, kind, tt.name)
	}
	assert.Equal(t, "demo_TRUTH_V6_SLIM.zip", ArtifactName("demo", 6, KindSlim))
}

func TestPruneCandidates(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	backups := []BackupInfo{
		{Name: "d.zip", ModTime: now.Add(-1 * time.Hour)},
		{Name: "c.zip", ModTime: now.Add(-48 * time.Hour)},
		{Name: "b.zip", ModTime: now.Add(-40 * 24 * time.Hour)},
		{Name: "a.zip", ModTime: now.Add(-50 * 24 * time.Hour)},
	}

	got := PruneCandidates(backups, 1, 30*24*time.Hour, now, "a.zip")
	require.Len(t, got, 1)
	assert.Equal(t, "b.zip", got[0].Name)
}

func TestMarkerRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := ReadMarker(fs, "/repo/_truth/"+MarkerFile)
	require.NoError(t, err)
	assert.Nil(t, m)

	want := Marker{Backup: "_truth_backups/b.zip", Version: 3, TxID: "abc", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, WriteMarker(fs, "/repo/_truth/"+MarkerFile, want))
	got, err := ReadMarker(fs, "/repo/_truth/"+MarkerFile)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"version":1}`), 0o644))
	_, err = ReadMarker(fs, "/bad.json")
	assert.True(t, errors.Is(err, errors.ErrArtifactContent))
}
