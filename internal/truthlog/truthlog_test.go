package truthlog

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/truthmint/internal/errors"
)

func entry(project string, version int) Entry {
	return Entry{
		Project:    project,
		Version:    version,
		Type:       TypeConfirm,
		LockedPre:  []string{fmt.Sprintf("Version: %d", version)},
		LockedPost: []string{fmt.Sprintf("FULL: %s_TRUTH_V%d_FULL.zip", project, version)},
		Statement:  []string{"- shipped"},
	}
}

func logText(entries ...Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = Render(e)
	}
	return strings.Join(parts, "\n")
}

func TestParseToleratesBOMAndCRLF(t *testing.T) {
	text := "\xef\xbb\xbf" + strings.ReplaceAll(logText(entry("demo", 1), entry("demo", 2)), "\n", "\r\n")

	entries, err := Parse([]byte(text), Options{Path: "TRUTH.md"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[1].Version)
	assert.Equal(t, TypeConfirm, entries[1].Type)
	assert.Equal(t, []string{"- shipped"}, entries[1].Statement)
	assert.Equal(t, 2, entries[0].Line, "header follows the separator")
}

func TestParseHeaderVariants(t *testing.T) {
	tests := []struct {
		header  string
		version int
		typ     Type
	}{
		{"TRUTH - demo (TRUTH_V7)", 7, TypeNone},
		{"TRUTH - demo (TRUTH_V7) [DREAM]", 7, TypeDream},
		{"TRUTH - my project (TRUTH_V12)   [DEBUG]  ", 12, TypeDebug},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			text := tt.header + "\nLOCKED PRE\nx\nLOCKED POST\ny\nEND\n"
			entries, err := Parse([]byte(text), Options{})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.version, entries[0].Version)
			assert.Equal(t, tt.typ, entries[0].Type)
		})
	}
}

func TestParseRejectsMalformedEntries(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"bad header", "TRUTH - demo TRUTH_V1\nLOCKED PRE\nLOCKED POST\nEND\n", 1},
		{"unknown tag", "TRUTH - demo (TRUTH_V1) [RELEASE]\nLOCKED PRE\nLOCKED POST\nEND\n", 1},
		{"missing end", "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nx\nLOCKED POST\n", 1},
		{"missing post", "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nx\nEND\n", 4},
		{"post before pre", "TRUTH - demo (TRUTH_V1)\nLOCKED POST\nLOCKED PRE\nEND\n", 2},
		{"pre after post", "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nLOCKED POST\nLOCKED PRE\nEND\n", 4},
		{"notes before statement", "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nLOCKED POST\nNOTES\nSTATEMENT\nEND\n", 5},
		{"double end", "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nLOCKED POST\nEND\nEND\n", 5},
		{"outside entry", "preamble\nTRUTH - demo (TRUTH_V1)\nLOCKED PRE\nLOCKED POST\nEND\n", 1},
		{"content before section", "TRUTH - demo (TRUTH_V1)\nstray\nLOCKED PRE\nLOCKED POST\nEND\n", 2},
		{"phase header", "TRUTH - demo (TRUTH_V1)\nPHASE PRE\nLOCKED PRE\nLOCKED POST\nEND\n", 2},
		{"legacy locked", "TRUTH - demo (TRUTH_V1)\nLOCKED\nx\nEND\n", 2},
		{"project mismatch", "TRUTH - a (TRUTH_V1)\nLOCKED PRE\nLOCKED POST\nEND\nTRUTH - b (TRUTH_V2)\nLOCKED PRE\nLOCKED POST\nEND\n", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.text), Options{Path: "TRUTH.md"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrFormat))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.line, e.Line)
			assert.Equal(t, "TRUTH.md", e.Path)
		})
	}
}

func TestParseLegacyUnderQuarantine(t *testing.T) {
	text := "TRUTH - demo (TRUTH_V1)\nLOCKED\nold style\nEND\n"

	entries, err := Parse([]byte(text), Options{AllowLegacy: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Legacy)
	assert.Equal(t, []string{"old style"}, entries[0].LockedPre)

	_, err = Parse([]byte("TRUTH - demo (TRUTH_V1)\nPHASE PRE\nEND\n"), Options{AllowLegacy: true})
	assert.True(t, errors.Is(err, errors.ErrFormat), "PHASE headers stay forbidden")
}

func TestRenderParsesBack(t *testing.T) {
	e := entry("demo", 3)
	e.Notes = []string{"first", "", "second"}

	entries, err := Parse([]byte(Render(e)), Options{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	got.Line = 0
	assert.Equal(t, e, got)
}

func TestCheckContiguity(t *testing.T) {
	tests := []struct {
		name     string
		versions []int
		wantErr  string
	}{
		{"empty", nil, ""},
		{"contiguous", []int{1, 2, 3}, ""},
		{"starts at two", []int{2, 3}, "expected TRUTH_V1"},
		{"gap", []int{1, 2, 4}, "expected TRUTH_V3, found TRUTH_V4"},
		{"duplicate", []int{1, 2, 2}, "duplicate TRUTH_V2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []Entry
			for _, v := range tt.versions {
				entries = append(entries, Entry{Version: v})
			}
			err := CheckContiguity(entries, "TRUTH.md")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrContiguity))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAppend(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/TRUTH.md", []byte(logText(entry("demo", 1))), 0o644))
	l := Open(fs, "/repo/TRUTH.md", Options{Path: "TRUTH.md"})

	require.NoError(t, l.Append(entry("demo", 2)))

	latest, err := l.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
	assert.NoError(t, l.ValidateContiguity())
}

func TestAppendRefusesWrongVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	original := logText(entry("demo", 1), entry("demo", 2))
	require.NoError(t, afero.WriteFile(fs, "/repo/TRUTH.md", []byte(original), 0o644))
	l := Open(fs, "/repo/TRUTH.md", Options{})

	for _, v := range []int{2, 4} {
		err := l.Append(entry("demo", v))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContiguity))
	}

	err := l.Append(entry("other", 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFormat))

	got, err := afero.ReadFile(fs, "/repo/TRUTH.md")
	require.NoError(t, err)
	assert.Equal(t, original, string(got))
}

func TestAppendRejectsGrammarInBody(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/TRUTH.md", []byte(logText(entry("demo", 1))), 0o644))
	l := Open(fs, "/repo/TRUTH.md", Options{})

	e := entry("demo", 2)
	e.Statement = []string{"done", "END"}
	err := l.Append(e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFormat))
}

func TestMissingLogIsConfigError(t *testing.T) {
	l := Open(afero.NewMemMapFs(), "/repo/TRUTH.md", Options{})
	_, err := l.Entries()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestReset(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/TRUTH.md", []byte(logText(entry("demo", 1), entry("demo", 2))), 0o644))
	l := Open(fs, "/repo/TRUTH.md", Options{})

	assert.Error(t, l.Reset(entry("demo", 3)))
	require.NoError(t, l.Reset(entry("demo", 1)))

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDrafts(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDrafts(fs, "/repo/_truth_drafts")

	e, path, err := d.Pending()
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Empty(t, path)

	saved, err := d.Save(entry("demo", 4), false)
	require.NoError(t, err)
	assert.Equal(t, "/repo/_truth_drafts/TRUTH_V4.draft.md", saved)

	_, err = d.Save(entry("demo", 5), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUsage))

	_, err = d.Save(entry("demo", 5), true)
	require.NoError(t, err)

	e, path, err = d.Pending()
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 5, e.Version)
	assert.Equal(t, "/repo/_truth_drafts/TRUTH_V5.draft.md", path)

	removed, err := d.Discard()
	require.NoError(t, err)
	assert.True(t, removed)

	e, _, err = d.Pending()
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestDraftNameMustMatchContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/TRUTH_V3.draft.md", []byte(Render(entry("demo", 4))), 0o644))

	_, _, err := NewDrafts(fs, "/d").Pending()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFormat))
}

func TestRepairTruncatesUnfinishedTail(t *testing.T) {
	good := logText(entry("demo", 1), entry("demo", 2))
	broken := good + "\n" + separator + "\nTRUTH - demo (TRUTH_V3)\n" + separator + "\nLOCKED PRE\nVersion: 3\n"

	fixed, res, err := Repair([]byte(strings.ReplaceAll(broken, "\n", "\r\n")), Options{})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.NormalizedEOL)
	assert.Equal(t, 3, res.DroppedVersion)
	assert.Equal(t, 2, res.RemainingEntries)
	assert.Equal(t, good, string(fixed))
}

func TestRepairLeavesHealthyLogAlone(t *testing.T) {
	good := logText(entry("demo", 1))
	fixed, res, err := Repair([]byte(good), Options{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, good, string(fixed))
}

func TestRepairRefusesDamageInTheMiddle(t *testing.T) {
	text := "TRUTH - demo (TRUTH_V1)\nLOCKED PRE\nx\nLOCKED POST\n\n" + logText(entry("demo", 2))
	_, _, err := Repair([]byte(text), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFormat))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("confirm")
	require.NoError(t, err)
	assert.Equal(t, TypeConfirm, typ)

	_, err = ParseType("release")
	assert.True(t, errors.Is(err, errors.ErrUsage))
}
