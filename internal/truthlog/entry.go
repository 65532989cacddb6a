// Package truthlog reads and appends the truth log: an append-only text file
// of locked, versioned entries. It also manages the single pending draft.
package truthlog

import (
	"fmt"
	"strings"

	"github.com/pders01/truthmint/internal/errors"
)

// Type is the optional bracketed tag on an entry header.
type Type string

const (
	TypeNone    Type = ""
	TypeConfirm Type = "CONFIRM"
	TypeDream   Type = "DREAM"
	TypeDebug   Type = "DEBUG"
)

// ParseType accepts the tag case-insensitively. The empty string is TypeNone.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeNone, TypeConfirm, TypeDream, TypeDebug:
		return t, nil
	default:
		return TypeNone, errors.Newf(errors.KindUsage, "unknown entry type %q (want CONFIRM, DREAM or DEBUG)", s)
	}
}

// Section headers.
const (
	sectionLockedPre  = "LOCKED PRE"
	sectionLockedPost = "LOCKED POST"
	sectionLocked     = "LOCKED"
	sectionState      = "STATE"
	sectionStatement  = "STATEMENT"
	sectionNotes      = "NOTES"
	sectionEnd        = "END"
)

const separator = "================================================================"

// Entry is one truth log entry. Section bodies are kept line by line with
// surrounding blank lines trimmed.
type Entry struct {
	Project    string   `json:"project"`
	Version    int      `json:"version"`
	Type       Type     `json:"type,omitempty"`
	LockedPre  []string `json:"locked_pre"`
	LockedPost []string `json:"locked_post,omitempty"`
	Statement  []string `json:"statement,omitempty"`
	Notes      []string `json:"notes,omitempty"`
	// Legacy marks a single LOCKED section entry, accepted only under
	// allow_legacy_entries. Its body is held in LockedPre.
	Legacy bool `json:"legacy,omitempty"`
	// Line is the 1-based header line, 0 for entries not read from a file.
	Line int `json:"line,omitempty"`
}

// Header renders the entry's header line.
func (e Entry) Header() string {
	h := fmt.Sprintf("TRUTH - %s (TRUTH_V%d)", e.Project, e.Version)
	if e.Type != TypeNone {
		h += " [" + string(e.Type) + "]"
	}
	return h
}

// Field returns the value of a "Key: value" line in LOCKED PRE or LOCKED POST.
func (e Entry) Field(key string) (string, bool) {
	prefix := key + ":"
	for _, body := range [][]string{e.LockedPre, e.LockedPost} {
		for _, line := range body {
			if v, ok := strings.CutPrefix(strings.TrimSpace(line), prefix); ok {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

// Check validates an entry built in memory before it is rendered.
func (e Entry) Check() error {
	switch {
	case strings.TrimSpace(e.Project) == "":
		return errors.New(errors.KindFormat, "entry has no project name")
	case strings.ContainsAny(e.Project, "()[]\n"):
		return errors.Newf(errors.KindFormat, "project name %q contains reserved characters", e.Project)
	case e.Version < 1:
		return errors.Newf(errors.KindFormat, "entry version %d must be >= 1", e.Version)
	case e.Legacy:
		return errors.New(errors.KindFormat, "legacy entries cannot be written")
	case len(e.LockedPre) == 0:
		return errors.Newf(errors.KindFormat, "TRUTH_V%d: LOCKED PRE is empty", e.Version)
	}
	if _, err := ParseType(string(e.Type)); err != nil {
		return errors.Wrap(errors.KindFormat, fmt.Sprintf("TRUTH_V%d", e.Version), err)
	}
	for _, body := range [][]string{e.LockedPre, e.LockedPost, e.Statement, e.Notes} {
		for _, line := range body {
			if isReserved(strings.TrimSpace(line)) {
				return errors.Newf(errors.KindFormat, "TRUTH_V%d: body line %q collides with the log grammar", e.Version, line)
			}
		}
	}
	return nil
}

// Render returns the entry in log text form, LF line endings, ending in a
// newline.
func Render(e Entry) string {
	var b strings.Builder
	b.WriteString(separator + "\n")
	b.WriteString(e.Header() + "\n")
	b.WriteString(separator + "\n")

	if e.Legacy {
		writeSection(&b, sectionLocked, e.LockedPre)
	} else {
		writeSection(&b, sectionLockedPre, e.LockedPre)
		writeSection(&b, sectionLockedPost, e.LockedPost)
	}
	if len(e.Statement) > 0 {
		writeSection(&b, sectionStatement, e.Statement)
	}
	if len(e.Notes) > 0 {
		writeSection(&b, sectionNotes, e.Notes)
	}
	b.WriteString(sectionEnd + "\n")
	return b.String()
}

func writeSection(b *strings.Builder, name string, body []string) {
	b.WriteString(name + "\n")
	for _, line := range body {
		b.WriteString(strings.TrimRight(line, " \t") + "\n")
	}
	b.WriteString("\n")
}

// isReserved reports whether a trimmed line would be read back as grammar
// rather than content.
func isReserved(trimmed string) bool {
	if _, ok := sectionRank[trimmed]; ok {
		return true
	}
	return isSeparator(trimmed) || strings.HasPrefix(trimmed, "TRUTH -") || trimmed == "PHASE PRE" || trimmed == "PHASE POST"
}

func isSeparator(trimmed string) bool {
	return trimmed != "" && strings.Trim(trimmed, "=") == ""
}
