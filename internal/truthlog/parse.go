package truthlog

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/fsutil"
)

var headerRe = regexp.MustCompile(`^TRUTH - (.+?) \(TRUTH_V(\d+)\)\s*(?:\[(CONFIRM|DREAM|DEBUG)\])?\s*$`)

// sectionRank orders sections within an entry. LOCKED stands in for the
// phased pair in legacy entries.
var sectionRank = map[string]int{
	sectionLockedPre:  1,
	sectionLocked:     1,
	sectionLockedPost: 2,
	sectionState:      3,
	sectionStatement:  3,
	sectionNotes:      4,
	sectionEnd:        5,
}

// Options controls parsing.
type Options struct {
	// AllowLegacy accepts single-section LOCKED entries.
	AllowLegacy bool
	// Path names the file in error messages.
	Path string
}

// Normalize strips a leading UTF-8 BOM and converts CRLF and lone CR line
// endings to LF.
func Normalize(data []byte) []byte {
	return fsutil.NormalizeEOL(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
}

type parser struct {
	opts    Options
	entries []Entry
	cur     *Entry
	section string
	rank    int
	seen    map[string]int
}

// Parse reads every entry in data. Any deviation from the grammar is an
// E_FORMAT error carrying the line number.
func Parse(data []byte, opts Options) ([]Entry, error) {
	p := &parser{opts: opts}
	lines := strings.Split(string(Normalize(data)), "\n")

	for i, raw := range lines {
		if err := p.line(i+1, raw); err != nil {
			return nil, err
		}
	}
	if p.cur != nil {
		return nil, p.fail(p.cur.Line, "TRUTH_V%d: missing END", p.cur.Version)
	}

	for _, e := range p.entries[min(1, len(p.entries)):] {
		if e.Project != p.entries[0].Project {
			return nil, p.fail(e.Line, "TRUTH_V%d: project %q does not match %q", e.Version, e.Project, p.entries[0].Project)
		}
	}
	return p.entries, nil
}

func (p *parser) line(n int, raw string) error {
	trimmed := strings.TrimSpace(raw)

	if isSeparator(trimmed) {
		return nil
	}

	if strings.HasPrefix(trimmed, "TRUTH -") {
		m := headerRe.FindStringSubmatch(trimmed)
		if m == nil {
			return p.fail(n, "malformed header %q", trimmed)
		}
		if p.cur != nil {
			return p.fail(n, "TRUTH_V%d: missing END before next header", p.cur.Version)
		}
		version, err := strconv.Atoi(m[2])
		if err != nil {
			return p.fail(n, "bad version number %q", m[2])
		}
		p.cur = &Entry{Project: m[1], Version: version, Type: Type(m[3]), Line: n}
		p.section, p.rank = "", 0
		p.seen = map[string]int{}
		return nil
	}

	if p.cur == nil {
		if trimmed == "" {
			return nil
		}
		return p.fail(n, "content outside an entry")
	}

	if trimmed == "PHASE PRE" || trimmed == "PHASE POST" {
		return p.fail(n, "TRUTH_V%d: unsupported header %s (use LOCKED PRE/LOCKED POST)", p.cur.Version, trimmed)
	}

	if rank, ok := sectionRank[trimmed]; ok {
		return p.enter(n, trimmed, rank)
	}

	if p.section == "" {
		if trimmed == "" {
			return nil
		}
		return p.fail(n, "TRUTH_V%d: content before the first section", p.cur.Version)
	}
	p.appendBody(strings.TrimRight(raw, " \t"))
	return nil
}

func (p *parser) enter(n int, name string, rank int) error {
	e := p.cur
	if prev, dup := p.seen[name]; dup {
		return p.fail(n, "TRUTH_V%d: duplicate %s (first at line %d)", e.Version, name, prev)
	}
	if rank <= p.rank {
		return p.fail(n, "TRUTH_V%d: %s out of order after %s", e.Version, name, p.section)
	}

	switch name {
	case sectionLocked:
		if !p.opts.AllowLegacy {
			return p.fail(n, "TRUTH_V%d: legacy LOCKED section (set allow_legacy_entries to accept it)", e.Version)
		}
		e.Legacy = true
	case sectionLockedPost:
		if e.Legacy {
			return p.fail(n, "TRUTH_V%d: LOCKED POST in a legacy entry", e.Version)
		}
		if _, ok := p.seen[sectionLockedPre]; !ok {
			return p.fail(n, "TRUTH_V%d: LOCKED POST without LOCKED PRE", e.Version)
		}
	case sectionEnd:
		if err := p.requireLocked(n); err != nil {
			return err
		}
	}

	p.seen[name] = n
	p.section, p.rank = name, rank

	if name == sectionEnd {
		p.finish()
	}
	return nil
}

func (p *parser) requireLocked(n int) error {
	e := p.cur
	if e.Legacy {
		return nil
	}
	if _, ok := p.seen[sectionLockedPre]; !ok {
		return p.fail(n, "TRUTH_V%d: missing LOCKED PRE", e.Version)
	}
	if _, ok := p.seen[sectionLockedPost]; !ok {
		return p.fail(n, "TRUTH_V%d: missing LOCKED POST", e.Version)
	}
	return nil
}

func (p *parser) appendBody(line string) {
	e := p.cur
	switch p.section {
	case sectionLockedPre, sectionLocked:
		e.LockedPre = append(e.LockedPre, line)
	case sectionLockedPost:
		e.LockedPost = append(e.LockedPost, line)
	case sectionState, sectionStatement:
		e.Statement = append(e.Statement, line)
	case sectionNotes:
		e.Notes = append(e.Notes, line)
	}
}

func (p *parser) finish() {
	e := p.cur
	e.LockedPre = trimBlank(e.LockedPre)
	e.LockedPost = trimBlank(e.LockedPost)
	e.Statement = trimBlank(e.Statement)
	e.Notes = trimBlank(e.Notes)
	p.entries = append(p.entries, *e)
	p.cur = nil
	p.section, p.rank = "", 0
}

func (p *parser) fail(line int, format string, args ...any) error {
	return errors.AtLine(errors.KindFormat, p.opts.Path, line, fmt.Sprintf(format, args...))
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}
	return lines
}

// CheckContiguity requires versions 1, 2, 3, ... with no gaps or duplicates.
func CheckContiguity(entries []Entry, path string) error {
	for i, e := range entries {
		want := i + 1
		if e.Version == want {
			continue
		}
		msg := fmt.Sprintf("expected TRUTH_V%d, found TRUTH_V%d", want, e.Version)
		if i > 0 && e.Version == entries[i-1].Version {
			msg = fmt.Sprintf("duplicate TRUTH_V%d", e.Version)
		}
		return errors.AtLine(errors.KindContiguity, path, e.Line, msg)
	}
	return nil
}
