package truthlog

import (
	"bytes"
	"strconv"
	"strings"
)

// RepairResult describes what Repair changed.
type RepairResult struct {
	Changed          bool `json:"changed"`
	NormalizedEOL    bool `json:"normalized_eol"`
	DroppedVersion   int  `json:"dropped_version,omitempty"`
	DroppedLines     int  `json:"dropped_lines,omitempty"`
	RemainingEntries int  `json:"remaining_entries"`
}

// Repair fixes the two damages an interrupted hand edit can leave: foreign
// line endings, and a final entry cut off before its END. Anything else,
// including an earlier entry without END, is returned as the parse error.
func Repair(data []byte, opts Options) ([]byte, RepairResult, error) {
	var res RepairResult

	fixed := Normalize(data)
	res.NormalizedEOL = !bytes.Equal(fixed, data)
	if len(fixed) > 0 && !bytes.HasSuffix(fixed, []byte("\n")) {
		fixed = append(fixed, '\n')
	}

	lines := strings.Split(strings.TrimSuffix(string(fixed), "\n"), "\n")
	last := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "TRUTH -") {
			last = i
		}
	}

	if last >= 0 && !hasEnd(lines[last+1:]) {
		if m := headerRe.FindStringSubmatch(strings.TrimSpace(lines[last])); m != nil {
			res.DroppedVersion, _ = strconv.Atoi(m[2])
		}
		start := last
		for start > 0 {
			t := strings.TrimSpace(lines[start-1])
			if t != "" && !isSeparator(t) {
				break
			}
			start--
		}
		res.DroppedLines = len(lines) - start
		kept := strings.Join(lines[:start], "\n")
		if kept != "" {
			kept += "\n"
		}
		fixed = []byte(kept)
	}

	entries, err := Parse(fixed, opts)
	if err != nil {
		return nil, res, err
	}
	res.RemainingEntries = len(entries)
	res.Changed = !bytes.Equal(fixed, data)
	return fixed, res, nil
}

func hasEnd(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) == sectionEnd {
			return true
		}
	}
	return false
}
