// Package policy holds the single inclusion/exclusion ruleset consulted by
// every component that enumerates the project tree. No other package keeps its
// own exclusion list.
package policy

import (
	"path"
	"sort"
	"strings"

	"github.com/pders01/truthmint/internal/fsutil"
)

// DefaultFile is the policy document's repo-relative location.
const DefaultFile = "truth.toml"

// SlimExtra lists what the SLIM artifact drops on top of the common excludes.
type SlimExtra struct {
	Dirs       []string `toml:"dirs" yaml:"dirs" validate:"dive,required,excludesall=/\\"`
	Extensions []string `toml:"extensions" yaml:"extensions" validate:"dive,required,startswith=."`
	Patterns   []string `toml:"patterns" yaml:"patterns" validate:"dive,required"`
}

// Policy is the decoded policy document.
type Policy struct {
	AuthorityFile      string    `toml:"authority_file" yaml:"authority_file" validate:"required"`
	LogFile            string    `toml:"log_file" yaml:"log_file" validate:"required"`
	ArtifactDir        string    `toml:"artifact_dir" yaml:"artifact_dir" validate:"required,excludesall=/\\"`
	IndexDir           string    `toml:"index_dir" yaml:"index_dir" validate:"required,excludesall=/\\"`
	DraftDir           string    `toml:"draft_dir" yaml:"draft_dir" validate:"required,excludesall=/\\"`
	BackupDir          string    `toml:"backup_dir" yaml:"backup_dir" validate:"required,excludesall=/\\"`
	ArchiveDir         string    `toml:"archive_dir" yaml:"archive_dir" validate:"required,excludesall=/\\"`
	AllowLegacyEntries bool      `toml:"allow_legacy_entries" yaml:"allow_legacy_entries"`
	ExcludeDirs        []string  `toml:"exclude_dirs" yaml:"exclude_dirs" validate:"dive,required,excludesall=/\\"`
	ExcludePatterns    []string  `toml:"exclude_patterns" yaml:"exclude_patterns" validate:"dive,required"`
	ArtifactAllowlist  []string  `toml:"artifact_allowlist" yaml:"artifact_allowlist" validate:"dive,required"`
	ForbiddenMarkers   []string  `toml:"forbidden_markers" yaml:"forbidden_markers" validate:"dive,required"`
	TextExtensions     []string  `toml:"text_extensions" yaml:"text_extensions" validate:"min=1,dive,required,startswith=."`
	SlimExcludeExtra   SlimExtra `toml:"slim_exclude_extra" yaml:"slim_exclude_extra"`

	// File is the repo-relative path the policy was loaded from. It is set by
	// Load, not decoded.
	File string `toml:"-" yaml:"-"`
}

// DefaultForbiddenMarkers is used when the document leaves forbidden_markers
// empty. The markers are assembled so this source file does not contain them
// and passes its own scan.
var DefaultForbiddenMarkers = []string{
	"<<<" + truncated + ">>>",
	"<<<" + "TRUNCATION>>>",
	"<<" + truncated + ">>",
	"[" + truncated + "]",
	"…" + truncated + "…",
}

const truncated = "TRUNC" + "ATED"

// ArtifactRoots returns the generated-output directories, which are always
// excluded from plain enumeration.
func (p *Policy) ArtifactRoots() []string {
	return []string{p.ArtifactDir, p.IndexDir, p.DraftDir, p.BackupDir, p.ArchiveDir}
}

// normalize merges the artifact roots into ExcludeDirs, lower-cases
// extensions, cleans allowlist paths and fills defaults.
func (p *Policy) normalize() {
	p.ExcludeDirs = uniqueSorted(append(append([]string{".git"}, p.ExcludeDirs...), p.ArtifactRoots()...))
	p.ExcludePatterns = uniqueSorted(p.ExcludePatterns)
	p.TextExtensions = uniqueSorted(lowerAll(p.TextExtensions))
	p.SlimExcludeExtra.Dirs = uniqueSorted(p.SlimExcludeExtra.Dirs)
	p.SlimExcludeExtra.Extensions = uniqueSorted(lowerAll(p.SlimExcludeExtra.Extensions))
	p.SlimExcludeExtra.Patterns = uniqueSorted(p.SlimExcludeExtra.Patterns)

	allow := make([]string, 0, len(p.ArtifactAllowlist))
	for _, a := range p.ArtifactAllowlist {
		a = path.Clean(strings.ReplaceAll(a, "\\", "/"))
		allow = append(allow, strings.TrimPrefix(a, "./"))
	}
	p.ArtifactAllowlist = uniqueSorted(allow)

	if len(p.ForbiddenMarkers) == 0 {
		p.ForbiddenMarkers = append([]string(nil), DefaultForbiddenMarkers...)
	}
	p.AuthorityFile = cleanRel(p.AuthorityFile)
	p.LogFile = cleanRel(p.LogFile)
}

// ExcludedDir reports whether a directory name is excluded. The staging and
// moved-aside siblings of an artifact root count as that root.
func (p *Policy) ExcludedDir(name string) bool {
	if contains(p.ExcludeDirs, name) {
		return true
	}
	for _, root := range p.ArtifactRoots() {
		if fsutil.IsSwapLeftover(name, root) {
			return true
		}
	}
	return false
}

// ExcludedFile reports whether rel (slash-separated) is excluded by a common
// pattern or lives below an excluded directory.
func (p *Policy) ExcludedFile(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if p.ExcludedDir(dir) {
			return true
		}
	}
	return p.ExcludedByPattern(rel)
}

// ExcludedByPattern reports whether rel matches a common exclude pattern.
// Allowlisted outputs are still subject to patterns.
func (p *Policy) ExcludedByPattern(rel string) bool {
	return matchAny(p.ExcludePatterns, rel)
}

// SlimExcluded reports whether rel is dropped from the SLIM artifact on top of
// the common excludes.
func (p *Policy) SlimExcluded(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if contains(p.SlimExcludeExtra.Dirs, dir) {
			return true
		}
	}
	if ext := strings.ToLower(path.Ext(rel)); ext != "" && contains(p.SlimExcludeExtra.Extensions, ext) {
		return true
	}
	return matchAny(p.SlimExcludeExtra.Patterns, rel)
}

// Allowlisted reports whether rel is at or below an allowlist entry.
func (p *Policy) Allowlisted(rel string) bool {
	for _, a := range p.ArtifactAllowlist {
		if rel == a || strings.HasPrefix(rel, a+"/") {
			return true
		}
	}
	return false
}

// LeadsToAllowlisted reports whether dir (slash-separated) contains an
// allowlist entry, so a walker has to descend into it even when excluded.
func (p *Policy) LeadsToAllowlisted(dir string) bool {
	for _, a := range p.ArtifactAllowlist {
		if a == dir || strings.HasPrefix(a, dir+"/") || strings.HasPrefix(dir, a+"/") {
			return true
		}
	}
	return false
}

// IsText reports whether rel is scanned as text (truncation scans, line
// ending normalization).
func (p *Policy) IsText(rel string) bool {
	return contains(p.TextExtensions, strings.ToLower(path.Ext(rel)))
}

// matchAny matches patterns containing "/" against the full path and all
// others against the base name.
func matchAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		target := base
		if strings.Contains(pat, "/") {
			target = rel
		}
		if ok, _ := path.Match(pat, target); ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
}
