package policy

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pders01/truthmint/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the policy document at rel below root. The format
// is chosen by extension (.toml, .yaml, .yml). Unknown keys, missing files and
// failed validation are all E_CONFIG.
func Load(fs afero.Fs, root, rel string) (*Policy, error) {
	rel = cleanRel(rel)
	abs := filepath.Join(root, filepath.FromSlash(rel))

	data, err := afero.ReadFile(fs, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.AtPath(errors.KindConfig, rel, "policy file missing", nil)
		}
		return nil, errors.AtPath(errors.KindConfig, rel, "read policy", err)
	}

	p, err := Decode(data, path.Ext(rel))
	if err != nil {
		return nil, errors.AtPath(errors.KindConfig, rel, "invalid policy", err)
	}
	p.File = rel
	return p, nil
}

// Decode parses a policy document in the given format (".toml", ".yaml" or
// ".yml"), validates it and normalizes it.
func Decode(data []byte, ext string) (*Policy, error) {
	var p Policy
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", ext)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

// Validate checks field constraints and that no artifact root doubles as the
// authority or log file.
func Validate(p *Policy) error {
	if p == nil {
		return errors.New(errors.KindConfig, "policy is nil")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	for _, root := range p.ArtifactRoots() {
		for _, f := range []string{p.AuthorityFile, p.LogFile} {
			if f == root || strings.HasPrefix(cleanRel(f), root+"/") {
				return fmt.Errorf("%s lives inside generated directory %s", f, root)
			}
		}
	}
	return nil
}

// Default returns the default policy document in TOML form.
func Default() string {
	return `# truthmint filter policy. Every component that walks the tree reads this file.
authority_file = "version.toml"
log_file = "TRUTH.md"
artifact_dir = "_truth"
index_dir = "_index"
draft_dir = "_truth_drafts"
backup_dir = "_truth_backups"
archive_dir = "_truth_archive"
allow_legacy_entries = false

exclude_dirs = [".git", "node_modules", "vendor", "__pycache__", ".venv", "venv", "_build", "_dist", "_logs"]
exclude_patterns = [".env", "*.pyc", "*.tmp", ".truth-tmp-*"]
artifact_allowlist = ["_index"]
forbidden_markers = []
text_extensions = [".go", ".md", ".txt", ".toml", ".yaml", ".yml", ".json", ".py", ".sh", ".ps1", ".ini", ".cfg"]

[slim_exclude_extra]
dirs = ["media", "assets"]
extensions = [".png", ".jpg", ".jpeg", ".gif", ".mp4", ".mov", ".zip", ".pdf"]
patterns = []
`
}

// MustDefault decodes Default. It panics only if the embedded document is broken.
func MustDefault() *Policy {
	p, err := Decode([]byte(Default()), ".toml")
	if err != nil {
		panic(err)
	}
	p.File = DefaultFile
	return p
}
