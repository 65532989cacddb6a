package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/afero"

	"github.com/pders01/truthmint/internal/authority"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/truthlog"
)

// TempProject is a truthmint project in a temporary directory
type TempProject struct {
	Path    string
	Project string
	T       *testing.T
}

// NewTempProject creates a project with the default policy, an authority file
// at version 1 and a log holding the matching first entry
func NewTempProject(t *testing.T, project string) *TempProject {
	t.Helper()

	p := &TempProject{Path: t.TempDir(), Project: project, T: t}
	p.CreateFile(policy.DefaultFile, policy.Default())
	p.CreateFile("version.toml", string(authority.Render(project, 1)))
	p.CreateFile("TRUTH.md", truthlog.Render(Entry(project, 1)))
	p.CreateFile("README.md", "# "+project+"\n")
	return p
}

// Entry returns a minimal well-formed entry
func Entry(project string, version int) truthlog.Entry {
	return truthlog.Entry{
		Project:    project,
		Version:    version,
		Type:       truthlog.TypeConfirm,
		LockedPre:  []string{"Version: " + strconv.Itoa(version)},
		LockedPost: []string{"FULL: " + project + "_TRUTH_V" + strconv.Itoa(version) + "_FULL.zip"},
		Statement:  []string{"- fixture entry"},
	}
}

// FS returns an afero view of the real filesystem
func (p *TempProject) FS() afero.Fs {
	return afero.NewOsFs()
}

// Policy loads the project's policy
func (p *TempProject) Policy() *policy.Policy {
	p.T.Helper()
	pol, err := policy.Load(p.FS(), p.Path, policy.DefaultFile)
	if err != nil {
		p.T.Fatalf("failed to load policy: %v", err)
	}
	return pol
}

// CreateFile creates a file in the project
func (p *TempProject) CreateFile(name, content string) {
	p.T.Helper()
	path := filepath.Join(p.Path, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.T.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		p.T.Fatalf("failed to create file: %v", err)
	}
}

// ReadFile returns a project file's content
func (p *TempProject) ReadFile(name string) string {
	p.T.Helper()
	data, err := os.ReadFile(filepath.Join(p.Path, filepath.FromSlash(name)))
	if err != nil {
		p.T.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// Exists reports whether a project path exists
func (p *TempProject) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(p.Path, filepath.FromSlash(name)))
	return err == nil
}

// Abs returns the absolute path of a project path
func (p *TempProject) Abs(name string) string {
	return filepath.Join(p.Path, filepath.FromSlash(name))
}

// InitGit turns the project into a git repository with one commit. The test
// is skipped when git is not installed.
func (p *TempProject) InitGit() {
	p.T.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		p.T.Skip("git not installed")
	}

	for _, args := range [][]string{
		{"init"},
		{"config", "user.name", "Test User"},
		{"config", "user.email", "test@example.com"},
		{"add", "."},
		{"commit", "-m", "Initial commit"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = p.Path
		if out, err := cmd.CombinedOutput(); err != nil {
			p.T.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
}
