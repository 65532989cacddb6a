package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// IsRepo checks if dir is inside a git work tree
func IsRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// HeadCommit returns the commit hash of HEAD in dir
func HeadCommit(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Dirty reports whether dir has uncommitted changes
func Dirty(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Describe returns "<hash>" or "<hash>-dirty" for dir, or "" when dir is not
// a git repository. It never fails; the commit is informational only.
func Describe(ctx context.Context, dir string) string {
	if !IsRepo(ctx, dir) {
		return ""
	}
	hash, err := HeadCommit(ctx, dir)
	if err != nil {
		return ""
	}
	if dirty, err := Dirty(ctx, dir); err == nil && dirty {
		return hash + "-dirty"
	}
	return hash
}
