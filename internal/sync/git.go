package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// GitDestination commits each snapshot to a file in a local clone and
// pushes it to origin, so the history of the hub's connections is kept
// in the repository log.
type GitDestination struct {
	repo   string
	file   string
	branch string
}

// NewGitDestination creates a git destination. repo is the path to an
// existing local clone.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

// Write commits data unless the file already holds the same snapshot.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote may not have the branch yet.
	_ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if old, err := os.ReadFile(path); err == nil && sameSnapshot(old, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := d.git(ctx, "add", d.file); err != nil {
		return err
	}
	if err := d.git(ctx, "commit", "-m", commitMessage(data)); err != nil {
		return err
	}
	return d.git(ctx, "push", "origin", d.branch)
}

// sameSnapshot compares two exports ignoring the header's timestamp.
func sameSnapshot(a, b []byte) bool {
	ha, ra, _ := bytes.Cut(a, []byte("\n"))
	hb, rb, _ := bytes.Cut(b, []byte("\n"))
	if !bytes.Equal(ra, rb) {
		return false
	}
	var x, y header
	if json.Unmarshal(ha, &x) != nil || json.Unmarshal(hb, &y) != nil {
		return false
	}
	x.Timestamp = y.Timestamp
	return x == y
}

// commitMessage summarizes a snapshot from its header line.
func commitMessage(data []byte) string {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return "earth snapshot"
	}
	msg := fmt.Sprintf("earth snapshot: %d connections, %d states", h.ConnectionCount, h.StateCount)
	if h.ConfigVersion != "" {
		msg += ", config " + h.ConfigVersion
	}
	return msg
}

func (d *GitDestination) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, bytes.TrimSpace(out))
	}
	return nil
}
