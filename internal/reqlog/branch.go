package reqlog

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CurrentBranch shells out to git to determine the current branch of the
// working directory dir. Returns "" if dir is not a Git working tree, git
// is unavailable, or HEAD is detached without a symbolic name — in all
// cases the caller should fall back through SanitizeBranchSlug to
// "unknown".
func CurrentBranch(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "" // detached HEAD has no symbolic branch name
	}
	return branch
}
