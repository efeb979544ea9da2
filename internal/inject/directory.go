package inject

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TmuxDirectory resolves sessions against the local tmux server and scopes
// against the filesystem. It backs the authorization checks of the use-case
// layer: on a single-user workstation every local session and directory
// belongs to the invoking user, so the user id only participates in
// persistence, not in resolution.
type TmuxDirectory struct {
	run runFunc
}

// NewTmuxDirectory returns a directory shelling out to the tmux binary.
func NewTmuxDirectory() *TmuxDirectory {
	return &TmuxDirectory{run: NewTmuxGateway().run}
}

func (d *TmuxDirectory) SessionExists(ctx context.Context, _, sessionID string) (bool, error) {
	target := normalizeSessionID(sessionID)
	if target == "" {
		return false, nil
	}
	_, err := d.run(ctx, "has-session", "-t", target)
	// has-session exits non-zero for a missing session; tmux gives us no
	// way to tell that apart from other failures, so absence it is.
	return err == nil, nil
}

func (d *TmuxDirectory) ScopeExists(_ context.Context, _, scopeID string) (bool, error) {
	scope := strings.TrimSpace(scopeID)
	if scope == "" {
		return false, nil
	}
	info, err := os.Stat(scope)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat scope %s: %w", scope, err)
	}
	return info.IsDir(), nil
}

// SessionScope reports the working directory of the session's active pane.
func (d *TmuxDirectory) SessionScope(ctx context.Context, sessionID string) (string, error) {
	target := normalizeSessionID(sessionID)
	if target == "" {
		return "", fmt.Errorf("empty session id")
	}
	out, err := d.run(ctx, "display-message", "-p", "-t", target, "#{pane_current_path}")
	if err != nil {
		return "", fmt.Errorf("resolve session scope: %w", err)
	}
	return strings.TrimSpace(out), nil
}
