package inject

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/overseerhq/overseer/internal/store"
)

// runFunc executes tmux with the given arguments and returns its stdout.
// Swappable in tests.
type runFunc func(ctx context.Context, args ...string) (string, error)

// TmuxGateway implements Gateway against a local tmux server.
type TmuxGateway struct {
	run runFunc
	now func() time.Time
}

// NewTmuxGateway returns a gateway shelling out to the tmux binary.
func NewTmuxGateway() *TmuxGateway {
	return &TmuxGateway{
		run: func(ctx context.Context, args ...string) (string, error) {
			out, err := exec.CommandContext(ctx, "tmux", args...).Output()
			if err != nil {
				return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
			}
			return string(out), nil
		},
		now: time.Now,
	}
}

// normalizeSessionID canonicalizes a tmux target: whitespace trimmed, bare
// session names kept as-is, window/pane suffixes preserved.
func normalizeSessionID(sessionID string) string {
	return strings.TrimSpace(sessionID)
}

// controlChars is the closed set of control characters the gateway sends,
// keyed by the tmux key name.
var controlChars = map[string]string{
	"c-c": "C-c",
	"c-d": "C-d",
	"c-z": "C-z",
}

func (g *TmuxGateway) ValidateCommand(command string) Validation {
	return ValidateCommand(command)
}

func (g *TmuxGateway) InjectCommand(ctx context.Context, sessionID, command string, pressEnter bool) (InjectionResult, error) {
	target := normalizeSessionID(sessionID)
	result := InjectionResult{
		SessionID:     target,
		InjectedAt:    g.now().UTC(),
		CorrelationID: store.NewULID(),
	}

	if target == "" {
		result.Error = "empty session id"
		return result, nil
	}
	if !g.IsSessionReady(ctx, target) {
		result.Error = fmt.Sprintf("session %s is not ready", target)
		return result, nil
	}

	// -l sends the command literally so tmux key names inside it are not
	// interpreted.
	if _, err := g.run(ctx, "send-keys", "-t", target, "-l", command); err != nil {
		return result, fmt.Errorf("send keys: %w", err)
	}
	if pressEnter {
		if _, err := g.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
			return result, fmt.Errorf("press enter: %w", err)
		}
	}

	result.Success = true
	return result, nil
}

func (g *TmuxGateway) SendControlChar(ctx context.Context, sessionID, char string) bool {
	key, ok := controlChars[strings.ToLower(strings.TrimSpace(char))]
	if !ok {
		return false
	}
	target := normalizeSessionID(sessionID)
	if target == "" {
		return false
	}
	_, err := g.run(ctx, "send-keys", "-t", target, key)
	return err == nil
}

func (g *TmuxGateway) IsSessionReady(ctx context.Context, sessionID string) bool {
	target := normalizeSessionID(sessionID)
	if target == "" {
		return false
	}
	// has-session exits non-zero when the session is gone.
	_, err := g.run(ctx, "has-session", "-t", target)
	return err == nil
}

func (g *TmuxGateway) CurrentPaneContent(ctx context.Context, sessionID string) (string, error) {
	target := normalizeSessionID(sessionID)
	if target == "" {
		return "", fmt.Errorf("empty session id")
	}
	out, err := g.run(ctx, "capture-pane", "-p", "-t", target)
	if err != nil {
		return "", fmt.Errorf("capture pane: %w", err)
	}
	return out, nil
}
