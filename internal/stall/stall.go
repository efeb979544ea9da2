// Package stall classifies terminal sessions as stalled by diffing
// scrollback snapshots across polling cycles.
package stall

import (
	"context"
	"fmt"
	"time"

	"github.com/overseerhq/overseer/internal/models"
)

// PaneReader is the read-only probe the detector needs from the terminal
// transport.
type PaneReader interface {
	CurrentPaneContent(ctx context.Context, sessionID string) (string, error)
}

// Result is the detector's verdict for one session and one cycle.
type Result struct {
	SessionID    string
	Stalled      bool
	Confidence   float64 // 0..1, how sure the detector is of the verdict
	UnchangedFor time.Duration
	Reason       string
	Snapshot     models.ScrollbackSnapshot // hand back on the next cycle
}

// Detector compares the current pane content against the previous cycle's
// snapshot. It holds no per-session state; the caller owns the snapshots.
type Detector struct {
	reader PaneReader
	now    func() time.Time
}

// NewDetector builds a detector over the given pane probe.
func NewDetector(reader PaneReader) *Detector {
	return &Detector{reader: reader, now: time.Now}
}

// Detect captures the session's current content and classifies it against
// the previous snapshot. A session unchanged for at least threshold counts
// as stalled; the boundary itself is stalled. When the content is
// unchanged, the returned snapshot keeps the previous capture time so the
// unchanged duration accumulates across cycles.
func (d *Detector) Detect(ctx context.Context, sessionID string, prev *models.ScrollbackSnapshot, threshold time.Duration) (Result, error) {
	if threshold <= 0 {
		return Result{}, fmt.Errorf("stall threshold must be positive, got %s", threshold)
	}

	content, err := d.reader.CurrentPaneContent(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("capture pane %s: %w", sessionID, err)
	}

	now := d.now()
	snap := models.NewScrollbackSnapshot(content, now)

	if prev == nil {
		return Result{
			SessionID:  sessionID,
			Stalled:    false,
			Confidence: 0,
			Reason:     "insufficient history",
			Snapshot:   snap,
		}, nil
	}

	if prev.ContentHash != snap.ContentHash {
		return Result{
			SessionID:  sessionID,
			Stalled:    false,
			Confidence: 1.0,
			Reason:     "output changed",
			Snapshot:   snap,
		}, nil
	}

	unchanged := now.Sub(prev.CapturedAt)
	snap.CapturedAt = prev.CapturedAt

	return Result{
		SessionID:    sessionID,
		Stalled:      unchanged >= threshold,
		Confidence:   unchangedConfidence(unchanged, threshold),
		UnchangedFor: unchanged,
		Snapshot:     snap,
	}, nil
}

// unchangedConfidence grows with the unchanged duration: 0.5 with no
// elapsed time, 0.75 exactly at the threshold, 1.0 from twice the
// threshold onward. Near the boundary the verdict flips with one changed
// byte, so confidence there stays deliberately modest.
func unchangedConfidence(unchanged, threshold time.Duration) float64 {
	ratio := float64(unchanged) / float64(threshold)
	conf := 0.5 + 0.25*ratio
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
