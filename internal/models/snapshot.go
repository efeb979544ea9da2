package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ScrollbackSnapshot captures the observable state of a terminal pane at a
// point in time. Snapshots are ephemeral and caller-owned: the polling
// caller stores them between cycles and hands the previous one back to the
// stall detector. They are never persisted by the core.
type ScrollbackSnapshot struct {
	CapturedAt  time.Time `json:"captured_at"`
	ContentHash string    `json:"content_hash"`
	LineCount   int       `json:"line_count"`
}

// NewScrollbackSnapshot hashes the captured pane content.
func NewScrollbackSnapshot(content string, now time.Time) ScrollbackSnapshot {
	sum := sha256.Sum256([]byte(content))
	lines := 0
	if content != "" {
		lines = strings.Count(content, "\n") + 1
	}
	return ScrollbackSnapshot{
		CapturedAt:  now.UTC(),
		ContentHash: hex.EncodeToString(sum[:]),
		LineCount:   lines,
	}
}
