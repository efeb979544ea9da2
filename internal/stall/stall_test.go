package stall

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseerhq/overseer/internal/models"
)

type fakeReader struct {
	content map[string]string
	err     error
}

func (f *fakeReader) CurrentPaneContent(_ context.Context, sessionID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content[sessionID], nil
}

func newTestDetector(reader *fakeReader, now time.Time) *Detector {
	d := NewDetector(reader)
	d.now = func() time.Time { return now }
	return d
}

func TestDetect_NoHistory(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&fakeReader{content: map[string]string{"s1": "$ make\n"}}, now)

	res, err := d.Detect(context.Background(), "s1", nil, 5*time.Minute)
	require.NoError(t, err)

	assert.False(t, res.Stalled)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, "insufficient history", res.Reason)
	assert.NotEmpty(t, res.Snapshot.ContentHash)
	assert.Equal(t, 1, res.Snapshot.LineCount)
}

func TestDetect_OutputChanged(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&fakeReader{content: map[string]string{"s1": "new output"}}, now)

	prev := models.NewScrollbackSnapshot("old output", now.Add(-10*time.Minute))
	res, err := d.Detect(context.Background(), "s1", &prev, 5*time.Minute)
	require.NoError(t, err)

	assert.False(t, res.Stalled)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "output changed", res.Reason)
	// Fresh snapshot restarts the unchanged clock
	assert.Equal(t, now.UTC(), res.Snapshot.CapturedAt)
}

func TestDetect_StallBoundary(t *testing.T) {
	threshold := 5 * time.Minute
	now := time.Now()
	content := "$ long build...\n"

	cases := []struct {
		name      string
		unchanged time.Duration
		stalled   bool
	}{
		{"one second under threshold", threshold - time.Second, false},
		{"exactly at threshold", threshold, true},
		{"over threshold", threshold + time.Minute, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDetector(&fakeReader{content: map[string]string{"s1": content}}, now)
			prev := models.NewScrollbackSnapshot(content, now.Add(-tc.unchanged))

			res, err := d.Detect(context.Background(), "s1", &prev, threshold)
			require.NoError(t, err)
			assert.Equal(t, tc.stalled, res.Stalled)
			assert.Equal(t, tc.unchanged, res.UnchangedFor)
		})
	}
}

func TestDetect_ConfidenceMonotonicAndCapped(t *testing.T) {
	threshold := 5 * time.Minute
	now := time.Now()
	content := "frozen"

	var last float64
	for _, unchanged := range []time.Duration{
		time.Minute, threshold, 2 * threshold, 3 * threshold,
	} {
		d := newTestDetector(&fakeReader{content: map[string]string{"s1": content}}, now)
		prev := models.NewScrollbackSnapshot(content, now.Add(-unchanged))

		res, err := d.Detect(context.Background(), "s1", &prev, threshold)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, last, "confidence must not decrease")
		assert.LessOrEqual(t, res.Confidence, 1.0)
		last = res.Confidence
	}
	assert.Equal(t, 1.0, last, "confidence caps at 1.0 well past the threshold")
}

func TestDetect_UnchangedKeepsOriginalCaptureTime(t *testing.T) {
	now := time.Now()
	content := "frozen"
	d := newTestDetector(&fakeReader{content: map[string]string{"s1": content}}, now)

	first := now.Add(-2 * time.Minute)
	prev := models.NewScrollbackSnapshot(content, first)

	res, err := d.Detect(context.Background(), "s1", &prev, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.UTC(), res.Snapshot.CapturedAt,
		"unchanged content must accumulate duration across cycles")
}

func TestDetect_ProbeError(t *testing.T) {
	d := NewDetector(&fakeReader{err: fmt.Errorf("no server running")})

	_, err := d.Detect(context.Background(), "s1", nil, 5*time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture pane")
}

func TestDetect_InvalidThreshold(t *testing.T) {
	d := NewDetector(&fakeReader{})

	_, err := d.Detect(context.Background(), "s1", nil, 0)
	assert.Error(t, err)
}
