package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/symbio-data/engine-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)

	var buf bytes.Buffer
	formatRunsList(&buf, []model.PipelineRun{
		{
			ID:                 "run-1",
			PipelineType:       "process",
			Domain:             "waste",
			Status:             model.RunStatusCompleted,
			DocumentsProcessed: 42,
			DocumentsFailed:    1,
			StartedAt:          started,
			CompletedAt:        &completed,
		},
		{
			ID:           "run-2",
			PipelineType: "revalue",
			Status:       model.RunStatusRunning,
			StartedAt:    started,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "3s")
	assert.Contains(t, out, "42")
	// Still-running runs show no duration.
	assert.Contains(t, out, "run-2")
	assert.Contains(t, out, "-")
}
