package temporal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSDKLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSDKLogger(zerolog.New(&buf))

	logger.Info("retention finished", "Purged", 3, "dangling")

	out := buf.String()
	assert.Contains(t, out, `"component":"temporal-sdk"`)
	assert.Contains(t, out, `"purged":3`)
	assert.Contains(t, out, `"dangling":"MISSING_VALUE"`)
}

func TestSDKLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSDKLogger(zerolog.New(&buf)).With("WorkflowID", "notification-retention")

	logger.Error("activity failed", "Error", errors.New("db down"))

	out := buf.String()
	assert.Contains(t, out, `"workflow_id":"notification-retention"`)
	assert.Contains(t, out, `"error":"db down"`)
	assert.Contains(t, out, `"level":"error"`)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"WorkflowID":    "workflow_id",
		"TaskQueue":     "task_queue",
		"Namespace":     "namespace",
		"already_snake": "already_snake",
		"HTTPStatus":    "http_status",
	}
	for in, want := range cases {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
