package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("test-service", &buf).
		WithRequestID("req-1").
		WithExecution("job-1", "exec-1")

	log.Info().Str("action", "ping").Msg("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "test-service", lines[0]["service"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "job-1", lines[0]["scheduled_job_id"])
	assert.Equal(t, "exec-1", lines[0]["execution_id"])
	assert.Equal(t, "ping", lines[0]["action"])
}

func TestLogger_TriggerDetected(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("monitor", &buf).WithWatch("w1", "e1")

	pct := 25.0
	log.LogTriggerDetected("w1", "revenue_increase", "high", "100", "125", &pct)
	log.LogTriggerDetected("w1", "ceo_change", "medium", "Anna", "Erik", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "trigger_detected", lines[0]["action"])
	assert.Equal(t, "e1", lines[0]["entity_id"])
	assert.Equal(t, true, lines[0]["is_significant"])
	assert.Equal(t, 25.0, lines[0]["change_percentage"])
	assert.Equal(t, false, lines[1]["is_significant"])
	assert.NotContains(t, lines[1], "change_percentage")
}

func TestLogger_APICallLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("client", &buf)

	log.LogAPICall("POST", "http://search/search", 200, time.Millisecond, nil)
	log.LogAPICall("POST", "http://search/search", 503, time.Millisecond, errors.New("unavailable"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, false, lines[1]["success"])
}

func TestLogger_RoundTripsThroughContext(t *testing.T) {
	log := NewWithWriter("ctx", &bytes.Buffer{})
	ctx := log.ToContext(context.Background())
	assert.Same(t, log, WithContext(ctx, "fallback"))
	assert.NotNil(t, WithContext(context.Background(), "fallback"))
}
