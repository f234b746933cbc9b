package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunCommand(t *testing.T) {
	t.Setenv("SCHEDULER_TIMEZONE", "UTC")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"next-run", "--time", "09:00", "--days", "weekdays", "--from", "2025-03-08T10:00:00Z", "--count", "2"})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2025-03-10T09:00:00Z  Monday", lines[0])
	assert.Equal(t, "2025-03-11T09:00:00Z  Tuesday", lines[1])
}

func TestUnknownStoreIsRejected(t *testing.T) {
	_, err := newEngine(t.Context(), "sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}
