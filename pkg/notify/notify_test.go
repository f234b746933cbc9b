package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
)

func pct(v float64) *float64 { return &v }

func sampleEvents(at time.Time) []models.TriggerEvent {
	return []models.TriggerEvent{
		{TriggerType: "address_change", Severity: models.SeverityLow, Message: "Address changed", OldValue: "Storgatan 1", NewValue: "Kungsgatan 2", DetectedAt: at},
		{TriggerType: "legal_status", Severity: models.SeverityCritical, Message: "Legal status changed", OldValue: "active", NewValue: "bankruptcy", DetectedAt: at},
		{TriggerType: "revenue_decrease", Severity: models.SeverityMedium, Message: "Revenue decreased", OldValue: "1000000", NewValue: "700000", ChangePercentage: pct(-30), DetectedAt: at},
	}
}

func TestFormat_SubjectAndOrder(t *testing.T) {
	at := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	subject, body := Format("Acme AB", sampleEvents(at))

	assert.Equal(t, "[CRITICAL] 3 changes detected for Acme AB", subject)

	critical := strings.Index(body, "[CRITICAL]")
	medium := strings.Index(body, "[MEDIUM]")
	low := strings.Index(body, "[LOW]")
	require.True(t, critical >= 0 && medium >= 0 && low >= 0, body)
	assert.Less(t, critical, medium)
	assert.Less(t, medium, low)

	assert.Contains(t, body, "active -> bankruptcy")
	assert.Contains(t, body, "(-30.00%)")
	assert.Contains(t, body, "2025-03-10T08:00:00Z")
}

func TestFormat_SingleEvent(t *testing.T) {
	events := []models.TriggerEvent{{Severity: models.SeverityMedium, Message: "CEO changed", OldValue: "A", NewValue: "B"}}
	subject, _ := Format("", events)
	assert.Equal(t, "[MEDIUM] 1 change detected for watched company", subject)
}

type fakePublisher struct {
	channel   string
	payload   []byte
	receivers int64
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(f.receivers, f.err)
}

func TestRedisNotifier_Send(t *testing.T) {
	pub := &fakePublisher{receivers: 1}
	n := NewRedisNotifier(pub, "", 10)
	n.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, n.Send(context.Background(), "sales@example.com", "subj", "body"))

	assert.Equal(t, DefaultChannel, pub.channel)
	var msg Message
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, "sales@example.com", msg.To)
	assert.Equal(t, "subj", msg.Subject)
	assert.Equal(t, "body", msg.Body)
	assert.True(t, msg.CreatedAt.Equal(n.now()))
}

func TestRedisNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	n := NewRedisNotifier(pub, "MAIL", 10)

	err := n.Send(context.Background(), "sales@example.com", "subj", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIL")
}

func TestRedisNotifier_EmptyAddress(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "", 10)
	require.Error(t, n.Send(context.Background(), "", "subj", "body"))
	assert.Empty(t, pub.channel)
}

func TestRedisNotifier_CancelledContext(t *testing.T) {
	n := NewRedisNotifier(&fakePublisher{}, "", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// first token is available immediately; drain it
	_ = n.limiter.Allow()
	assert.Error(t, n.Send(ctx, "a@example.com", "s", "b"))
}

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logger.NewWithWriter("test", &buf))

	require.NoError(t, n.Send(context.Background(), "a@example.com", "hello", "world"))
	assert.Contains(t, buf.String(), `"action":"notification_dry_run"`)
	assert.Contains(t, buf.String(), `"subject":"hello"`)
}
