package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/leadwatch/core/pkg/logger"
)

// DefaultChannel is where the mail service listens for outbound messages
const DefaultChannel = "EMAIL_OUTBOUND"

// Publisher is the part of *redis.Client the notifier needs
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes messages on a Redis channel
type RedisNotifier struct {
	rdb     Publisher
	channel string
	limiter *rate.Limiter
	now     func() time.Time
	logger  *logger.Logger
}

// NewRedisClient connects to Redis from a redis:// URL
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

// NewRedisNotifier creates a notifier publishing to channel at most ratePerSec messages per second
func NewRedisNotifier(rdb Publisher, channel string, ratePerSec int) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &RedisNotifier{
		rdb:     rdb,
		channel: channel,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		now:     time.Now,
		logger:  logger.New("notifier"),
	}
}

// Send publishes one message. Zero subscribers is not an error; the mail
// service may be restarting and Redis pub/sub does not buffer.
func (n *RedisNotifier) Send(ctx context.Context, address, subject, body string) error {
	if address == "" {
		return errors.New("notification address is empty")
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "notification rate limiter")
	}

	payload, err := json.Marshal(Message{
		To:        address,
		Subject:   subject,
		Body:      body,
		CreatedAt: n.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}

	receivers, err := n.rdb.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return errors.Wrapf(err, "publish notification to %s", n.channel)
	}
	if receivers == 0 {
		n.logger.Warn().
			Str("action", "notification_unrouted").
			Str("channel", n.channel).
			Msg("No subscriber received the notification")
	}
	return nil
}
