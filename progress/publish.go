package progress

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// RedisPublisher broadcasts progression records on a Redis channel.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for channel.
func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rc: rc, channel: channel}
}

// Publish sends st as JSON.
func (p *RedisPublisher) Publish(ctx context.Context, st domain.UserStats) error {
	data, err := sonic.MarshalString(st)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// Subscribe streams the progression updates published for userID until ctx
// is cancelled. The returned channel is closed on exit.
func Subscribe(ctx context.Context, rc *redis.Client, channel, userID string, logger *log.Logger) <-chan domain.UserStats {
	if logger == nil {
		logger = log.StandardLogger()
	}
	out := make(chan domain.UserStats, 8)
	go func() {
		defer close(out)
		for {
			sub := rc.Subscribe(ctx, channel)
			if !relay(ctx, sub.Channel(), userID, out, logger) {
				_ = sub.Close()
				return
			}
			_ = sub.Close()
			logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	return out
}

// relay forwards matching messages and returns false once ctx is done.
func relay(ctx context.Context, ch <-chan *redis.Message, userID string, out chan<- domain.UserStats, logger *log.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err() == nil
			}
			var st domain.UserStats
			if err := sonic.UnmarshalString(msg.Payload, &st); err != nil {
				logger.WithError(err).Error("unable to parse progress update")
				continue
			}
			if st.UserID != userID {
				continue
			}
			select {
			case out <- st:
			case <-ctx.Done():
				return false
			}
		}
	}
}
