package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
)

// ChannelAll carries every event for dashboards.
const ChannelAll = "notifications:all"

// Channel is the per-user pub/sub channel.
func Channel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

// RedisPublisher pushes events to live clients over Redis pub/sub.
type RedisPublisher struct {
	rclient *storage.RedisClient
}

func NewRedisPublisher(rclient *storage.RedisClient) *RedisPublisher {
	return &RedisPublisher{rclient: rclient}
}

func (p *RedisPublisher) Notify(ctx context.Context, recipients []uuid.UUID, e Event) error {
	if p.rclient == nil || p.rclient.Client == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := p.rclient.Pipeline()
	for _, id := range recipients {
		pipe.Publish(ctx, Channel(id), payload)
	}
	pipe.Publish(ctx, ChannelAll, payload)
	_, err = pipe.Exec(ctx)
	return err
}
