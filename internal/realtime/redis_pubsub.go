package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "stream:"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance delivery.
type redisPayload struct {
	Envelope
	At int64 `json:"at"`
}

// RedisPubSub implements Publisher and Subscriber using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for stream events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishStreamEvent publishes an envelope to the stream's Redis channel.
func (r *RedisPubSub) PublishStreamEvent(streamID string, env Envelope) error {
	body, err := json.Marshal(redisPayload{Envelope: env, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+streamID, body).Err()
}

// SubscribeStream subscribes to a stream's Redis channel and calls handler for each message.
// Returns a cancel function that stops the subscription and waits for its goroutine.
func (r *RedisPubSub) SubscribeStream(streamID string, handler func(Envelope)) (cancel func(), err error) {
	channel := channelPrefix + streamID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("bad stream event payload", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(p.Envelope)
			}
		}
	}()
	cancel = func() {
		cancelCtx()
		<-done
	}
	return cancel, nil
}
