package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oralhistory/backend/internal/logging"
)

const channelPrefix = "notifications:"

// RedisBroker fans events out across service instances. Publishing goes
// through Redis; a relay goroutine receives every user channel and hands
// events to the in-process hub that owns the subscriptions.
type RedisBroker struct {
	client *redis.Client
	local  *LocalBroker
	pubsub *redis.PubSub
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisClient parses url and returns a client for it.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisBroker subscribes to all notification channels and starts the relay.
func NewRedisBroker(ctx context.Context, client *redis.Client, buffer int) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	b := &RedisBroker{
		client: client,
		local:  NewLocalBroker(buffer),
		pubsub: pubsub,
		logger: logging.FromContext(ctx),
	}
	b.wg.Add(1)
	go b.relay(pubsub.Channel())
	return b, nil
}

func (b *RedisBroker) relay(messages <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range messages {
		userID, evt, err := decodeMessage(msg.Channel, msg.Payload)
		if err != nil {
			b.logger.Warn("drop notification message", slog.String("channel", msg.Channel), slog.Any("error", err))
			continue
		}
		b.local.deliver(userID, evt)
	}
}

// Subscribe registers a local subscriber for userID.
func (b *RedisBroker) Subscribe(userID string) (<-chan Event, func()) {
	return b.local.Subscribe(userID)
}

// Publish sends evt to every instance holding subscribers for userID.
func (b *RedisBroker) Publish(ctx context.Context, userID string, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+userID, payload).Err(); err != nil {
		return fmt.Errorf("publish notification event: %w", err)
	}
	return nil
}

// Close stops the relay and closes local subscriptions.
func (b *RedisBroker) Close() error {
	var err error
	b.once.Do(func() {
		err = b.pubsub.Close()
		b.wg.Wait()
		_ = b.local.Close()
	})
	return err
}

func decodeMessage(channel, payload string) (string, Event, error) {
	userID := strings.TrimPrefix(channel, channelPrefix)
	if userID == "" || userID == channel {
		return "", Event{}, fmt.Errorf("unexpected channel %q", channel)
	}
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return "", Event{}, fmt.Errorf("decode event: %w", err)
	}
	return userID, evt, nil
}

var _ Broker = (*RedisBroker)(nil)
