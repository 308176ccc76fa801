package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker relays frames through Redis pub/sub so streams of the same
// room may live on different gateway instances.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker connects to redisURL and checks the connection.
func NewRedisBroker(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBrokerFromClient(client, logger), nil
}

func NewRedisBrokerFromClient(client *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger}
}

func roomChannel(room string) string {
	return "relay:" + room
}

func (b *RedisBroker) Publish(ctx context.Context, room string, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := b.client.Publish(ctx, roomChannel(room), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so frames
// published after it returns are delivered.
func (b *RedisBroker) Subscribe(ctx context.Context, room string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, roomChannel(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", room, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Frame, subscriptionBuffer), done: make(chan struct{})}
	go sub.pump(b.logger.With(zap.String("room", room)))
	return sub, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Frame
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(logger *zap.Logger) {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var f Frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		select {
		case s.ch <- f:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Frames() <-chan Frame { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
