package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const subscriptionBuffer = 64

// MemoryBroker relays frames within one process.
type MemoryBroker struct {
	logger *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		logger: logger,
		rooms:  make(map[string]map[*memorySub]struct{}),
	}
}

// Publish hands f to every subscriber of room. A subscriber whose buffer
// is full misses the frame.
func (b *MemoryBroker) Publish(ctx context.Context, room string, f Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.rooms[room] {
		select {
		case sub.ch <- f:
		default:
			b.logger.Warn("subscriber too slow, dropping frame", zap.String("room", room))
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, room string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{broker: b, room: room, ch: make(chan Frame, subscriptionBuffer)}
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*memorySub]struct{})
	}
	b.rooms[room][sub] = struct{}{}
	return sub, nil
}

// Subscribers counts the live subscriptions of room.
func (b *MemoryBroker) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for room, subs := range b.rooms {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.rooms, room)
	}
	return nil
}

type memorySub struct {
	broker *MemoryBroker
	room   string
	ch     chan Frame
	once   sync.Once
}

func (s *memorySub) Frames() <-chan Frame { return s.ch }

func (s *memorySub) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.rooms[s.room]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.rooms, s.room)
		}
	}
	s.once.Do(func() { close(s.ch) })
	return nil
}
