// Package relay fans chat frames out to every stream joined to a room.
package relay

import (
	"context"
	"errors"
	"strings"
)

var ErrClosed = errors.New("broker closed")

// Frame is what a room delivers to each of its streams. ID is the stored
// message id, zero when the message could not be stored.
type Frame struct {
	ID       int64  `json:"id,omitempty"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}

// Subscription receives the frames published to one room. The channel is
// closed after Close, or when the broker shuts down.
type Subscription interface {
	Frames() <-chan Frame
	Close() error
}

type Broker interface {
	Publish(ctx context.Context, room string, f Frame) error
	Subscribe(ctx context.Context, room string) (Subscription, error)
	Close() error
}

// RoomName is the room shared by the two parties of a conversation. It
// does not depend on which side asks.
func RoomName(a, b string) string {
	a = strings.ReplaceAll(a, "@", "_at_")
	b = strings.ReplaceAll(b, "@", "_at_")
	return "chat_" + min(a, b) + "_" + max(a, b)
}
