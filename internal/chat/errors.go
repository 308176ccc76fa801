package chat

import (
	"errors"
	"fmt"
)

// Stream close codes understood by the session.
const (
	CloseNormal       = 1000
	CloseAbnormal     = 1006
	CloseServerError  = 4000
	CloseAuthFailed   = 4001
	CloseUserNotFound = 4002
)

var (
	ErrNotOpen            = errors.New("connection lost")
	ErrEmptyMessage       = errors.New("message body is empty")
	ErrSessionClosed      = errors.New("session closed")
	ErrConnectTimeout     = errors.New("connection timeout")
	ErrTransport          = errors.New("connection error")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrPeerNotFound       = errors.New("user not found")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrHistoryUnavailable = errors.New("history unavailable")
)

// CloseError is returned by Transport.ReadFrame when the remote side
// closed the stream with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stream closed with code %d", e.Code)
	}
	return fmt.Sprintf("stream closed with code %d: %s", e.Code, e.Reason)
}

// UserMessage turns a session error into the text shown to the user.
// Retries exhaustion is checked first because it wraps the last failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRetriesExhausted):
		return "Unable to establish connection after multiple attempts. The server might be offline."
	case errors.Is(err, ErrAuthFailed):
		return "Authentication failed. Please log in again."
	case errors.Is(err, ErrPeerNotFound):
		return "User not found"
	case errors.Is(err, ErrConnectTimeout):
		return "Connection timeout. The server might be offline."
	case errors.Is(err, ErrConnectionClosed):
		return "Connection closed. The server might be offline or restarting."
	case errors.Is(err, ErrTransport):
		return "Connection error. Server might be offline."
	case errors.Is(err, ErrNotOpen):
		return "Connection lost. Please try again."
	case errors.Is(err, ErrHistoryUnavailable):
		return "Failed to load messages. Please try again later."
	default:
		return err.Error()
	}
}
