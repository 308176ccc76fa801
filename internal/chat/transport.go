package chat

import "context"

// Transport is one live bidirectional stream to the gateway.
//
// ReadFrame blocks until a frame arrives. When the remote side closes
// with a close frame it returns a *CloseError; any other error means the
// stream broke. WriteFrame may be called concurrently with ReadFrame but
// not with itself. Close is safe to call more than once.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a Transport for a conversation with peer. Dial must
// return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, peer Identity) (Transport, error)
}

// HistoryFetcher loads the stored conversation with peer, oldest first.
// An unknown conversation is an empty slice, not an error.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, peer Identity) ([]Message, error)
}
