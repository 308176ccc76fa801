package chat

import "time"

// Identity is an opaque user identifier. The gateway uses emails.
type Identity string

type ReadState int

const (
	Unread ReadState = iota
	Read
)

func (r ReadState) String() string {
	if r == Read {
		return "read"
	}
	return "unread"
}

type DeliveryState int

const (
	Pending DeliveryState = iota
	Confirmed
)

func (d DeliveryState) String() string {
	if d == Confirmed {
		return "confirmed"
	}
	return "pending"
}

// Message is one entry of a conversation as the client sees it.
//
// ID is the gateway's stored message id, zero until the gateway has
// reported one. ClientID is only set on messages this client sent; it is
// the correlation id the gateway echoes back to confirm delivery.
type Message struct {
	ID        int64
	Body      string
	Sender    Identity
	Timestamp time.Time
	ReadState ReadState
	Delivery  DeliveryState
	ClientID  string
}

// outboundFrame is what Send writes to the stream.
type outboundFrame struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}

// inboundFrame is what the gateway relays to every stream in a room. ID
// is the stored message id; older gateways leave it out.
type inboundFrame struct {
	ID       int64  `json:"id,omitempty"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}
