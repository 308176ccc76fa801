package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/storefront/internal/chat"
	"github.com/lalith-99/storefront/internal/middleware"
	"github.com/lalith-99/storefront/internal/models"
	"github.com/lalith-99/storefront/internal/observ"
	"github.com/lalith-99/storefront/internal/relay"
	"github.com/lalith-99/storefront/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 8 << 10
)

// StreamLimits bound what one stream may send.
type StreamLimits struct {
	Rate  rate.Limit
	Burst int
}

// StreamHandler serves GET /ws/chat/:peer/, one WebSocket per
// conversation. Rejections happen after the upgrade, as close frames the
// client can tell apart: 4001 no valid token, 4002 unknown peer, 4000
// anything else.
type StreamHandler struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	broker   relay.Broker
	limits   StreamLimits
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(
	users repository.UserRepository,
	messages repository.MessageRepository,
	broker relay.Broker,
	limits StreamLimits,
	logger *zap.Logger,
) *StreamHandler {
	if limits.Burst <= 0 {
		limits.Burst = 1
	}
	return &StreamHandler{
		users:    users,
		messages: messages,
		broker:   broker,
		limits:   limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a token, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// inboundFrame is what a client writes. A frame carrying only a token is
// accepted and ignored.
type inboundFrame struct {
	Message  *string `json:"message"`
	ClientID string  `json:"client_id"`
	Token    string  `json:"token"`
}

// Serve handles GET /ws/chat/:peer/
//
// Why upgrade first and reject afterwards?
//   - A browser or gorilla client that gets a plain 401 or 404 on the
//     handshake only sees "bad handshake". It cannot tell a bad token from
//     an unknown peer.
//   - A close frame carries a code: 4001 means log in again, 4002 means the
//     peer does not exist, 4000 means try later. Clients decide whether to
//     retry from that code alone.
//
// Why OptionalAuth instead of AuthMiddleware on this route?
//   - The rejection has to happen after the upgrade (see above), so the
//     handler, not the middleware, turns a missing token into 4001.
func (h *StreamHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	peerEmail := c.Param("peer")

	if !middleware.IsAuthenticated(c) {
		h.logger.Warn("anonymous stream rejected", zap.String("peer", peerEmail))
		h.reject(conn, chat.CloseAuthFailed, "authentication required")
		return
	}
	self := streamUser{id: middleware.GetUserID(c), email: middleware.GetEmail(c)}

	peer, err := h.users.GetByEmail(ctx, peerEmail)
	if err != nil {
		h.logger.Error("failed to look up peer", zap.String("peer", peerEmail), zap.Error(err))
		h.reject(conn, chat.CloseServerError, "internal error")
		return
	}
	if peer == nil {
		h.logger.Warn("stream peer not found", zap.String("peer", peerEmail))
		h.reject(conn, chat.CloseUserNotFound, "user not found")
		return
	}

	room := relay.RoomName(self.email, peer.Email)
	sub, err := h.broker.Subscribe(ctx, room)
	if err != nil {
		h.logger.Error("failed to join room", zap.String("room", room), zap.Error(err))
		h.reject(conn, chat.CloseServerError, "internal error")
		return
	}

	if n, err := h.messages.MarkRead(ctx, peer.ID, self.id); err != nil {
		h.logger.Warn("failed to mark messages read", zap.Error(err))
	} else if n > 0 {
		h.logger.Debug("marked messages read", zap.Int64("count", n))
	}

	s := &stream{
		h:       h,
		conn:    conn,
		sub:     sub,
		self:    self,
		peer:    peer,
		room:    room,
		limiter: rate.NewLimiter(h.limits.Rate, h.limits.Burst),
		logger:  h.logger.With(zap.String("room", room), zap.String("user", self.email)),

		readDone: make(chan struct{}),
	}

	observ.StreamsActive.Inc()
	defer observ.StreamsActive.Dec()
	s.logger.Info("stream open")

	s.run(context.WithoutCancel(ctx))
}

func (h *StreamHandler) reject(conn *websocket.Conn, code int, reason string) {
	observ.StreamCloses.WithLabelValues(strconv.Itoa(code)).Inc()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	// Give the client a moment to answer the close before dropping TCP.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	_ = conn.Close()
}

type streamUser struct {
	id    uuid.UUID
	email string
}

type stream struct {
	h       *StreamHandler
	conn    *websocket.Conn
	sub     relay.Subscription
	self    streamUser
	peer    *models.User
	room    string
	limiter *rate.Limiter
	logger  *zap.Logger

	readDone chan struct{}
}

// run owns the connection until either side goes away. The read loop runs
// here; the write loop drains the room subscription.
func (s *stream) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.readLoop(ctx)
	close(s.readDone)

	_ = s.sub.Close()
	wg.Wait()
	_ = s.conn.Close()
	s.logger.Info("stream closed")
}

func (s *stream) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("stream read error", zap.Error(err))
			}
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if f.Message == nil {
			continue
		}
		body := *f.Message
		if strings.TrimSpace(body) == "" {
			continue
		}
		if !s.limiter.Allow() {
			observ.FramesRateLimited.Inc()
			s.logger.Debug("frame rate limited")
			continue
		}

		s.relay(ctx, body, f.ClientID)
	}
}

// relay persists a message and publishes it to the room. A message that
// could not be stored is still delivered to the streams that are open.
func (s *stream) relay(ctx context.Context, body, clientID string) {
	frame := relay.Frame{Sender: s.self.email, Message: body, ClientID: clientID}

	// The stored id lets clients tell a replayed history entry from a new
	// message with the same text.
	stored, err := s.h.messages.Create(ctx, s.self.id, s.peer.ID, body)
	if err != nil {
		s.logger.Error("failed to store message", zap.Error(err))
	} else {
		frame.ID = stored.ID
	}

	if err := s.h.broker.Publish(ctx, s.room, frame); err != nil {
		s.logger.Error("failed to publish message", zap.Error(err))
		return
	}
	observ.MessagesRelayed.Inc()
}

func (s *stream) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-s.sub.Frames():
			if !ok {
				select {
				case <-s.readDone:
				default:
					s.closeNormal()
				}
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				s.logger.Error("failed to encode frame", zap.Error(err))
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// closeNormal ends a stream whose room went away while the client was
// still connected, e.g. on gateway shutdown.
func (s *stream) closeNormal() {
	observ.StreamCloses.WithLabelValues(strconv.Itoa(chat.CloseNormal)).Inc()
	msg := websocket.FormatCloseMessage(chat.CloseNormal, "server shutting down")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = s.conn.SetReadDeadline(time.Now().Add(writeWait))
}
