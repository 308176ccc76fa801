package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRetryCeiling   = 3
)

type Options struct {
	// Self is the local identity. Frames from Self are never appended.
	Self Identity

	// ConnectTimeout bounds each connection attempt. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// RetryCeiling is how many consecutive failures are retried
	// automatically; failure number RetryCeiling+1 is fatal. Zero means
	// DefaultRetryCeiling, a negative value disables automatic retries.
	RetryCeiling int

	// RetryDelay is waited before each automatic retry. Zero retries
	// immediately.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	switch {
	case o.RetryCeiling == 0:
		o.RetryCeiling = DefaultRetryCeiling
	case o.RetryCeiling < 0:
		o.RetryCeiling = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Peer    Identity
	State   State
	Attempt int

	// Err is the current connection error, nil once Open.
	Err error

	HistoryLoaded bool
	HistoryErr    error

	// Messages is history followed by live messages, in arrival order.
	Messages []Message
}

// Session keeps one live stream to the gateway for the active peer.
//
// All state is owned by a single goroutine that consumes an event
// channel. Dial results, timers, frames and history responses are posted
// as events tagged with the generation that produced them, so a late
// event from a superseded attempt or conversation is dropped instead of
// mutating current state.
type Session struct {
	opts    Options
	dialer  Dialer
	history HistoryFetcher
	logger  *zap.Logger

	events  chan event
	changed chan struct{}
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once

	postMu  sync.RWMutex
	stopped bool

	mu   sync.RWMutex
	snap Snapshot

	// Everything below belongs to the run goroutine.
	peer        Identity
	state       State
	attempt     int
	err         error
	epoch       uint64
	convo       uint64
	transport   Transport
	cancelDial  context.CancelFunc
	connTimer   *time.Timer
	retryTimer  *time.Timer
	cancelFetch context.CancelFunc

	historyLoaded bool
	historyErr    error
	historyMsgs   []Message
	live          []Message
}

type event any

type (
	peerEvent  struct{ peer Identity }
	retryEvent struct{}
	sendEvent  struct {
		body  string
		reply chan error
	}
	dialEvent struct {
		epoch     uint64
		transport Transport
		err       error
	}
	timeoutEvent   struct{ epoch uint64 }
	reconnectEvent struct{ epoch uint64 }
	frameEvent     struct {
		epoch uint64
		data  []byte
	}
	readErrorEvent struct {
		epoch uint64
		err   error
	}
	historyEvent struct {
		convo uint64
		peer  Identity
		msgs  []Message
		err   error
	}
)

// NewSession starts an idle session. history may be nil, in which case
// conversations start empty.
func NewSession(opts Options, dialer Dialer, history HistoryFetcher, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		opts:          opts.withDefaults(),
		dialer:        dialer,
		history:       history,
		logger:        logger.With(zap.String("self", string(opts.Self))),
		events:        make(chan event, 64),
		changed:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
		historyLoaded: true,
	}
	s.snap = s.snapshot()
	go s.run()
	return s
}

// SetPeer switches the conversation. The previous stream is closed with
// the normal-closure code, the message list is cleared, history is
// fetched and a new stream is dialed. An empty peer returns to Idle.
func (s *Session) SetPeer(peer Identity) {
	s.post(peerEvent{peer: peer})
}

// Retry reconnects a Closed or Failed session with a fresh attempt
// counter. It does nothing in any other state.
func (s *Session) Retry() {
	s.post(retryEvent{})
}

// Send transmits body and appends it locally as Pending. It never waits
// for the gateway: the frame is written or the call fails with
// ErrNotOpen.
func (s *Session) Send(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	reply := make(chan error, 1)
	if !s.post(sendEvent{body: body, reply: reply}) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.exited:
		return ErrSessionClosed
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Changes signals after the snapshot changed. Signals coalesce, so a
// reader should call Snapshot after each one. Meant for one reader.
func (s *Session) Changes() <-chan struct{} {
	return s.changed
}

// Close tears the session down. An open stream is closed with the
// normal-closure code, which never triggers a retry.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.exited
	return nil
}

func (s *Session) post(ev event) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			s.shutdown()
			s.publish()
			return
		case ev := <-s.events:
			s.handle(ev)
			s.publish()
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case peerEvent:
		s.onPeer(ev.peer)
	case retryEvent:
		s.onRetry()
	case sendEvent:
		ev.reply <- s.onSend(ev.body)
	case dialEvent:
		s.onDial(ev)
	case timeoutEvent:
		if ev.epoch == s.epoch && s.state == StateConnecting {
			s.failure(ErrConnectTimeout)
		}
	case reconnectEvent:
		if ev.epoch == s.epoch && s.state == StateConnecting {
			s.connect()
		}
	case frameEvent:
		if ev.epoch == s.epoch && s.state == StateOpen {
			s.onFrame(ev.data)
		}
	case readErrorEvent:
		if ev.epoch == s.epoch && s.state == StateOpen {
			s.onReadError(ev.err)
		}
	case historyEvent:
		s.onHistory(ev)
	}
}

func (s *Session) onPeer(peer Identity) {
	if peer == s.peer {
		return
	}

	s.dropTransport("conversation changed")
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}

	s.convo++
	s.peer = peer
	s.attempt = 0
	s.err = nil
	s.historyMsgs = nil
	s.historyErr = nil
	s.live = nil

	if peer == "" {
		s.state = StateIdle
		s.historyLoaded = true
		s.logger.Info("chat session idle")
		return
	}

	s.fetchHistory()
	s.connect()
}

func (s *Session) onRetry() {
	if s.peer == "" || (s.state != StateClosed && s.state != StateFailed) {
		return
	}
	s.logger.Info("user retry", zap.String("peer", string(s.peer)))
	s.attempt = 0
	s.err = nil
	s.connect()
}

func (s *Session) connect() {
	s.stopTimers()
	s.epoch++
	epoch, peer := s.epoch, s.peer
	s.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	s.connTimer = time.AfterFunc(s.opts.ConnectTimeout, func() {
		s.post(timeoutEvent{epoch: epoch})
	})

	s.logger.Info("connecting",
		zap.String("peer", string(peer)),
		zap.Int("attempt", s.attempt+1),
	)

	go func() {
		t, err := s.dialer.Dial(ctx, peer)
		if !s.post(dialEvent{epoch: epoch, transport: t, err: err}) && t != nil {
			_ = t.Close(CloseNormal, "session closed")
		}
	}()
}

func (s *Session) onDial(ev dialEvent) {
	if ev.epoch != s.epoch || s.state != StateConnecting {
		if ev.transport != nil {
			_ = ev.transport.Close(CloseNormal, "superseded")
		}
		return
	}
	if ev.err != nil {
		s.failure(fmt.Errorf("%w: %w", ErrTransport, ev.err))
		return
	}

	s.stopTimers()
	s.transport = ev.transport
	s.state = StateOpen
	s.attempt = 0
	s.err = nil
	s.logger.Info("stream open", zap.String("peer", string(s.peer)))

	go s.readLoop(ev.epoch, ev.transport)
}

func (s *Session) readLoop(epoch uint64, t Transport) {
	for {
		data, err := t.ReadFrame()
		if err != nil {
			s.post(readErrorEvent{epoch: epoch, err: err})
			return
		}
		if !s.post(frameEvent{epoch: epoch, data: data}) {
			return
		}
	}
}

func (s *Session) onFrame(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	sender := Identity(f.Sender)
	if sender == s.opts.Self {
		s.confirm(f.ClientID, f.ID)
		return
	}

	s.live = append(s.live, Message{
		ID:        f.ID,
		Body:      f.Message,
		Sender:    sender,
		Timestamp: time.Now(),
		ReadState: Unread,
		Delivery:  Confirmed,
	})
}

// confirm marks the local message carrying clientID as delivered and
// records the id the gateway stored it under.
func (s *Session) confirm(clientID string, id int64) {
	if clientID == "" {
		return
	}
	for i := range s.live {
		if s.live[i].ClientID == clientID {
			s.live[i].Delivery = Confirmed
			s.live[i].ID = id
			return
		}
	}
}

func (s *Session) onReadError(err error) {
	code := CloseAbnormal
	var ce *CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	switch code {
	case CloseNormal:
		s.dropTransport("")
		s.state = StateClosed
		s.err = nil
		s.logger.Info("stream closed normally", zap.String("peer", string(s.peer)))
	case CloseAuthFailed:
		s.terminal(fmt.Errorf("%w: %w", ErrAuthFailed, err))
	case CloseUserNotFound:
		s.terminal(fmt.Errorf("%w: %w", ErrPeerNotFound, err))
	default:
		s.failure(fmt.Errorf("%w: %w", ErrConnectionClosed, err))
	}
}

func (s *Session) terminal(err error) {
	s.dropTransport("")
	s.state = StateFailed
	s.err = err
	s.logger.Warn("stream rejected", zap.String("peer", string(s.peer)), zap.Error(err))
}

// failure records one failed attempt and either retries or gives up.
func (s *Session) failure(err error) {
	s.dropTransport("retrying")
	s.attempt++

	if s.attempt > s.opts.RetryCeiling {
		s.state = StateFailed
		s.err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.attempt, err)
		s.logger.Warn("giving up",
			zap.String("peer", string(s.peer)),
			zap.Int("attempt", s.attempt),
			zap.Error(err),
		)
		return
	}

	s.err = err
	s.logger.Warn("connection attempt failed",
		zap.String("peer", string(s.peer)),
		zap.Int("attempt", s.attempt),
		zap.Error(err),
	)

	if s.opts.RetryDelay > 0 {
		s.state = StateConnecting
		epoch := s.epoch
		s.retryTimer = time.AfterFunc(s.opts.RetryDelay, func() {
			s.post(reconnectEvent{epoch: epoch})
		})
		return
	}
	s.connect()
}

func (s *Session) onSend(body string) error {
	if s.state != StateOpen || s.transport == nil {
		return ErrNotOpen
	}

	clientID := uuid.NewString()
	data, err := json.Marshal(outboundFrame{Message: body, ClientID: clientID})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := s.transport.WriteFrame(data); err != nil {
		return fmt.Errorf("%w: %w", ErrNotOpen, err)
	}

	s.live = append(s.live, Message{
		Body:      body,
		Sender:    s.opts.Self,
		Timestamp: time.Now(),
		ReadState: Unread,
		Delivery:  Pending,
		ClientID:  clientID,
	})
	return nil
}

func (s *Session) fetchHistory() {
	if s.history == nil {
		s.historyLoaded = true
		return
	}
	s.historyLoaded = false

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	convo, peer := s.convo, s.peer

	go func() {
		msgs, err := s.history.FetchHistory(ctx, peer)
		s.post(historyEvent{convo: convo, peer: peer, msgs: msgs, err: err})
	}()
}

func (s *Session) onHistory(ev historyEvent) {
	if ev.convo != s.convo || ev.peer != s.peer {
		s.logger.Debug("discarding stale history", zap.String("peer", string(ev.peer)))
		return
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.historyLoaded = true

	if ev.err != nil {
		s.historyErr = fmt.Errorf("%w: %w", ErrHistoryUnavailable, ev.err)
		s.logger.Warn("history fetch failed", zap.String("peer", string(ev.peer)), zap.Error(ev.err))
		return
	}

	s.historyMsgs = append([]Message(nil), ev.msgs...)
	s.live = dropReplayed(s.historyMsgs, s.live)
}

// dropTransport closes whatever the current attempt holds and moves to a
// new epoch so its in-flight events are ignored.
func (s *Session) dropTransport(reason string) {
	s.stopTimers()
	if s.transport != nil {
		_ = s.transport.Close(CloseNormal, reason)
		s.transport = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.epoch++
}

func (s *Session) stopTimers() {
	if s.connTimer != nil {
		s.connTimer.Stop()
		s.connTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) shutdown() {
	s.postMu.Lock()
	s.stopped = true
	s.postMu.Unlock()

drain:
	for {
		select {
		case ev := <-s.events:
			switch ev := ev.(type) {
			case dialEvent:
				if ev.transport != nil {
					_ = ev.transport.Close(CloseNormal, "session closed")
				}
			case sendEvent:
				ev.reply <- ErrSessionClosed
			}
		default:
			break drain
		}
	}

	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.dropTransport("session closed")
	if s.peer != "" {
		s.state = StateClosed
	}
	s.logger.Info("chat session closed", zap.String("peer", string(s.peer)))
}

func (s *Session) publish() {
	snap := s.snapshot()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) snapshot() Snapshot {
	msgs := make([]Message, 0, len(s.historyMsgs)+len(s.live))
	msgs = append(msgs, s.historyMsgs...)
	msgs = append(msgs, s.live...)
	return Snapshot{
		Peer:          s.peer,
		State:         s.state,
		Attempt:       s.attempt,
		Err:           s.err,
		HistoryLoaded: s.historyLoaded,
		HistoryErr:    s.historyErr,
		Messages:      msgs,
	}
}
