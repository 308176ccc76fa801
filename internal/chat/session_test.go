package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self Identity = "me@example.com"

// ---------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------

type fakeTransport struct {
	inbound chan []byte
	remote  chan error
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	writes    [][]byte
	closeCode int
	writeErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		remote:  make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case err := <-f.remote:
		return nil, err
	case <-f.closed:
		return nil, errors.New("use of closed transport")
	}
}

func (f *fakeTransport) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, sender Identity, body, clientID string) {
	t.Helper()
	data, err := json.Marshal(inboundFrame{Sender: string(sender), Message: body, ClientID: clientID})
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeTransport) pushFrame(t *testing.T, frame inboundFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeTransport) closeRemote(code int) {
	f.remote <- &CloseError{Code: code}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) CloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

type dialFunc func(ctx context.Context, peer Identity) (Transport, error)

type fakeDialer struct {
	mu         sync.Mutex
	fn         dialFunc
	peers      []Identity
	times      []time.Time
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, peer Identity) (Transport, error) {
	d.mu.Lock()
	d.peers = append(d.peers, peer)
	d.times = append(d.times, time.Now())
	fn := d.fn
	d.mu.Unlock()
	return fn(ctx, peer)
}

func (d *fakeDialer) setFunc(fn dialFunc) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

func (d *fakeDialer) Peers() []Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Identity(nil), d.peers...)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// openDialer hands out a fresh fakeTransport on every dial.
func openDialer() *fakeDialer {
	d := &fakeDialer{}
	d.fn = func(ctx context.Context, peer Identity) (Transport, error) {
		ft := newFakeTransport()
		d.mu.Lock()
		d.transports = append(d.transports, ft)
		d.mu.Unlock()
		return ft, nil
	}
	return d
}

func failingDialer() *fakeDialer {
	return &fakeDialer{fn: func(ctx context.Context, peer Identity) (Transport, error) {
		return nil, errors.New("connection refused")
	}}
}

// hangingDialer never completes until its context is cancelled.
func hangingDialer() *fakeDialer {
	return &fakeDialer{fn: func(ctx context.Context, peer Identity) (Transport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type fakeHistory struct {
	mu      sync.Mutex
	byPeer  map[Identity][]Message
	err     error
	release map[Identity]chan struct{}
	calls   int
}

func (h *fakeHistory) FetchHistory(ctx context.Context, peer Identity) ([]Message, error) {
	h.mu.Lock()
	h.calls++
	gate := h.release[peer]
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byPeer[peer], h.err
}

func (h *fakeHistory) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Snapshot()) }, 2*time.Second, 2*time.Millisecond, msg)
	return s.Snapshot()
}

func stateIs(want State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == want }
}

func newTestSession(t *testing.T, opts Options, d Dialer, h HistoryFetcher) *Session {
	t.Helper()
	if opts.Self == "" {
		opts.Self = self
	}
	s := NewSession(opts, d, h, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openSession(t *testing.T, h HistoryFetcher) (*Session, *fakeDialer, *fakeTransport) {
	t.Helper()
	d := openDialer()
	s := newTestSession(t, Options{}, d, h)
	s.SetPeer("alice@example.com")
	waitFor(t, s, stateIs(StateOpen), "session should open")
	return s, d, d.Last()
}

// ---------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------

func TestSessionStartsIdle(t *testing.T) {
	s := newTestSession(t, Options{}, openDialer(), nil)

	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Messages)
	assert.ErrorIs(t, s.Send("hello"), ErrNotOpen)
}

func TestSessionOpens(t *testing.T) {
	s, d, _ := openSession(t, nil)

	snap := s.Snapshot()
	assert.Equal(t, Identity("alice@example.com"), snap.Peer)
	assert.Equal(t, 0, snap.Attempt)
	assert.NoError(t, snap.Err)
	assert.True(t, snap.HistoryLoaded, "no fetcher means nothing to wait for")
	assert.Equal(t, []Identity{"alice@example.com"}, d.Peers())
}

func TestSetPeerSamePeerIsNoop(t *testing.T) {
	s, d, _ := openSession(t, nil)

	s.SetPeer("alice@example.com")
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateOpen, s.Snapshot().State)
	assert.Equal(t, 1, d.Calls())
}

func TestSetPeerSupersedesPreviousTransport(t *testing.T) {
	s, d, first := openSession(t, nil)
	first.push(t, "alice@example.com", "hello from alice", "")
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "alice's message")

	s.SetPeer("bob@example.com")
	snap := waitFor(t, s, func(s Snapshot) bool {
		return s.Peer == "bob@example.com" && s.State == StateOpen
	}, "switch to bob")

	assert.True(t, first.isClosed())
	assert.Equal(t, CloseNormal, first.CloseCode())
	assert.Empty(t, snap.Messages, "messages belong to the previous conversation")
	assert.Equal(t, []Identity{"alice@example.com", "bob@example.com"}, d.Peers())
}

func TestSetPeerEmptyReturnsToIdle(t *testing.T) {
	s, _, tr := openSession(t, nil)

	s.SetPeer("")
	waitFor(t, s, stateIs(StateIdle), "idle")
	assert.Equal(t, CloseNormal, tr.CloseCode())
}

func TestCloseUsesNormalClosure(t *testing.T) {
	d := openDialer()
	s := NewSession(Options{Self: self}, d, nil, nil)
	s.SetPeer("alice@example.com")
	waitFor(t, s, stateIs(StateOpen), "open")
	tr := d.Last()

	require.NoError(t, s.Close())

	assert.True(t, tr.isClosed())
	assert.Equal(t, CloseNormal, tr.CloseCode())
	assert.Equal(t, StateClosed, s.Snapshot().State)
	assert.ErrorIs(t, s.Send("late"), ErrSessionClosed)
	assert.Equal(t, 1, d.Calls())
	require.NoError(t, s.Close(), "Close is idempotent")
}

// ---------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------

func TestRetryCeilingStopsAutomaticAttempts(t *testing.T) {
	d := failingDialer()
	s := newTestSession(t, Options{}, d, nil)

	s.SetPeer("alice@example.com")
	snap := waitFor(t, s, stateIs(StateFailed), "should fail after the ceiling")

	assert.Equal(t, DefaultRetryCeiling+1, snap.Attempt)
	assert.ErrorIs(t, snap.Err, ErrRetriesExhausted)
	assert.ErrorIs(t, snap.Err, ErrTransport)
	assert.Equal(t, "Unable to establish connection after multiple attempts. The server might be offline.", UserMessage(snap.Err))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, DefaultRetryCeiling+1, d.Calls(), "no attempt after the fatal failure")
}

func TestConnectTimeoutRetriesThenFails(t *testing.T) {
	d := hangingDialer()
	s := newTestSession(t, Options{ConnectTimeout: 15 * time.Millisecond, RetryCeiling: 1}, d, nil)

	s.SetPeer("alice@example.com")
	snap := waitFor(t, s, stateIs(StateFailed), "timeouts should exhaust retries")

	assert.Equal(t, 2, snap.Attempt)
	assert.ErrorIs(t, snap.Err, ErrConnectTimeout)
	assert.Equal(t, 2, d.Calls())
}

func TestAttemptResetsOnOpen(t *testing.T) {
	d := openDialer()
	open := d.fn
	var mu sync.Mutex
	failures := 2
	d.setFunc(func(ctx context.Context, peer Identity) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.New("connection refused")
		}
		return open(ctx, peer)
	})

	s := newTestSession(t, Options{}, d, nil)
	s.SetPeer("alice@example.com")
	snap := waitFor(t, s, stateIs(StateOpen), "third attempt opens")

	assert.Equal(t, 0, snap.Attempt)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 3, d.Calls())
}

func TestNegativeCeilingDisablesRetries(t *testing.T) {
	d := failingDialer()
	s := newTestSession(t, Options{RetryCeiling: -1}, d, nil)

	s.SetPeer("alice@example.com")
	snap := waitFor(t, s, stateIs(StateFailed), "first failure is fatal")
	assert.Equal(t, 1, snap.Attempt)
	assert.Equal(t, 1, d.Calls())
}

func TestUserRetryAfterFailure(t *testing.T) {
	d := failingDialer()
	s := newTestSession(t, Options{RetryCeiling: -1}, d, nil)
	s.SetPeer("alice@example.com")
	waitFor(t, s, stateIs(StateFailed), "failed")

	d.setFunc(openDialer().fn)
	s.Retry()

	snap := waitFor(t, s, stateIs(StateOpen), "retry opens")
	assert.Equal(t, 0, snap.Attempt)
	assert.NoError(t, snap.Err)
}

func TestRetryIgnoredWhileOpen(t *testing.T) {
	s, d, _ := openSession(t, nil)

	s.Retry()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Calls())
	assert.Equal(t, StateOpen, s.Snapshot().State)
}

func TestRetryDelayIsHonored(t *testing.T) {
	d := openDialer()
	open := d.fn
	var mu sync.Mutex
	failed := false
	d.setFunc(func(ctx context.Context, peer Identity) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if !failed {
			failed = true
			return nil, errors.New("connection refused")
		}
		return open(ctx, peer)
	})

	s := newTestSession(t, Options{RetryDelay: 40 * time.Millisecond}, d, nil)
	s.SetPeer("alice@example.com")
	waitFor(t, s, stateIs(StateOpen), "opens after the delay")

	d.mu.Lock()
	gap := d.times[1].Sub(d.times[0])
	d.mu.Unlock()
	assert.GreaterOrEqual(t, gap, 40*time.Millisecond)
}

// ---------------------------------------------------------------
// Close codes
// ---------------------------------------------------------------

func TestNormalClosureIsNotRetried(t *testing.T) {
	s, d, tr := openSession(t, nil)

	tr.closeRemote(CloseNormal)
	snap := waitFor(t, s, stateIs(StateClosed), "closed")

	assert.Equal(t, 0, snap.Attempt)
	assert.NoError(t, snap.Err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.Calls())
	assert.Equal(t, StateClosed, s.Snapshot().State)
}

func TestTerminalCloseCodes(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr error
		text    string
	}{
		{"auth", CloseAuthFailed, ErrAuthFailed, "Authentication failed. Please log in again."},
		{"not found", CloseUserNotFound, ErrPeerNotFound, "User not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d, tr := openSession(t, nil)

			tr.closeRemote(tt.code)
			snap := waitFor(t, s, stateIs(StateFailed), "failed")

			assert.ErrorIs(t, snap.Err, tt.wantErr)
			assert.Equal(t, tt.text, UserMessage(snap.Err))
			assert.Equal(t, 0, snap.Attempt)
			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, 1, d.Calls())
		})
	}
}

func TestOtherCloseCodesReconnect(t *testing.T) {
	s, d, tr := openSession(t, nil)

	tr.closeRemote(CloseServerError)
	require.Eventually(t, func() bool { return d.Calls() == 2 }, 2*time.Second, 2*time.Millisecond)
	snap := waitFor(t, s, stateIs(StateOpen), "reconnected")

	assert.Equal(t, 0, snap.Attempt)
	assert.NotSame(t, tr, d.Last())
}

func TestBrokenStreamReconnects(t *testing.T) {
	s, d, tr := openSession(t, nil)

	tr.remote <- errors.New("connection reset by peer")
	require.Eventually(t, func() bool { return d.Calls() == 2 }, 2*time.Second, 2*time.Millisecond)
	waitFor(t, s, stateIs(StateOpen), "reconnected")
}

// ---------------------------------------------------------------
// Messages
// ---------------------------------------------------------------

func TestOptimisticSend(t *testing.T) {
	s, _, tr := openSession(t, nil)

	require.NoError(t, s.Send("hi"))

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	msg := snap.Messages[0]
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, self, msg.Sender)
	assert.Equal(t, Pending, msg.Delivery)
	assert.NotEmpty(t, msg.ClientID)

	writes := tr.Writes()
	require.Len(t, writes, 1)
	var frame outboundFrame
	require.NoError(t, json.Unmarshal(writes[0], &frame))
	assert.Equal(t, "hi", frame.Message)
	assert.Equal(t, msg.ClientID, frame.ClientID)
}

func TestSendRejectedWhenNotOpen(t *testing.T) {
	s := newTestSession(t, Options{}, hangingDialer(), nil)
	s.SetPeer("alice@example.com")
	waitFor(t, s, stateIs(StateConnecting), "connecting")

	err := s.Send("hi")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestSendRejectsBlankBody(t *testing.T) {
	s, _, tr := openSession(t, nil)

	assert.ErrorIs(t, s.Send("   "), ErrEmptyMessage)
	assert.Empty(t, tr.Writes())
}

func TestSendWriteFailure(t *testing.T) {
	s, _, tr := openSession(t, nil)
	tr.mu.Lock()
	tr.writeErr = errors.New("broken pipe")
	tr.mu.Unlock()

	assert.ErrorIs(t, s.Send("hi"), ErrNotOpen)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestEchoSuppressionAndConfirmation(t *testing.T) {
	s, _, tr := openSession(t, nil)
	require.NoError(t, s.Send("hi"))
	clientID := s.Snapshot().Messages[0].ClientID

	tr.push(t, self, "hi", clientID)
	snap := waitFor(t, s, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Delivery == Confirmed
	}, "echo confirms the pending message")
	assert.Equal(t, "hi", snap.Messages[0].Body)

	// An echo without a correlation id is dropped too.
	tr.push(t, self, "from another tab", "")
	tr.push(t, "alice@example.com", "hello back", "")

	snap = waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 2 }, "peer message appended")
	assert.Equal(t, Identity("alice@example.com"), snap.Messages[1].Sender)
	assert.Equal(t, Confirmed, snap.Messages[1].Delivery)
	assert.Equal(t, Unread, snap.Messages[1].ReadState)
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	s, _, tr := openSession(t, nil)

	tr.inbound <- []byte("{not json")
	tr.push(t, "alice@example.com", "still here", "")

	snap := waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "valid frame after garbage")
	assert.Equal(t, "still here", snap.Messages[0].Body)
	assert.Equal(t, StateOpen, snap.State)
}

func TestMessagesKeepArrivalOrder(t *testing.T) {
	s, _, tr := openSession(t, nil)

	tr.push(t, "alice@example.com", "one", "")
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "one")
	require.NoError(t, s.Send("two"))
	tr.push(t, "alice@example.com", "three", "")

	snap := waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 3 }, "three")
	var bodies []string
	for _, m := range snap.Messages {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"one", "two", "three"}, bodies)
}

// ---------------------------------------------------------------
// History
// ---------------------------------------------------------------

func TestHistorySplicedAheadOfLiveMessages(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		byPeer: map[Identity][]Message{
			"alice@example.com": {
				{Body: "old 1", Sender: "alice@example.com", Delivery: Confirmed},
				{Body: "old 2", Sender: self, Delivery: Confirmed},
			},
		},
		release: map[Identity]chan struct{}{"alice@example.com": gate},
	}
	s, _, tr := openSession(t, h)

	tr.push(t, "alice@example.com", "live", "")
	snap := waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "live message visible before history")
	assert.False(t, snap.HistoryLoaded)

	close(gate)
	snap = waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history loaded")

	var bodies []string
	for _, m := range snap.Messages {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"old 1", "old 2", "live"}, bodies)
}

func TestHistoryDropsReplayedLiveMessages(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		byPeer: map[Identity][]Message{
			"alice@example.com": {
				{Body: "ok", Sender: "alice@example.com", Delivery: Confirmed},
				{Body: "earlier", Sender: self, Delivery: Confirmed},
				{Body: "ok", Sender: "alice@example.com", Delivery: Confirmed},
			},
		},
		release: map[Identity]chan struct{}{"alice@example.com": gate},
	}
	s, _, tr := openSession(t, h)

	// The gateway stored this one before answering the history request.
	tr.push(t, "alice@example.com", "ok", "")
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "live")

	close(gate)
	snap := waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history loaded")
	assert.Len(t, snap.Messages, 3, "the replayed live copy is dropped, older identical bodies are kept")

	// Live traffic after history resolved is never deduplicated.
	tr.push(t, "alice@example.com", "ok", "")
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 4 }, "later duplicate body kept")
}

func TestHistoryKeepsNewMessageRepeatingLastBody(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		byPeer: map[Identity][]Message{
			"alice@example.com": {
				{ID: 7, Body: "ok", Sender: "alice@example.com", Delivery: Confirmed},
			},
		},
		release: map[Identity]chan struct{}{"alice@example.com": gate},
	}
	s, _, tr := openSession(t, h)

	tr.pushFrame(t, inboundFrame{ID: 8, Sender: "alice@example.com", Message: "ok"})
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "live")

	close(gate)
	snap := waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history loaded")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, []int64{7, 8}, []int64{snap.Messages[0].ID, snap.Messages[1].ID})
}

func TestHistoryDropsReplayedLiveMessageByID(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		byPeer: map[Identity][]Message{
			"alice@example.com": {
				{ID: 7, Body: "ok", Sender: "alice@example.com", Delivery: Confirmed},
				{ID: 8, Body: "hi", Sender: self, Delivery: Confirmed},
			},
		},
		release: map[Identity]chan struct{}{"alice@example.com": gate},
	}
	s, _, tr := openSession(t, h)

	require.NoError(t, s.Send("hi"))
	clientID := waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "optimistic").Messages[0].ClientID
	tr.pushFrame(t, inboundFrame{ID: 8, Sender: string(self), Message: "hi", ClientID: clientID})
	waitFor(t, s, func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == 8
	}, "echo records the stored id")

	close(gate)
	snap := waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history loaded")
	assert.Equal(t, []string{"ok", "hi"}, bodies(snap.Messages))
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	aliceGate := make(chan struct{})
	h := &fakeHistory{
		byPeer: map[Identity][]Message{
			"alice@example.com": {{Body: "alice history", Sender: "alice@example.com"}},
			"bob@example.com":   {{Body: "bob history", Sender: "bob@example.com"}},
		},
		release: map[Identity]chan struct{}{"alice@example.com": aliceGate},
	}
	d := openDialer()
	s := newTestSession(t, Options{}, d, h)

	s.SetPeer("alice@example.com")
	s.SetPeer("bob@example.com")
	waitFor(t, s, func(s Snapshot) bool { return s.Peer == "bob@example.com" && s.HistoryLoaded }, "bob history")

	close(aliceGate)
	require.Eventually(t, func() bool { return h.Calls() == 2 }, time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "bob history", snap.Messages[0].Body)
}

func TestHistoryFailureIsSurfacedSeparately(t *testing.T) {
	h := &fakeHistory{err: errors.New("502 bad gateway")}
	s, _, tr := openSession(t, h)

	snap := waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history resolved")
	assert.ErrorIs(t, snap.HistoryErr, ErrHistoryUnavailable)
	assert.NoError(t, snap.Err)
	assert.Equal(t, StateOpen, snap.State)

	tr.push(t, "alice@example.com", "live still works", "")
	waitFor(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 }, "live")
}

func TestUserRetryDoesNotRefetchHistory(t *testing.T) {
	h := &fakeHistory{}
	s, _, tr := openSession(t, h)
	waitFor(t, s, func(s Snapshot) bool { return s.HistoryLoaded }, "history")

	tr.closeRemote(CloseNormal)
	waitFor(t, s, stateIs(StateClosed), "closed")
	s.Retry()
	waitFor(t, s, stateIs(StateOpen), "reopened")

	assert.Equal(t, 1, h.Calls())
}

func TestChangesSignals(t *testing.T) {
	s, _, tr := openSession(t, nil)

	// Drain whatever is pending from the connect.
	select {
	case <-s.Changes():
	default:
	}

	tr.push(t, "alice@example.com", "ping", "")
	select {
	case <-s.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
