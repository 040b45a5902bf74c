// Package conn owns the single multiplexed websocket to the session host:
// probe, connect, demultiplex inbound frames, and reconnect on a fixed
// interval when the transport drops.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/protocol"
)

var connLog = logging.ForComponent(logging.CompConn)

var (
	// ErrNotConnected is returned by Send while the transport is down.
	ErrNotConnected = errors.New("conn: not connected")
	// ErrRequestTimeout is returned when a correlated request gets no reply.
	ErrRequestTimeout = errors.New("conn: backend unresponsive")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("conn: manager closed")
)

// BackendError carries the message of an error frame answering a request.
type BackendError struct {
	RequestID string
	Message   string
}

func (e *BackendError) Error() string {
	return "conn: backend error: " + e.Message
}

// Defaults match a local, fast-recovering backend.
const (
	DefaultProbeTimeout  = 500 * time.Millisecond
	DefaultRetryInterval = 1200 * time.Millisecond
	DefaultCreateTimeout = 5000 * time.Millisecond
)

// Endpoint identifies the backend and the workspace the client works in.
type Endpoint struct {
	// URL is the websocket URL, e.g. ws://127.0.0.1:8000/terminal/ws.
	URL string
	// PingURL is probed before each connect attempt. Empty skips the probe.
	PingURL       string
	WorkspaceRoot string
}

// State is the connection state reported to observers.
type State struct {
	TransportOpen   bool
	DirectorySynced bool
}

// Options configures a Manager.
type Options struct {
	Endpoint      Endpoint
	ClientID      string
	ProbeTimeout  time.Duration
	RetryInterval time.Duration
	CreateTimeout time.Duration
	HTTPClient    *http.Client
	Dialer        *websocket.Dialer

	// OnMessage receives every decoded inbound frame on the reader goroutine,
	// in arrival order. It must not block for long.
	OnMessage func(protocol.Message)
	// OnState receives connection state changes.
	OnState func(State)
}

type reply struct {
	msg protocol.Message
	err error
}

// Manager is safe for concurrent use.
type Manager struct {
	opts Options

	mu       sync.Mutex
	endpoint Endpoint
	writer   *wsConnWriter
	state    State
	changed  chan struct{}
	pending  map[string]chan reply
	started  bool
	closed   bool

	cycleCancel context.CancelFunc
	cycleDone   chan struct{}

	refresh singleflight.Group
}

// New returns a stopped Manager. Call Start to begin connecting.
func New(opts Options) *Manager {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = DefaultCreateTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	return &Manager{
		opts:     opts,
		endpoint: opts.Endpoint,
		changed:  make(chan struct{}),
		pending:  make(map[string]chan reply),
	}
}

// Start begins the probe-then-connect cycle.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	m.started = true
	m.startCycleLocked()
	return nil
}

func (m *Manager) startCycleLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cycleCancel = cancel
	m.cycleDone = done
	ep := m.endpoint
	go func() {
		defer close(done)
		m.run(ctx, ep)
	}()
}

// stopCycle cancels the running cycle, aborting an in-flight probe or
// closing the open transport, and waits for it to exit.
func (m *Manager) stopCycle() {
	m.mu.Lock()
	cancel, done := m.cycleCancel, m.cycleDone
	m.cycleCancel, m.cycleDone = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Stop drops the current cycle without starting another. Pending requests
// fail with ErrNotConnected. Start or Reconnect resumes.
func (m *Manager) Stop() {
	m.stopCycle()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPendingLocked(ErrNotConnected)
	m.started = false
}

// Reconnect drops the current cycle and starts a new one against ep. Pending
// requests fail with ErrNotConnected.
func (m *Manager) Reconnect(ep Endpoint) error {
	m.stopCycle()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.endpoint = ep
	m.failPendingLocked(ErrNotConnected)
	m.started = true
	m.startCycleLocked()
	connLog.Info("conn_reconnect", slog.String("workspace", ep.WorkspaceRoot))
	return nil
}

// Close stops the manager. Pending requests fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopCycle()

	m.mu.Lock()
	m.failPendingLocked(ErrClosed)
	m.mu.Unlock()
	return nil
}

// Endpoint returns the endpoint of the current cycle.
func (m *Manager) Endpoint() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WaitState blocks until cond holds for the connection state or ctx ends.
func (m *Manager) WaitState(ctx context.Context, cond func(State) bool) error {
	for {
		m.mu.Lock()
		st, ch, closed := m.state, m.changed, m.closed
		m.mu.Unlock()
		if cond(st) {
			return nil
		}
		if closed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (m *Manager) setState(update func(*State)) {
	m.mu.Lock()
	prev := m.state
	update(&m.state)
	next := m.state
	if prev != next {
		close(m.changed)
		m.changed = make(chan struct{})
	}
	m.mu.Unlock()

	if prev != next && m.opts.OnState != nil {
		m.opts.OnState(next)
	}
}

func (m *Manager) run(ctx context.Context, ep Endpoint) {
	for {
		if err := m.probe(ctx, ep); err != nil {
			connLog.Debug("conn_probe_failed", slog.String("error", err.Error()))
		} else if err := m.connect(ctx, ep); err != nil {
			connLog.Debug("conn_open_failed", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(m.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) probe(ctx context.Context, ep Endpoint) error {
	if ep.PingURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.PingURL, nil)
	if err != nil {
		return fmt.Errorf("conn: probe request: %w", err)
	}
	if ep.WorkspaceRoot != "" {
		req.Header.Set("x-workspace-root", ep.WorkspaceRoot)
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("conn: probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("conn: probe: status %d", resp.StatusCode)
	}
	return nil
}

// TransportURL adds the workspace and client identity to a websocket URL.
func TransportURL(raw, workspaceRoot, clientID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("conn: parse url: %w", err)
	}
	q := u.Query()
	if workspaceRoot != "" {
		q.Set("workspaceRoot", workspaceRoot)
	}
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) connect(ctx context.Context, ep Endpoint) error {
	target, err := TransportURL(ep.URL, ep.WorkspaceRoot, m.opts.ClientID)
	if err != nil {
		return err
	}
	c, _, err := m.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("conn: dial: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.Close()

	writer := newWSConnWriter(c)
	m.mu.Lock()
	m.writer = writer
	m.mu.Unlock()
	m.setState(func(s *State) { *s = State{TransportOpen: true} })
	connLog.Info("conn_open", slog.String("url", ep.URL))

	if err := m.Send(protocol.List(protocol.BootRequestID)); err != nil {
		connLog.Warn("conn_boot_list_failed", slog.String("error", err.Error()))
	}

	err = m.readLoop(c)

	m.mu.Lock()
	if m.writer == writer {
		m.writer = nil
	}
	m.failPendingLocked(ErrNotConnected)
	m.mu.Unlock()
	m.setState(func(s *State) { *s = State{} })

	if ctx.Err() == nil {
		connLog.Warn("conn_closed", slog.String("error", err.Error()))
	}
	return nil
}

func (m *Manager) readLoop(c *websocket.Conn) error {
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			connLog.Debug("conn_frame_dropped", slog.String("error", err.Error()))
			continue
		}
		m.dispatch(msg)
	}
}

// dispatch runs on the reader goroutine. The observer sees a frame before
// any waiter it resolves, so a created session is known by the time Create
// returns, and a snapshot is applied before the directory counts as synced.
func (m *Manager) dispatch(msg protocol.Message) {
	if m.opts.OnMessage != nil {
		m.opts.OnMessage(msg)
	}
	if msg.Type == protocol.TypeList {
		m.setState(func(s *State) { s.DirectorySynced = true })
	}
	if msg.RequestID == "" || msg.RequestID == protocol.BootRequestID {
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[msg.RequestID]
	if ok {
		delete(m.pending, msg.RequestID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if msg.Type == protocol.TypeError {
		ch <- reply{err: &BackendError{RequestID: msg.RequestID, Message: msg.Message}}
		return
	}
	ch <- reply{msg: msg}
}

func (m *Manager) failPendingLocked(err error) {
	for id, ch := range m.pending {
		ch <- reply{err: err}
		delete(m.pending, id)
	}
}

// Send writes one frame. It fails with ErrNotConnected while the transport
// is down; it never blocks waiting for a connection.
func (m *Manager) Send(msg protocol.Message) error {
	m.mu.Lock()
	w := m.writer
	m.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := w.WriteText(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// request sends a correlated frame and waits for its reply.
func (m *Manager) request(ctx context.Context, build func(requestID string) protocol.Message) (protocol.Message, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return protocol.Message{}, ErrClosed
	}
	m.pending[id] = ch
	m.mu.Unlock()

	forget := func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}

	if err := m.Send(build(id)); err != nil {
		forget()
		return protocol.Message{}, err
	}

	timer := time.NewTimer(m.opts.CreateTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-timer.C:
		forget()
		return protocol.Message{}, ErrRequestTimeout
	case <-ctx.Done():
		forget()
		return protocol.Message{}, ctx.Err()
	}
}

// CreateRequest describes a session to create.
type CreateRequest struct {
	Profile protocol.Profile
	Cwd     string
	Cols    int
	Rows    int
	Env     map[string]string
}

// Create asks the backend for a new session and waits for its
// acknowledgment. It does not retry.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (protocol.Terminal, error) {
	msg, err := m.request(ctx, func(id string) protocol.Message {
		return protocol.Create(id, protocol.NormalizeProfile(string(req.Profile)), req.Cwd, req.Cols, req.Rows, req.Env)
	})
	if err != nil {
		connLog.Warn("conn_create_failed", slog.String("error", err.Error()))
		return protocol.Terminal{}, err
	}
	if msg.Type != protocol.TypeCreated {
		return protocol.Terminal{}, fmt.Errorf("conn: create: unexpected %q reply: %w", msg.Type, protocol.ErrMalformed)
	}
	return msg.Terminal(), nil
}

// Refresh requests a directory snapshot. Concurrent callers share one
// request, bounded by the request timeout rather than any caller's ctx, so
// one caller giving up does not fail the others.
func (m *Manager) Refresh(ctx context.Context) ([]protocol.Terminal, error) {
	shared := context.WithoutCancel(ctx)
	ch := m.refresh.DoChan("list", func() (any, error) {
		msg, err := m.request(shared, protocol.List)
		if err != nil {
			return nil, err
		}
		return msg.Terminals, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]protocol.Terminal), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Input sends keystrokes or pasted text to a session.
func (m *Manager) Input(id, data string) error { return m.Send(protocol.Input(id, data)) }

// Resize reports a session's rendered size.
func (m *Manager) Resize(id string, cols, rows int) error {
	return m.Send(protocol.Resize(id, cols, rows))
}

// Dispose asks the backend to end a session.
func (m *Manager) Dispose(id string) error { return m.Send(protocol.Dispose(id)) }
