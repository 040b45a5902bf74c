package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/protocol"
)

// fakeBackend is a scripted session host. script runs on the server's read
// goroutine for every client frame.
type fakeBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	pingFailures atomic.Int32
	probes       atomic.Int32
	pingBlock    atomic.Bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	writeMu  sync.Mutex
	received chan protocol.Message
	script   func(b *fakeBackend, c *websocket.Conn, msg protocol.Message)
}

func newFakeBackend(t *testing.T, script func(b *fakeBackend, c *websocket.Conn, msg protocol.Message)) *fakeBackend {
	t.Helper()
	b := &fakeBackend{received: make(chan protocol.Message, 64), script: script}
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		b.probes.Add(1)
		if b.pingBlock.Load() {
			<-r.Context().Done()
			return
		}
		if b.pingFailures.Load() > 0 {
			b.pingFailures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/terminal/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, c)
		b.mu.Unlock()
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			b.received <- msg
			if b.script != nil {
				b.script(b, c, msg)
			}
		}
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) endpoint() Endpoint {
	ws := "ws" + strings.TrimPrefix(b.srv.URL, "http")
	return Endpoint{URL: ws + "/terminal/ws", PingURL: b.srv.URL + "/sessions", WorkspaceRoot: "/work"}
}

func (b *fakeBackend) write(c *websocket.Conn, msg protocol.Message) {
	data, _ := protocol.Encode(msg)
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = c.WriteMessage(websocket.TextMessage, data)
}

func (b *fakeBackend) writeRaw(c *websocket.Conn, raw string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = c.WriteMessage(websocket.TextMessage, []byte(raw))
}

func (b *fakeBackend) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.conns = nil
}

func (b *fakeBackend) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-b.received:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("backend received nothing")
		return protocol.Message{}
	}
}

// recorder collects what the manager hands to its observer.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) add(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

func newTestManager(t *testing.T, b *fakeBackend, rec *recorder) *Manager {
	t.Helper()
	m := New(Options{
		Endpoint:      b.endpoint(),
		ClientID:      "client-1",
		RetryInterval: 20 * time.Millisecond,
		CreateTimeout: 300 * time.Millisecond,
		OnMessage:     rec.add,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitSynced(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.WaitState(ctx, func(s State) bool { return s.TransportOpen && s.DirectorySynced }))
}

func replyBootList(terms ...protocol.Terminal) func(*fakeBackend, *websocket.Conn, protocol.Message) {
	return func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		if msg.Type == protocol.TypeList {
			b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID, Terminals: terms})
		}
	}
}

func TestProbeFailsThenConnects(t *testing.T) {
	b := newFakeBackend(t, replyBootList(
		protocol.Terminal{ID: "a", Title: "shellA"},
		protocol.Terminal{ID: "b", Title: "shellA"},
	))
	b.pingFailures.Store(2)
	rec := &recorder{}
	m := newTestManager(t, b, rec)

	assert.ErrorIs(t, m.Send(protocol.Input("a", "x")), ErrNotConnected)
	require.NoError(t, m.Start())

	first := b.next(t)
	assert.Equal(t, protocol.TypeList, first.Type)
	assert.Equal(t, protocol.BootRequestID, first.RequestID)

	waitSynced(t, m)
	assert.GreaterOrEqual(t, b.probes.Load(), int32(3))
	require.Equal(t, []string{protocol.TypeList}, rec.types())
	assert.Len(t, rec.msgs[0].Terminals, 2)
}

func TestStartWithoutProbe(t *testing.T) {
	b := newFakeBackend(t, replyBootList())
	rec := &recorder{}
	ep := b.endpoint()
	ep.PingURL = ""
	m := New(Options{Endpoint: ep, RetryInterval: 20 * time.Millisecond, OnMessage: rec.add})
	defer m.Close()

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	waitSynced(t, m)
	assert.Zero(t, b.probes.Load())
}

func TestCreateResolvesAfterObserver(t *testing.T) {
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeList:
			b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID})
		case protocol.TypeCreate:
			b.write(c, protocol.Message{
				Type: protocol.TypeCreated, RequestID: msg.RequestID,
				ID: "c", PID: 42, Title: "bash", Profile: msg.Profile, Cwd: msg.Cwd,
			})
		}
	})
	rec := &recorder{}
	m := newTestManager(t, b, rec)
	require.NoError(t, m.Start())
	waitSynced(t, m)

	term, err := m.Create(context.Background(), CreateRequest{Profile: "bash", Cwd: "/work", Cols: 80, Rows: 24, Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	assert.Equal(t, protocol.Terminal{ID: "c", PID: 42, Title: "bash", Profile: protocol.ProfileBash, Cwd: "/work"}, term)
	assert.Equal(t, []string{protocol.TypeList, protocol.TypeCreated}, rec.types())

	b.next(t)
	sent := b.next(t)
	assert.Equal(t, protocol.TypeCreate, sent.Type)
	assert.Equal(t, 80, sent.Cols)
	assert.Equal(t, map[string]string{"A": "1"}, sent.Env)
}

func TestCreateTimesOut(t *testing.T) {
	b := newFakeBackend(t, replyBootList())
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	start := time.Now()
	_, err := m.Create(context.Background(), CreateRequest{Profile: "cmd"})
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestCreateNotConnected(t *testing.T) {
	b := newFakeBackend(t, nil)
	m := newTestManager(t, b, &recorder{})
	_, err := m.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCreateBackendError(t *testing.T) {
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeList:
			b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID})
		case protocol.TypeCreate:
			b.write(c, protocol.Message{Type: protocol.TypeError, RequestID: msg.RequestID, Message: "spawn failed"})
		}
	})
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	_, err := m.Create(context.Background(), CreateRequest{})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "spawn failed", be.Message)
}

func TestCreateFailsWhenTransportDrops(t *testing.T) {
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeList:
			b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID})
		case protocol.TypeCreate:
			_ = c.Close()
		}
	})
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	_, err := m.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMalformedFramesDropped(t *testing.T) {
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		if msg.Type != protocol.TypeList {
			return
		}
		b.writeRaw(c, "not json")
		b.writeRaw(c, `{"type":"bogus"}`)
		b.writeRaw(c, `{"type":"data"}`)
		b.write(c, protocol.Message{Type: protocol.TypeHello, Version: 1})
		b.write(c, protocol.Message{Type: protocol.TypeData, ID: "a", Data: "hi"})
		b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID})
	})
	rec := &recorder{}
	m := newTestManager(t, b, rec)
	require.NoError(t, m.Start())
	waitSynced(t, m)

	assert.Equal(t, []string{protocol.TypeHello, protocol.TypeData, protocol.TypeList}, rec.types())
}

func TestReconnectAfterDrop(t *testing.T) {
	b := newFakeBackend(t, replyBootList(protocol.Terminal{ID: "a"}))
	var mu sync.Mutex
	var states []State
	m := New(Options{
		Endpoint:      b.endpoint(),
		RetryInterval: 20 * time.Millisecond,
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer m.Close()
	require.NoError(t, m.Start())
	waitSynced(t, m)
	require.Equal(t, protocol.BootRequestID, b.next(t).RequestID)

	b.dropAll()
	assert.Equal(t, protocol.BootRequestID, b.next(t).RequestID, "reconnect issues a fresh boot list")
	waitSynced(t, m)

	synced := State{TransportOpen: true, DirectorySynced: true}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == synced
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, State{}, "drop clears the synced flag")
}

func TestRefreshSharesRequest(t *testing.T) {
	var lists atomic.Int32
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		if msg.Type != protocol.TypeList {
			return
		}
		if msg.RequestID != protocol.BootRequestID {
			lists.Add(1)
			time.Sleep(100 * time.Millisecond)
		}
		b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID,
			Terminals: []protocol.Terminal{{ID: "a"}}})
	})
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	var wg sync.WaitGroup
	results := make([][]protocol.Terminal, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			terms, err := m.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = terms
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), lists.Load())
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, "a", results[0][0].ID)
}

func TestRefreshSurvivesFirstCallerCancel(t *testing.T) {
	var lists atomic.Int32
	started := make(chan struct{}, 1)
	b := newFakeBackend(t, func(b *fakeBackend, c *websocket.Conn, msg protocol.Message) {
		if msg.Type != protocol.TypeList {
			return
		}
		if msg.RequestID != protocol.BootRequestID {
			lists.Add(1)
			started <- struct{}{}
			time.Sleep(150 * time.Millisecond)
		}
		b.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID,
			Terminals: []protocol.Terminal{{ID: "a"}}})
	})
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx)
		firstErr <- err
	}()
	<-started

	second := make(chan []protocol.Terminal, 1)
	go func() {
		terms, err := m.Refresh(context.Background())
		assert.NoError(t, err)
		second <- terms
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	select {
	case terms := <-second:
		require.Len(t, terms, 1)
		assert.Equal(t, "a", terms[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got the snapshot")
	}
	assert.Equal(t, int32(1), lists.Load())
}

func TestReconnectAbortsProbe(t *testing.T) {
	b := newFakeBackend(t, replyBootList())
	b.pingBlock.Store(true)
	m := New(Options{Endpoint: b.endpoint(), ProbeTimeout: 10 * time.Second})
	defer m.Close()
	require.NoError(t, m.Start())

	require.Eventually(t, func() bool { return b.probes.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	b.pingBlock.Store(false)
	start := time.Now()
	require.NoError(t, m.Reconnect(b.endpoint()))
	assert.Less(t, time.Since(start), 2*time.Second)
	waitSynced(t, m)
}

func TestCloseFailsCallers(t *testing.T) {
	b := newFakeBackend(t, replyBootList())
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err := m.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Start(), ErrClosed)
	assert.ErrorIs(t, m.WaitState(context.Background(), func(s State) bool { return s.TransportOpen }), ErrClosed)
}

func TestTransportURL(t *testing.T) {
	got, err := TransportURL("ws://127.0.0.1:8000/terminal/ws", "/home/me/proj", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8000/terminal/ws?clientId=abc&workspaceRoot=%2Fhome%2Fme%2Fproj", got)

	_, err = TransportURL("://bad", "", "")
	assert.Error(t, err)
}

func TestStopThenStartAgain(t *testing.T) {
	b := newFakeBackend(t, replyBootList())
	m := newTestManager(t, b, &recorder{})
	require.NoError(t, m.Start())
	waitSynced(t, m)

	m.Stop()
	assert.Equal(t, State{}, m.State())
	assert.ErrorIs(t, m.Send(protocol.Input("a", "x")), ErrNotConnected)

	require.NoError(t, m.Start())
	waitSynced(t, m)
}
