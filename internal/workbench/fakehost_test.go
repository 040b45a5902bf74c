package workbench

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/conn"
	"github.com/termdeck/termdeck/internal/protocol"
)

// fakeHost is a scripted session host. Sessions are scoped by the
// workspaceRoot query parameter of the websocket.
type fakeHost struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	writeMu   sync.Mutex
	nextID    int
	sessions  map[string][]protocol.Terminal
	conns     map[*websocket.Conn]string
	received  []protocol.Message
	state     map[string][]byte
	statePuts []string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{
		sessions: make(map[string][]protocol.Terminal),
		conns:    make(map[*websocket.Conn]string),
		state:    make(map[string][]byte),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/terminal/state", h.handleState)
	mux.HandleFunc("/terminal/ws", h.handleWS)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) endpoint(root string) conn.Endpoint {
	ws := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	return conn.Endpoint{URL: ws + "/terminal/ws", PingURL: h.srv.URL + "/sessions", WorkspaceRoot: root}
}

func (h *fakeHost) stateURL() string { return h.srv.URL + "/terminal/state" }

func (h *fakeHost) seed(root string, terms ...protocol.Terminal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[root] = append(h.sessions[root], terms...)
}

func (h *fakeHost) handleState(w http.ResponseWriter, r *http.Request) {
	root := r.Header.Get("x-workspace-root")
	h.mu.Lock()
	defer h.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		raw, ok := h.state[root]
		if !ok {
			raw = []byte(`{}`)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	case http.MethodPut:
		raw, _ := io.ReadAll(r.Body)
		h.state[root] = raw
		h.statePuts = append(h.statePuts, root)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *fakeHost) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	root := r.URL.Query().Get("workspaceRoot")
	h.mu.Lock()
	h.conns[c] = root
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		_ = c.Close()
	}()

	h.write(c, protocol.Message{Type: protocol.TypeHello, Version: 1})
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		h.mu.Lock()
		h.received = append(h.received, msg)
		h.mu.Unlock()
		h.reply(c, root, msg)
	}
}

func (h *fakeHost) reply(c *websocket.Conn, root string, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeList:
		h.mu.Lock()
		terms := append([]protocol.Terminal(nil), h.sessions[root]...)
		h.mu.Unlock()
		h.write(c, protocol.Message{Type: protocol.TypeList, RequestID: msg.RequestID, Terminals: terms})
	case protocol.TypeCreate:
		h.mu.Lock()
		h.nextID++
		t := protocol.Terminal{
			ID:      fmt.Sprintf("s%d", h.nextID),
			PID:     1000 + h.nextID,
			Title:   string(msg.Profile),
			Profile: msg.Profile,
			Cwd:     msg.Cwd,
		}
		h.sessions[root] = append(h.sessions[root], t)
		h.mu.Unlock()
		h.write(c, protocol.Message{
			Type: protocol.TypeCreated, RequestID: msg.RequestID,
			ID: t.ID, PID: t.PID, Title: t.Title, Profile: t.Profile, Cwd: t.Cwd,
		})
	case protocol.TypeDispose:
		h.mu.Lock()
		list := h.sessions[root]
		for i, t := range list {
			if t.ID == msg.ID {
				h.sessions[root] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		h.write(c, protocol.Message{Type: protocol.TypeDisposed, ID: msg.ID})
	}
}

func (h *fakeHost) write(c *websocket.Conn, msg protocol.Message) {
	data, _ := json.Marshal(msg)
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = c.WriteMessage(websocket.TextMessage, data)
}

// push sends a frame to every client of a workspace.
func (h *fakeHost) push(root string, msg protocol.Message) {
	h.mu.Lock()
	var targets []*websocket.Conn
	for c, r := range h.conns {
		if r == root {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.write(c, msg)
	}
}

// frames returns the received frames of one type.
func (h *fakeHost) frames(typ string) []protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []protocol.Message
	for _, m := range h.received {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHost) storedState(root string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state[root]
}

func startWorkbench(t *testing.T, h *fakeHost, root string, mutate func(*Options)) *Workbench {
	t.Helper()
	opts := Options{
		Conn: conn.Options{
			Endpoint:      h.endpoint(root),
			ClientID:      "test",
			RetryInterval: 20 * time.Millisecond,
			CreateTimeout: 2 * time.Second,
		},
		StateURL: h.stateURL(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	w := New(opts)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Start(t.Context()))
	waitSynced(t, w)
	return w
}

func waitSynced(t *testing.T, w *Workbench) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := w.ConnState()
		return st.TransportOpen && st.DirectorySynced
	}, 5*time.Second, 10*time.Millisecond)
}
