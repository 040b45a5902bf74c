package ptyhost

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/termdeck/termdeck/internal/protocol"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

// allowWSOrigin accepts non-browser clients (no Origin) and same-host pages.
func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

// client owns the sessions created over one websocket.
type client struct {
	server *Server
	out    *wsConnWriter

	mu       sync.Mutex
	sessions map[string]*ptySession
	order    []string // creation order
}

func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		hostLog.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	c := &client{
		server:   s,
		out:      &wsConnWriter{conn: conn},
		sessions: make(map[string]*ptySession),
	}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		c.disposeAll()
	}()

	hostLog.Info("ws_open",
		slog.String("client_id", r.URL.Query().Get("clientId")),
		slog.String("workspace", r.URL.Query().Get("workspaceRoot")))

	ctx := r.Context()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	c.send(protocol.Message{Type: protocol.TypeHello, Version: 1})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				hostLog.Debug("ws_read_closed", slog.String("error", err.Error()))
			}
			return
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			c.send(protocol.Message{Type: protocol.TypeError, Message: "Invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) send(m protocol.Message) {
	if err := c.out.WriteJSON(m); err != nil {
		hostLog.Debug("ws_write_failed", slog.String("type", m.Type), slog.String("error", err.Error()))
	}
}

func (c *client) handle(m protocol.Message) {
	switch m.Type {
	case protocol.TypeList:
		c.send(protocol.Message{Type: protocol.TypeList, RequestID: m.RequestID, Terminals: c.list()})
	case protocol.TypeCreate:
		c.create(m)
	case protocol.TypeInput:
		if sess := c.get(m.ID); sess != nil {
			sess.WriteInput([]byte(m.Data))
		}
	case protocol.TypeResize:
		if sess := c.get(m.ID); sess != nil {
			sess.Resize(safeSize(m.Cols, 80), safeSize(m.Rows, 24))
		}
	case protocol.TypeDispose:
		c.dispose(m.ID)
	default:
		c.send(protocol.Message{Type: protocol.TypeError, RequestID: m.RequestID, Message: "Invalid message"})
	}
}

func (c *client) create(m protocol.Message) {
	profile := protocol.NormalizeProfile(string(m.Profile))
	shell := c.server.pickShell(profile)
	cwd := sanitizeCwd(m.Cwd)
	id := uuid.NewString()

	sess, err := startSession(sessionSpec{
		ID:      id,
		Profile: profile,
		Shell:   shell,
		Cwd:     cwd,
		Cols:    safeSize(m.Cols, 80),
		Rows:    safeSize(m.Rows, 24),
		Env:     m.Env,
	}, c)
	if err != nil {
		hostLog.Warn("session_spawn_failed",
			slog.String("profile", string(profile)),
			slog.String("command", shell.Command),
			slog.String("error", err.Error()))
		c.send(protocol.Message{Type: protocol.TypeError, RequestID: m.RequestID, Message: err.Error()})
		return
	}

	c.mu.Lock()
	c.sessions[id] = sess
	c.order = append(c.order, id)
	c.mu.Unlock()

	hostLog.Info("session_created",
		slog.String("session_id", id),
		slog.Int("pid", sess.pid),
		slog.String("profile", string(profile)))

	// The reader starts after created is sent so data never precedes it.
	c.send(protocol.Message{
		Type:      protocol.TypeCreated,
		RequestID: m.RequestID,
		ID:        id,
		PID:       sess.pid,
		Profile:   profile,
		Cwd:       cwd,
		Title:     shell.Title,
	})
	sess.run()
}

func (c *client) get(id string) *ptySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

func (c *client) take(id string) *ptySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessions[id]
	if sess == nil {
		return nil
	}
	delete(c.sessions, id)
	c.order = slices.DeleteFunc(c.order, func(o string) bool { return o == id })
	return sess
}

// list describes the owned sessions in creation order.
func (c *client) list() []protocol.Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Terminal, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.sessions[id].describe())
	}
	return out
}

// dispose kills a session at the user's request. It reports false for
// unknown ids.
func (c *client) dispose(id string) bool {
	sess := c.take(id)
	if sess == nil {
		return false
	}
	sess.markDisposed()
	go sess.Close()
	c.send(protocol.Message{Type: protocol.TypeDisposed, ID: id})
	return true
}

func (c *client) disposeAll() {
	c.mu.Lock()
	all := make([]*ptySession, 0, len(c.order))
	for _, id := range c.order {
		all = append(all, c.sessions[id])
	}
	c.sessions = make(map[string]*ptySession)
	c.order = nil
	c.mu.Unlock()
	var wg sync.WaitGroup
	for _, sess := range all {
		sess.markDisposed()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Close()
		}()
	}
	wg.Wait()
}

// exited is called once the shell process ends on its own.
func (c *client) exited(sess *ptySession, code, signal int) {
	if c.take(sess.id) == nil {
		return
	}
	c.send(protocol.Message{Type: protocol.TypeExit, ID: sess.id, ExitCode: code, Signal: signal})
	c.send(protocol.Message{Type: protocol.TypeDisposed, ID: sess.id})
}
