// Package workbench is the terminal multiplexer: it ties the connection
// manager, the session directory, the split layout and one emulator per
// session together, and exposes the actions a host UI drives.
package workbench

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/termdeck/termdeck/internal/clipboard"
	"github.com/termdeck/termdeck/internal/conn"
	"github.com/termdeck/termdeck/internal/directory"
	"github.com/termdeck/termdeck/internal/emulator"
	"github.com/termdeck/termdeck/internal/frame"
	"github.com/termdeck/termdeck/internal/layout"
	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/profile"
	"github.com/termdeck/termdeck/internal/protocol"
	"github.com/termdeck/termdeck/internal/statedb"
)

var wbLog = logging.ForComponent(logging.CompWorkbench)

var (
	// ErrNoActiveSession is returned by actions that need an active session.
	ErrNoActiveSession = errors.New("workbench: no active session")
	// ErrUnknownSession is returned for ids missing from the directory.
	ErrUnknownSession = errors.New("workbench: unknown session")
)

// Event tells the host UI what changed.
type Event int

const (
	EventDirectory Event = iota
	EventLayout
	EventOutput
	EventConnection
	EventFind
	EventError
)

// Settings are applied to emulators created from now on.
type Settings struct {
	Scrollback int
	ConvertEOL bool
	Cols       int
	Rows       int
}

// DefaultSettings matches a fresh 80x24 terminal.
func DefaultSettings() Settings {
	return Settings{
		Scrollback: emulator.DefaultScrollback,
		ConvertEOL: true,
		Cols:       emulator.DefaultCols,
		Rows:       emulator.DefaultRows,
	}
}

// Options configures a Workbench.
type Options struct {
	// Conn configures the transport. OnMessage and OnState are overwritten.
	Conn conn.Options
	// StateURL is the remote workspace state endpoint. Empty disables sync.
	StateURL       string
	HTTPClient     *http.Client
	DB             *statedb.StateDB
	Profiles       *profile.Store
	DefaultProfile protocol.Profile
	Settings       Settings
	Clipboard      clipboard.Clipboard
	// FPS bounds resize and redraw work. Zero uses frame.DefaultFPS.
	FPS int
	// OnChange is called without locks held, possibly from background
	// goroutines.
	OnChange func(Event)
}

// Workbench is safe for concurrent use. Inbound frames are applied on the
// connection's reader goroutine in arrival order.
type Workbench struct {
	opts     Options
	mgr      *conn.Manager
	dir      *directory.Directory
	layout   *layout.Engine
	frames   *frame.Scheduler
	profiles *profile.Store
	clip     clipboard.Clipboard
	remote   *remoteSync
	db       *statedb.StateDB
	meta     atomic.Pointer[statedb.WorkspaceStore]

	mu             sync.Mutex
	root           string
	active         string
	scrollLock     bool
	find           FindState
	records        map[string]*record
	settings       Settings
	defaultProfile protocol.Profile
	drag           *layout.Drag
	dragRatio      float64
	lastError      string
	closed         bool
}

// New builds a stopped Workbench. Call Start to load state and connect.
func New(opts Options) *Workbench {
	if opts.Profiles == nil {
		opts.Profiles = profile.NewStore()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = &clipboard.Memory{}
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = opts.Conn.HTTPClient
	}

	w := &Workbench{
		opts:           opts,
		layout:         layout.New(layout.DefaultPrefs()),
		frames:         frame.New(opts.FPS),
		profiles:       opts.Profiles,
		clip:           opts.Clipboard,
		db:             opts.DB,
		root:           opts.Conn.Endpoint.WorkspaceRoot,
		records:        make(map[string]*record),
		settings:       normalizeSettings(opts.Settings),
		defaultProfile: protocol.NormalizeProfile(string(opts.DefaultProfile)),
	}
	w.find.ResultIndex = -1
	w.dir = directory.New(w.titleOverride)
	w.remote = newRemoteSync(opts.HTTPClient, opts.StateURL)
	if w.db != nil {
		w.meta.Store(w.db.Workspace(w.root))
	}

	copts := opts.Conn
	copts.OnMessage = w.handleMessage
	copts.OnState = w.handleState
	w.mgr = conn.New(copts)
	return w
}

func normalizeSettings(s Settings) Settings {
	if s.Scrollback <= 0 {
		s.Scrollback = emulator.DefaultScrollback
	}
	s.Scrollback = emulator.ClampScrollback(s.Scrollback)
	if s.Cols <= 0 {
		s.Cols = emulator.DefaultCols
	}
	if s.Rows <= 0 {
		s.Rows = emulator.DefaultRows
	}
	return s
}

// Start loads persisted and remote state for the workspace, then starts
// connecting. Remote state failures are logged, not returned.
func (w *Workbench) Start(ctx context.Context) error {
	w.loadPersisted()
	w.loadRemote(ctx, w.WorkspaceRoot())
	return w.mgr.Start()
}

// Close stops the transport and releases every emulator. A pending remote
// state save is sent first.
func (w *Workbench) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.frames.Close()
	w.remote.flush(context.Background(), w.WorkspaceRoot())
	err := w.mgr.Close()

	w.mu.Lock()
	for id, rec := range w.records {
		rec.release()
		delete(w.records, id)
	}
	w.mu.Unlock()
	return err
}

// SwitchWorkspace drops every session, pending request and emulator, then
// reconnects for the new workspace root.
func (w *Workbench) SwitchWorkspace(ctx context.Context, root string) error {
	ep := w.mgr.Endpoint()
	if ep.WorkspaceRoot == root {
		return nil
	}
	ep.WorkspaceRoot = root

	// No frame of the old workspace may land after the reset below.
	w.mgr.Stop()
	w.remote.flush(ctx, w.WorkspaceRoot())
	w.remote.cancel()

	w.dir.Reset()
	w.layout.Collapse()

	w.mu.Lock()
	w.root = root
	w.active = ""
	w.scrollLock = false
	w.find = FindState{ResultIndex: -1}
	w.drag = nil
	w.lastError = ""
	for id, rec := range w.records {
		rec.release()
		delete(w.records, id)
	}
	w.mu.Unlock()

	if w.db != nil {
		w.meta.Store(w.db.Workspace(root))
	}
	w.layout.SetPrefs(layout.DefaultPrefs())
	w.loadPersisted()
	w.loadRemote(ctx, root)

	wbLog.Info("workspace_switch", slog.String("root", root))
	w.notify(EventDirectory)
	return w.mgr.Reconnect(ep)
}

// WorkspaceRoot returns the current workspace identity.
func (w *Workbench) WorkspaceRoot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// ConnState returns the connection state.
func (w *Workbench) ConnState() conn.State {
	return w.mgr.State()
}

// WaitState blocks until cond holds for the connection state.
func (w *Workbench) WaitState(ctx context.Context, cond func(conn.State) bool) error {
	return w.mgr.WaitState(ctx, cond)
}

// Sessions returns the directory in local order.
func (w *Workbench) Sessions() []directory.Session {
	return w.dir.List()
}

// Session returns one directory entry.
func (w *Workbench) Session(id string) (directory.Session, bool) {
	return w.dir.Get(id)
}

// Active returns the active session id, or "".
func (w *Workbench) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Terminal returns the emulator of a session.
func (w *Workbench) Terminal(id string) *emulator.Terminal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.records[id]; ok {
		return rec.term
	}
	return nil
}

// ExitCode reports the exit code of a session whose process ended.
func (w *Workbench) ExitCode(id string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[id]
	if !ok || !rec.exited {
		return 0, false
	}
	return rec.exitCode, true
}

// LastError returns the last error reported by the backend outside a request.
func (w *Workbench) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

// DefaultProfile returns the profile used for new sessions.
func (w *Workbench) DefaultProfile() protocol.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.defaultProfile
}

// SetDefaultProfile changes the profile used for new sessions.
func (w *Workbench) SetDefaultProfile(p protocol.Profile) {
	w.mu.Lock()
	w.defaultProfile = protocol.NormalizeProfile(string(p))
	w.mu.Unlock()
	w.saveRemote()
}

// SetProfileEnvText replaces a profile's env text. Existing sessions keep
// the environment they were created with.
func (w *Workbench) SetProfileEnvText(p protocol.Profile, text string) {
	p = protocol.NormalizeProfile(string(p))
	w.profiles.SetEnvText(p, text)
	if st := w.meta.Load(); st != nil {
		if err := st.SaveProfileEnv(string(p), text); err != nil {
			wbLog.Warn("profile_env_save_failed", slog.String("error", err.Error()))
		}
	}
	w.saveRemote()
}

// Settings returns the emulator settings for new sessions.
func (w *Workbench) Settings() Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

// SetSettings changes the emulator settings for new sessions.
func (w *Workbench) SetSettings(s Settings) {
	w.mu.Lock()
	w.settings = normalizeSettings(s)
	w.mu.Unlock()
	w.saveRemote()
}

func (w *Workbench) titleOverride(id string) (string, bool) {
	st := w.meta.Load()
	if st == nil {
		return "", false
	}
	rec, ok, err := st.SessionMeta(id)
	if err != nil {
		wbLog.Warn("session_meta_load_failed", slog.String("id", id), slog.String("error", err.Error()))
		return "", false
	}
	return rec.Title, ok && rec.Title != ""
}

func (w *Workbench) loadPersisted() {
	st := w.meta.Load()
	if st == nil {
		return
	}
	if prefs, ok, err := st.SplitPrefs(); err != nil {
		wbLog.Warn("split_prefs_load_failed", slog.String("error", err.Error()))
	} else if ok {
		w.layout.SetPrefs(layout.Prefs{
			Orientation: layout.ParseOrientation(prefs.Orientation),
			Ratio:       prefs.Ratio,
		})
	}
	texts, err := st.ProfileEnv()
	if err != nil {
		wbLog.Warn("profile_env_load_failed", slog.String("error", err.Error()))
		return
	}
	for p, text := range texts {
		w.profiles.SetEnvText(protocol.Profile(p), text)
	}
}

func (w *Workbench) persistPrefs() {
	prefs := w.layout.Prefs()
	if st := w.meta.Load(); st != nil {
		err := st.SaveSplitPrefs(statedb.SplitPrefs{Orientation: string(prefs.Orientation), Ratio: prefs.Ratio})
		if err != nil {
			wbLog.Warn("split_prefs_save_failed", slog.String("error", err.Error()))
		}
	}
	w.saveRemote()
}

func (w *Workbench) notify(ev Event) {
	if w.opts.OnChange != nil {
		w.opts.OnChange(ev)
	}
}

func (w *Workbench) handleState(conn.State) {
	w.notify(EventConnection)
}
