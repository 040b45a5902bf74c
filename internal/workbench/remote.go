package workbench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/termdeck/termdeck/internal/emulator"
	"github.com/termdeck/termdeck/internal/layout"
	"github.com/termdeck/termdeck/internal/protocol"
)

// remoteSaveDelay debounces state uploads.
const remoteSaveDelay = 500 * time.Millisecond

// RemoteState is the workspace document kept by the session host.
type RemoteState struct {
	Split     *RemoteSplit    `json:"split,omitempty"`
	Profiles  *RemoteProfiles `json:"profiles,omitempty"`
	Settings  *RemoteSettings `json:"settings,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
}

// RemoteSplit mirrors the split state. Only orientation and ratio are read
// back; the pane set is rebuilt from the live directory.
type RemoteSplit struct {
	Enabled     bool     `json:"enabled"`
	Orientation string   `json:"orientation"`
	Ratio       float64  `json:"ratio"`
	PaneIDs     []string `json:"paneIds"`
}

// RemoteProfiles holds the env text per profile and the default profile.
type RemoteProfiles struct {
	EnvText        map[string]string `json:"envText,omitempty"`
	DefaultProfile string            `json:"defaultProfile,omitempty"`
}

// RemoteSettings wraps the integrated terminal settings.
type RemoteSettings struct {
	Integrated *IntegratedSettings `json:"integrated,omitempty"`
}

// IntegratedSettings are the emulator settings shared through the host.
type IntegratedSettings struct {
	Scrollback *int  `json:"scrollback,omitempty"`
	ConvertEOL *bool `json:"convertEol,omitempty"`
}

type remoteSync struct {
	client *http.Client
	url    string

	mu      sync.Mutex
	timer   *time.Timer
	pending *RemoteState
	root    string
}

func newRemoteSync(client *http.Client, url string) *remoteSync {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &remoteSync{client: client, url: url}
}

func (r *remoteSync) enabled() bool { return r.url != "" }

// load fetches the workspace document. A missing or non-object document
// yields nil without error.
func (r *remoteSync) load(ctx context.Context, root string) (*RemoteState, error) {
	if !r.enabled() || root == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("workbench: state request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-workspace-root", root)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workbench: load state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("workbench: load state: status %d", resp.StatusCode)
	}
	var st RemoteState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, nil
	}
	return &st, nil
}

// schedule replaces the pending document and restarts the debounce timer.
func (r *remoteSync) schedule(root string, st RemoteState) {
	if !r.enabled() || root == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &st
	r.root = root
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(remoteSaveDelay, func() {
		r.flush(context.Background(), root)
	})
}

// flush sends the pending document now if it belongs to root.
func (r *remoteSync) flush(ctx context.Context, root string) {
	r.mu.Lock()
	st := r.pending
	if st == nil || r.root != root {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if err := r.put(ctx, root, *st); err != nil {
		wbLog.Debug("remote_state_save_failed", slog.String("error", err.Error()))
	}
}

// cancel drops a pending save.
func (r *remoteSync) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *remoteSync) put(ctx context.Context, root string, st RemoteState) error {
	st.UpdatedAt = time.Now().UnixMilli()
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-workspace-root", root)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// RemoteSnapshot builds the workspace document from the current state.
func (w *Workbench) RemoteSnapshot() RemoteState {
	st := w.layout.State()
	env := make(map[string]string, len(protocol.Profiles))
	for p, text := range w.profiles.Snapshot() {
		env[string(p)] = text
	}
	w.mu.Lock()
	scrollback, convert := w.settings.Scrollback, w.settings.ConvertEOL
	def := w.defaultProfile
	w.mu.Unlock()

	ids := st.PaneIDs
	if ids == nil {
		ids = []string{}
	}
	return RemoteState{
		Split: &RemoteSplit{
			Enabled:     st.Enabled,
			Orientation: string(st.Orientation),
			Ratio:       st.Ratio,
			PaneIDs:     ids,
		},
		Profiles: &RemoteProfiles{EnvText: env, DefaultProfile: string(def)},
		Settings: &RemoteSettings{Integrated: &IntegratedSettings{Scrollback: &scrollback, ConvertEOL: &convert}},
	}
}

func (w *Workbench) saveRemote() {
	w.remote.schedule(w.WorkspaceRoot(), w.RemoteSnapshot())
}

func (w *Workbench) loadRemote(ctx context.Context, root string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := w.remote.load(ctx, root)
	if err != nil {
		wbLog.Debug("remote_state_load_failed", slog.String("error", err.Error()))
		return
	}
	if st != nil {
		w.applyRemote(*st)
	}
}

// applyRemote takes the persisted subset of a workspace document.
func (w *Workbench) applyRemote(st RemoteState) {
	if sp := st.Split; sp != nil {
		prefs := w.layout.Prefs()
		if sp.Orientation != "" {
			prefs.Orientation = layout.ParseOrientation(sp.Orientation)
		}
		if sp.Ratio > 0 {
			prefs.Ratio = sp.Ratio
		}
		w.layout.SetPrefs(prefs)
	}
	if pr := st.Profiles; pr != nil {
		for _, p := range protocol.Profiles {
			if text, ok := pr.EnvText[string(p)]; ok {
				w.profiles.SetEnvText(p, text)
			}
		}
	}

	w.mu.Lock()
	if pr := st.Profiles; pr != nil && pr.DefaultProfile != "" {
		w.defaultProfile = protocol.NormalizeProfile(pr.DefaultProfile)
	}
	if s := st.Settings; s != nil && s.Integrated != nil {
		if n := s.Integrated.Scrollback; n != nil {
			w.settings.Scrollback = emulator.ClampScrollback(*n)
		}
		if c := s.Integrated.ConvertEOL; c != nil {
			w.settings.ConvertEOL = *c
		}
	}
	w.mu.Unlock()
	w.notify(EventLayout)
}
