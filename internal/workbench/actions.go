package workbench

import (
	"context"
	"log/slog"
	"strings"

	"github.com/termdeck/termdeck/internal/clipboard"
	"github.com/termdeck/termdeck/internal/conn"
	"github.com/termdeck/termdeck/internal/directory"
	"github.com/termdeck/termdeck/internal/protocol"
	"github.com/termdeck/termdeck/internal/statedb"
)

// NewSession creates a session with the given profile ("" uses the default)
// and makes it active. It does not retry when the backend is unresponsive.
func (w *Workbench) NewSession(ctx context.Context, p protocol.Profile) (directory.Session, error) {
	w.mu.Lock()
	if p == "" {
		p = w.defaultProfile
	}
	s := w.settings
	root := w.root
	w.mu.Unlock()

	p = protocol.NormalizeProfile(string(p))
	t, err := w.mgr.Create(ctx, conn.CreateRequest{
		Profile: p,
		Cwd:     root,
		Cols:    s.Cols,
		Rows:    s.Rows,
		Env:     w.profiles.EnvFor(p),
	})
	if err != nil {
		return directory.Session{}, err
	}
	// The created frame was applied before Create returned.
	if sess, ok := w.dir.Get(t.ID); ok {
		return sess, nil
	}
	return directory.Session{ID: t.ID, PID: t.PID, Title: t.Title, Profile: t.Profile, Cwd: t.Cwd}, nil
}

// SetActive focuses a known session.
func (w *Workbench) SetActive(id string) error {
	if !w.dir.Has(id) {
		return ErrUnknownSession
	}
	w.mu.Lock()
	w.setActiveLocked(id)
	w.mu.Unlock()
	w.notify(EventLayout)
	return nil
}

func (w *Workbench) activeRecord() (*record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[w.active]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return rec, nil
}

// Input sends keystrokes to the active session.
func (w *Workbench) Input(data string) error {
	rec, err := w.activeRecord()
	if err != nil {
		return err
	}
	return w.mgr.Input(rec.id, data)
}

// Copy puts the active selection on the clipboard. Without a selection, or
// when the clipboard fails, nothing happens and the result is nil.
func (w *Workbench) Copy() *clipboard.CopyResult {
	rec, err := w.activeRecord()
	if err != nil || !rec.term.HasSelection() {
		return nil
	}
	res, err := w.clip.Copy(rec.term.Selection())
	if err != nil {
		wbLog.Debug("clipboard_copy_failed", slog.String("error", err.Error()))
		return nil
	}
	return res
}

// Paste sends the clipboard text to the active session as typed input.
func (w *Workbench) Paste() {
	rec, err := w.activeRecord()
	if err != nil {
		return
	}
	text, err := w.clip.Paste()
	if err != nil {
		wbLog.Debug("clipboard_paste_failed", slog.String("error", err.Error()))
		return
	}
	rec.term.Paste(text)
}

// Clear asks the active shell to clear its screen.
func (w *Workbench) Clear() error {
	rec, err := w.activeRecord()
	if err != nil {
		return err
	}
	s, _ := w.dir.Get(rec.id)
	kind := strings.ToLower(string(s.Profile))
	if kind == "" {
		kind = strings.ToLower(s.Title)
	}
	if strings.Contains(kind, "bash") {
		rec.term.Paste("clear\r")
	} else {
		rec.term.Paste("cls\r")
	}
	return nil
}

// Rename sets and persists the title of the active session. A blank title
// is ignored.
func (w *Workbench) Rename(title string) error {
	w.mu.Lock()
	id := w.active
	w.mu.Unlock()
	if id == "" {
		return ErrNoActiveSession
	}
	return w.RenameSession(id, title)
}

// RenameSession sets and persists the title of a session.
func (w *Workbench) RenameSession(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	if !w.dir.Has(id) {
		return ErrUnknownSession
	}
	w.applyTitle(id, title)
	return nil
}

// applyTitle persists a title and relabels the session.
func (w *Workbench) applyTitle(id, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	if st := w.meta.Load(); st != nil {
		if err := st.PutSessionMeta(id, statedb.MetaRecord{Title: title}); err != nil {
			wbLog.Warn("session_meta_save_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	if _, ok := w.dir.Rename(id, title); ok {
		w.notify(EventDirectory)
	}
}

// Kill asks the backend to end the active session. The session leaves the
// directory when the disposal is acknowledged.
func (w *Workbench) Kill() error {
	w.mu.Lock()
	id := w.active
	w.mu.Unlock()
	if id == "" {
		return ErrNoActiveSession
	}
	return w.mgr.Dispose(id)
}

// KillSession asks the backend to end a session.
func (w *Workbench) KillSession(id string) error {
	if !w.dir.Has(id) {
		return ErrUnknownSession
	}
	return w.mgr.Dispose(id)
}

// MoveSession moves fromID to the position of toID in the directory.
func (w *Workbench) MoveSession(fromID, toID string) bool {
	if fromID == "" || toID == "" || fromID == toID {
		return false
	}
	from, to := w.dir.Index(fromID), w.dir.Index(toID)
	if from < 0 || to < 0 {
		return false
	}
	if !w.dir.Move(from, to) {
		return false
	}
	w.notify(EventDirectory)
	return true
}

// ToggleScrollLock flips scroll lock and returns the new value. While on,
// output for the active session leaves its viewport where it is.
func (w *Workbench) ToggleScrollLock() bool {
	w.mu.Lock()
	w.scrollLock = !w.scrollLock
	on := w.scrollLock
	w.mu.Unlock()
	w.notify(EventLayout)
	return on
}

// ScrollLock reports whether scroll lock is on.
func (w *Workbench) ScrollLock() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scrollLock
}
