package workbench

import (
	"context"
	"log/slog"

	"github.com/termdeck/termdeck/internal/layout"
	"github.com/termdeck/termdeck/internal/protocol"
)

// Layout returns the split state. During a divider drag the ratio is the
// one last applied for the current frame.
func (w *Workbench) Layout() layout.State {
	st := w.layout.State()
	w.mu.Lock()
	if w.drag != nil {
		st.Ratio = w.dragRatio
	}
	w.mu.Unlock()
	return st
}

// VisiblePanes returns the ids shown: the split panes, or the active
// session alone.
func (w *Workbench) VisiblePanes() []string {
	st := w.layout.State()
	if st.Enabled {
		return st.PaneIDs
	}
	if id := w.Active(); id != "" {
		return []string{id}
	}
	return nil
}

func (w *Workbench) splitBase() (string, protocol.Profile, error) {
	w.mu.Lock()
	base := w.active
	w.mu.Unlock()
	if base == "" {
		if ids := w.dir.IDs(); len(ids) > 0 {
			base = ids[0]
		}
	}
	s, ok := w.dir.Get(base)
	if !ok {
		return "", "", ErrNoActiveSession
	}
	return base, s.Profile, nil
}

// AddPane splits off a new session running the active session's profile.
// An empty orientation keeps the current one.
func (w *Workbench) AddPane(ctx context.Context, o layout.Orientation) error {
	base, p, err := w.splitBase()
	if err != nil {
		return err
	}
	return w.addPane(ctx, base, p, o)
}

// AddPaneWithProfile splits off a new session running profile p.
func (w *Workbench) AddPaneWithProfile(ctx context.Context, p protocol.Profile, o layout.Orientation) error {
	base, _, err := w.splitBase()
	if err != nil {
		return err
	}
	return w.addPane(ctx, base, p, o)
}

func (w *Workbench) addPane(ctx context.Context, base string, p protocol.Profile, o layout.Orientation) error {
	sess, err := w.NewSession(ctx, p)
	if err != nil {
		return err
	}
	if err := w.layout.AddPane(base, sess.ID, o); err != nil {
		return err
	}
	w.mu.Lock()
	w.setActiveLocked(sess.ID)
	w.mu.Unlock()

	wbLog.Info("split_add", slog.String("base", base), slog.String("id", sess.ID))
	w.persistPrefs()
	w.notify(EventLayout)
	return nil
}

// ToggleSplit adds a pane when showing one session and collapses the split
// otherwise.
func (w *Workbench) ToggleSplit(ctx context.Context) error {
	if w.layout.Mode() == layout.Single {
		return w.AddPane(ctx, "")
	}
	w.layout.Collapse()
	w.saveRemote()
	w.notify(EventLayout)
	return nil
}

// ClosePane removes the active session from the split without ending it.
func (w *Workbench) ClosePane() bool {
	w.mu.Lock()
	active := w.active
	if !w.layout.Contains(active) {
		w.mu.Unlock()
		return false
	}
	w.setActiveLocked(w.layout.ClosePane(active, active))
	w.mu.Unlock()

	w.saveRemote()
	w.notify(EventLayout)
	return true
}

// ToggleOrientation flips the split orientation and persists it.
func (w *Workbench) ToggleOrientation() layout.Orientation {
	o := w.layout.ToggleOrientation()
	w.persistPrefs()
	w.notify(EventLayout)
	return o
}

// FocusPaneDelta moves the active pointer through the panes with wraparound.
func (w *Workbench) FocusPaneDelta(delta int) bool {
	w.mu.Lock()
	next, ok := w.layout.FocusDelta(w.active, delta)
	if ok {
		w.setActiveLocked(next)
	}
	w.mu.Unlock()
	if ok {
		w.notify(EventLayout)
	}
	return ok
}

// BeginDrag starts a divider drag. total is the container size along the
// orientation axis and pos the pointer position on it.
func (w *Workbench) BeginDrag(total, pos float64) error {
	d, err := w.layout.BeginDrag(total, pos)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.drag = d
	w.dragRatio = d.Pending()
	w.mu.Unlock()
	return nil
}

// DragMove records a pointer position. The ratio is applied at most once
// per frame.
func (w *Workbench) DragMove(pos float64) {
	w.mu.Lock()
	d := w.drag
	w.mu.Unlock()
	if d == nil {
		return
	}
	ratio := d.Move(pos)
	w.frames.Schedule("drag", func() {
		w.mu.Lock()
		if w.drag != d {
			w.mu.Unlock()
			return
		}
		w.dragRatio = ratio
		w.mu.Unlock()
		w.notify(EventLayout)
	})
}

// EndDrag commits and persists the ratio of the current drag.
func (w *Workbench) EndDrag() float64 {
	w.mu.Lock()
	d := w.drag
	w.drag = nil
	w.mu.Unlock()
	if d == nil {
		return w.layout.State().Ratio
	}
	w.frames.Cancel("drag")
	ratio := d.End()
	w.persistPrefs()
	w.notify(EventLayout)
	return ratio
}

// ResizePane reports the rendered size of a pane. The emulator and the
// backend are updated at most once per frame, and only on change.
func (w *Workbench) ResizePane(id string, cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	w.frames.Schedule(resizeKey(id), func() {
		w.mu.Lock()
		rec := w.records[id]
		w.mu.Unlock()
		if rec == nil {
			return
		}
		if c, r := rec.term.Size(); c == cols && r == rows {
			return
		}
		rec.term.Resize(cols, rows)
		if err := w.mgr.Resize(id, cols, rows); err != nil {
			wbLog.Debug("resize_send_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	})
}

// FlushFrames runs pending per-frame work now.
func (w *Workbench) FlushFrames() {
	w.frames.Flush()
}
