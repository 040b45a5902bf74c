package workbench

import (
	"fmt"
	"log/slog"

	"github.com/termdeck/termdeck/internal/protocol"
)

// handleMessage applies one inbound frame. It runs on the connection's
// reader goroutine, so frames of one session reach its emulator in order.
func (w *Workbench) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeHello:
		wbLog.Debug("backend_hello", slog.Int("version", msg.Version))
	case protocol.TypeError:
		if protocol.RouteOf(msg) == protocol.RouteRequest {
			// Answered to the waiting caller by the connection manager.
			return
		}
		w.mu.Lock()
		w.lastError = msg.Message
		w.mu.Unlock()
		wbLog.Warn("backend_error", slog.String("message", msg.Message))
		w.notify(EventError)
	case protocol.TypeCreated:
		w.onCreated(msg.Terminal())
	case protocol.TypeList:
		w.onSnapshot(msg.Terminals)
	case protocol.TypeData:
		w.onData(msg.ID, msg.Data)
	case protocol.TypeExit:
		w.onExit(msg.ID, msg.ExitCode)
	case protocol.TypeDisposed:
		w.onDisposed(msg.ID)
	}
}

func (w *Workbench) onCreated(t protocol.Terminal) {
	s, added := w.dir.Add(t)
	if !added {
		return
	}
	w.mu.Lock()
	w.ensureRecordLocked(s.ID)
	w.setActiveLocked(s.ID)
	w.mu.Unlock()

	wbLog.Info("session_added", slog.String("id", s.ID), slog.String("label", s.Label))
	w.notify(EventDirectory)
}

func (w *Workbench) onSnapshot(terms []protocol.Terminal) {
	change := w.dir.ApplySnapshot(terms)

	w.mu.Lock()
	for _, id := range change.Removed {
		w.releaseLocked(id)
	}
	for _, id := range w.dir.IDs() {
		w.ensureRecordLocked(id)
	}
	w.setActiveLocked(w.reconcileLocked())
	w.mu.Unlock()

	if len(change.Removed) > 0 {
		w.saveRemote()
	}
	w.notify(EventDirectory)
}

// reconcileLocked drops stale panes and returns the session that should be
// active: the current one if still known, else the next pane, else the
// first session in the directory.
func (w *Workbench) reconcileLocked() string {
	next, _ := w.layout.Reconcile(w.dir.Has, w.active)
	switch {
	case w.active != "" && w.dir.Has(w.active):
		return w.active
	case next != "" && w.dir.Has(next):
		return next
	}
	if ids := w.dir.IDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func (w *Workbench) onData(id, data string) {
	w.mu.Lock()
	rec := w.records[id]
	preserve := w.scrollLock && id == w.active
	w.mu.Unlock()
	if rec == nil {
		return
	}
	rec.term.Write([]byte(data), preserve)
	w.scheduleRedraw()
}

func (w *Workbench) onExit(id string, code int) {
	w.mu.Lock()
	rec := w.records[id]
	preserve := w.scrollLock && id == w.active
	if rec != nil {
		rec.exited = true
		rec.exitCode = code
	}
	w.mu.Unlock()
	if rec == nil {
		return
	}
	rec.term.Write([]byte(fmt.Sprintf("\r\n[process exited with code %d]\r\n", code)), preserve)
	wbLog.Info("session_exited", slog.String("id", id), slog.Int("exit_code", code))
	w.notify(EventOutput)
}

func (w *Workbench) onDisposed(id string) {
	if !w.dir.Remove(id) {
		return
	}

	w.mu.Lock()
	w.releaseLocked(id)
	if w.layout.Contains(id) {
		w.setActiveLocked(w.layout.ClosePane(id, w.active))
	}
	w.setActiveLocked(w.reconcileLocked())
	w.mu.Unlock()

	wbLog.Info("session_removed", slog.String("id", id))
	w.saveRemote()
	w.notify(EventDirectory)
}

// setActiveLocked moves the active pointer. An open find bar closes; it
// has to be reopened on the new session.
func (w *Workbench) setActiveLocked(id string) {
	if id == w.active {
		return
	}
	if w.find.Open {
		if prev, ok := w.records[w.active]; ok {
			prev.term.ClearFind()
		}
		w.find.Open = false
		w.find.ResultIndex = -1
		w.find.ResultCount = 0
	}
	w.active = id
}

func (w *Workbench) scheduleRedraw() {
	w.frames.Schedule("redraw", func() { w.notify(EventOutput) })
}
