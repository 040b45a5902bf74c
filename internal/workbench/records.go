package workbench

import (
	"sync"

	"github.com/termdeck/termdeck/internal/emulator"
)

// record is the registry entry of one session: the emulator it owns and its
// exit status. release is the only way an emulator is disposed.
type record struct {
	id       string
	term     *emulator.Terminal
	exited   bool
	exitCode int
	once     sync.Once
}

func (r *record) release() {
	r.once.Do(r.term.Dispose)
}

// ensureRecordLocked materializes the emulator of a session. w.mu is held.
func (w *Workbench) ensureRecordLocked(id string) *record {
	if rec, ok := w.records[id]; ok {
		return rec
	}
	s := w.settings
	rec := &record{id: id}
	rec.term = emulator.New(emulator.Options{
		Cols:       s.Cols,
		Rows:       s.Rows,
		Scrollback: s.Scrollback,
		ConvertEOL: s.ConvertEOL,
		OnData: func(data string) {
			_ = w.mgr.Input(id, data)
		},
		OnTitle: func(title string) {
			w.applyTitle(id, title)
		},
	})
	w.records[id] = rec
	return rec
}

// releaseLocked disposes the emulator of a session and forgets it.
func (w *Workbench) releaseLocked(id string) {
	rec, ok := w.records[id]
	if !ok {
		return
	}
	rec.release()
	delete(w.records, id)
	w.frames.Cancel(resizeKey(id))
}

func resizeKey(id string) string { return "resize:" + id }
