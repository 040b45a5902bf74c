package workbench

import (
	"github.com/termdeck/termdeck/internal/emulator"
)

// FindState is the find bar of the active session. ResultIndex and
// ResultCount come from the emulator being searched.
type FindState struct {
	Open          bool
	Query         string
	CaseSensitive bool
	WholeWord     bool
	Regex         bool
	ResultIndex   int
	ResultCount   int
}

func (f FindState) options() emulator.FindOptions {
	return emulator.FindOptions{CaseSensitive: f.CaseSensitive, WholeWord: f.WholeWord, Regex: f.Regex}
}

// Find returns the find state.
func (w *Workbench) Find() FindState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.find
}

// OpenFind opens the find bar for the active session.
func (w *Workbench) OpenFind() error {
	w.mu.Lock()
	if w.active == "" {
		w.mu.Unlock()
		return ErrNoActiveSession
	}
	w.find.Open = true
	w.mu.Unlock()
	w.notify(EventFind)
	return nil
}

// CloseFind closes the find bar and clears the highlight.
func (w *Workbench) CloseFind() {
	w.mu.Lock()
	if rec, ok := w.records[w.active]; ok {
		rec.term.ClearFind()
	}
	w.find.Open = false
	w.find.ResultIndex = -1
	w.find.ResultCount = 0
	w.mu.Unlock()
	w.notify(EventFind)
}

// SetFindQuery updates the query and options and searches forward from the
// current match.
func (w *Workbench) SetFindQuery(query string, opts emulator.FindOptions) FindState {
	w.mu.Lock()
	w.find.Query = query
	w.find.CaseSensitive = opts.CaseSensitive
	w.find.WholeWord = opts.WholeWord
	w.find.Regex = opts.Regex
	w.mu.Unlock()
	return w.runFind(emulator.Next)
}

// FindNext moves to the next match, wrapping at the end.
func (w *Workbench) FindNext() FindState { return w.runFind(emulator.Next) }

// FindPrevious moves to the previous match, wrapping at the start.
func (w *Workbench) FindPrevious() FindState { return w.runFind(emulator.Previous) }

func (w *Workbench) runFind(dir emulator.Direction) FindState {
	w.mu.Lock()
	rec := w.records[w.active]
	f := w.find
	w.mu.Unlock()
	if rec == nil || !f.Open {
		return f
	}

	res := rec.term.Find(f.Query, f.options(), dir)

	w.mu.Lock()
	// The active session may have changed while searching.
	if w.records[w.active] == rec {
		w.find.ResultIndex = res.Index
		w.find.ResultCount = res.Count
	}
	f = w.find
	w.mu.Unlock()
	w.notify(EventFind)
	return f
}
