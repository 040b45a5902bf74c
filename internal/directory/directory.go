// Package directory keeps the in-memory table of known terminal sessions in
// step with the backend's authoritative list.
package directory

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/protocol"
)

var dirLog = logging.ForComponent(logging.CompDirectory)

// Session is one known terminal session. Label is derived, never persisted.
type Session struct {
	ID      string
	PID     int
	Title   string
	Profile protocol.Profile
	Cwd     string
	Label   string
}

// TitleOverrides looks up a persisted title for a session id.
type TitleOverrides func(id string) (title string, ok bool)

// Change summarizes what a snapshot did to the directory.
type Change struct {
	Added   []string
	Removed []string
}

// Empty reports whether the snapshot left the set of ids unchanged.
func (c Change) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 }

// Directory is safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	order     []string
	sessions  map[string]*Session
	overrides TitleOverrides
}

// New returns an empty directory. overrides may be nil.
func New(overrides TitleOverrides) *Directory {
	return &Directory{
		sessions:  make(map[string]*Session),
		overrides: overrides,
	}
}

func (d *Directory) titleFor(t protocol.Terminal) string {
	if d.overrides != nil {
		if title, ok := d.overrides(t.ID); ok && title != "" {
			return title
		}
	}
	if t.Title != "" {
		return t.Title
	}
	return string(protocol.NormalizeProfile(string(t.Profile)))
}

// ApplySnapshot merges a full list from the backend. Known ids keep their
// local position, new ids are appended in backend order, and ids missing
// from the list are dropped. A known session whose title is unchanged keeps
// its label; new and retitled sessions are numbered by order of appearance
// around the labels already in use.
func (d *Directory) ApplySnapshot(terms []protocol.Terminal) Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	incoming := make(map[string]protocol.Terminal, len(terms))
	var arrivals []string
	for _, t := range terms {
		if t.ID == "" {
			continue
		}
		if _, dup := incoming[t.ID]; dup {
			continue
		}
		incoming[t.ID] = t
		arrivals = append(arrivals, t.ID)
	}

	var change Change
	next := make([]string, 0, len(incoming))
	for _, id := range d.order {
		if _, ok := incoming[id]; ok {
			next = append(next, id)
		} else {
			change.Removed = append(change.Removed, id)
			delete(d.sessions, id)
		}
	}
	for _, id := range arrivals {
		if _, known := d.sessions[id]; !known {
			next = append(next, id)
			change.Added = append(change.Added, id)
		}
	}

	prev := make(map[string]Session, len(next))
	for _, id := range next {
		t := incoming[id]
		if old, ok := d.sessions[id]; ok {
			prev[id] = *old
		}
		d.sessions[id] = &Session{
			ID:      id,
			PID:     t.PID,
			Title:   d.titleFor(t),
			Profile: protocol.NormalizeProfile(string(t.Profile)),
			Cwd:     t.Cwd,
		}
	}
	d.order = next
	d.relabel(prev)

	dirLog.Debug("directory_snapshot",
		slog.Int("count", len(next)),
		slog.Int("added", len(change.Added)),
		slog.Int("removed", len(change.Removed)))
	return change
}

// relabel keeps the label of every session found in prev with the same
// title, then numbers the rest as "title (n)" by order of appearance,
// skipping labels already taken.
func (d *Directory) relabel(prev map[string]Session) {
	taken := make(map[string]bool, len(d.order))
	var fresh []*Session
	for _, id := range d.order {
		s := d.sessions[id]
		old, ok := prev[id]
		if ok && old.Title == s.Title && old.Label != "" && !taken[old.Label] {
			s.Label = old.Label
			taken[old.Label] = true
			continue
		}
		fresh = append(fresh, s)
	}
	seen := make(map[string]int, len(fresh))
	for _, s := range fresh {
		for {
			seen[s.Title]++
			label := fmt.Sprintf("%s (%d)", s.Title, seen[s.Title])
			if !taken[label] {
				s.Label = label
				taken[label] = true
				break
			}
		}
	}
}

// labelAmongOthers is the label of title when it joins the other sessions:
// the bare title when unique, else numbered after the existing holders and
// past any label still in use.
func (d *Directory) labelAmongOthers(id, title string) string {
	count := 0
	taken := make(map[string]bool, len(d.order))
	for _, other := range d.order {
		if other == id {
			continue
		}
		s := d.sessions[other]
		taken[s.Label] = true
		if s.Title == title {
			count++
		}
	}
	if count == 0 {
		return title
	}
	n := count + 1
	for taken[fmt.Sprintf("%s (%d)", title, n)] {
		n++
	}
	return fmt.Sprintf("%s (%d)", title, n)
}

// Add records a session acknowledged by the backend. It reports false when
// the id is already known.
func (d *Directory) Add(t protocol.Terminal) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.ID == "" {
		return Session{}, false
	}
	if s, ok := d.sessions[t.ID]; ok {
		return *s, false
	}
	s := &Session{
		ID:      t.ID,
		PID:     t.PID,
		Title:   d.titleFor(t),
		Profile: protocol.NormalizeProfile(string(t.Profile)),
		Cwd:     t.Cwd,
	}
	s.Label = d.labelAmongOthers(s.ID, s.Title)
	d.sessions[s.ID] = s
	d.order = append(d.order, s.ID)

	dirLog.Debug("directory_add", slog.String("id", s.ID), slog.String("label", s.Label))
	return *s, true
}

// Remove drops a session. It reports false when the id was unknown.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; !ok {
		return false
	}
	delete(d.sessions, id)
	d.order = slices.DeleteFunc(d.order, func(o string) bool { return o == id })
	dirLog.Debug("directory_remove", slog.String("id", id))
	return true
}

// Rename sets the title of a session and recomputes its label.
func (d *Directory) Rename(id, title string) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok || title == "" {
		return Session{}, false
	}
	s.Title = title
	s.Label = d.labelAmongOthers(id, title)
	return *s, true
}

// Move reorders the session at index from to index to.
func (d *Directory) Move(from, to int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.order)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false
	}
	id := d.order[from]
	d.order = slices.Delete(d.order, from, from+1)
	d.order = slices.Insert(d.order, to, id)
	return true
}

// Get returns a copy of one session.
func (d *Directory) Get(id string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Has reports whether id is known.
func (d *Directory) Has(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sessions[id]
	return ok
}

// Index returns the position of id, or -1.
func (d *Directory) Index(id string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Index(d.order, id)
}

// List returns the sessions in local order.
func (d *Directory) List() []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Session, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.sessions[id])
	}
	return out
}

// IDs returns the session ids in local order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Len returns the number of sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Reset forgets every session.
func (d *Directory) Reset() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := d.order
	d.order = nil
	d.sessions = make(map[string]*Session)
	return removed
}
