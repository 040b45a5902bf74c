// Package layout is the split-pane state machine: which sessions are visible
// at once, how they are arranged, and the ratio of a two-pane split.
package layout

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/termdeck/termdeck/internal/logging"
)

var layoutLog = logging.ForComponent(logging.CompLayout)

// Orientation is the axis panes are laid out along. Vertical places panes
// side by side; horizontal stacks them.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// ParseOrientation maps anything but "horizontal" to Vertical.
func ParseOrientation(s string) Orientation {
	if Orientation(s) == Horizontal {
		return Horizontal
	}
	return Vertical
}

// Flip returns the other orientation.
func (o Orientation) Flip() Orientation {
	if o == Horizontal {
		return Vertical
	}
	return Horizontal
}

// Ratio limits and drag constants.
const (
	MinRatio      = 0.1
	MaxRatio      = 0.9
	DefaultRatio  = 0.5
	MinPaneSizePx = 120
)

// ClampRatio keeps r inside [MinRatio, MaxRatio]. NaN yields DefaultRatio.
func ClampRatio(r float64) float64 {
	if math.IsNaN(r) {
		return DefaultRatio
	}
	return max(MinRatio, min(MaxRatio, r))
}

// Mode is the derived layout mode.
type Mode int

const (
	Single Mode = iota
	TwoPane
	Grid
)

func (m Mode) String() string {
	switch m {
	case TwoPane:
		return "two-pane"
	case Grid:
		return "grid"
	default:
		return "single"
	}
}

var (
	// ErrNoBase is returned when a split is requested with no session to seed it.
	ErrNoBase = errors.New("layout: no session to split from")
	// ErrDuplicatePane is returned when the new pane is already shown.
	ErrDuplicatePane = errors.New("layout: session already in split")
	// ErrNotTwoPane is returned when a drag starts outside a two-pane split.
	ErrNotTwoPane = errors.New("layout: resize needs exactly two panes")
)

// State is a snapshot of the split. Enabled implies len(PaneIDs) >= 2.
type State struct {
	Enabled     bool
	Orientation Orientation
	PaneIDs     []string
	Ratio       float64
}

// Mode derives the layout mode from the state.
func (s State) Mode() Mode {
	switch {
	case !s.Enabled:
		return Single
	case len(s.PaneIDs) == 2:
		return TwoPane
	default:
		return Grid
	}
}

// Prefs is the persisted subset of the split state.
type Prefs struct {
	Orientation Orientation
	Ratio       float64
}

// DefaultPrefs is a vertical split at the middle.
func DefaultPrefs() Prefs { return Prefs{Orientation: Vertical, Ratio: DefaultRatio} }

// Engine owns the split state. It is safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	state State
}

// New returns a Single engine seeded with persisted preferences.
func New(p Prefs) *Engine {
	e := &Engine{}
	e.applyPrefs(p)
	return e
}

func (e *Engine) applyPrefs(p Prefs) {
	e.state.Orientation = ParseOrientation(string(p.Orientation))
	if p.Ratio == 0 {
		p.Ratio = DefaultRatio
	}
	e.state.Ratio = ClampRatio(p.Ratio)
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.PaneIDs = slices.Clone(e.state.PaneIDs)
	return s
}

// Mode returns the current layout mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode()
}

// Prefs returns the persisted subset.
func (e *Engine) Prefs() Prefs {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Prefs{Orientation: e.state.Orientation, Ratio: e.state.Ratio}
}

// SetPrefs replaces orientation and ratio without touching the pane set.
func (e *Engine) SetPrefs(p Prefs) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyPrefs(p)
}

// Contains reports whether id is one of the split panes.
func (e *Engine) Contains(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Enabled && slices.Contains(e.state.PaneIDs, id)
}

// AddPane appends newID to the split. From Single the split is seeded with
// baseID first. An empty orientation keeps the current one.
func (e *Engine) AddPane(baseID, newID string, o Orientation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if newID == "" {
		return ErrNoBase
	}
	ids := slices.Clone(e.state.PaneIDs)
	if !e.state.Enabled {
		if baseID == "" {
			return ErrNoBase
		}
		ids = []string{baseID}
	} else if baseID != "" && !slices.Contains(ids, baseID) {
		ids = append([]string{baseID}, ids...)
	}
	if slices.Contains(ids, newID) {
		return ErrDuplicatePane
	}
	ids = append(ids, newID)

	if o != "" {
		e.state.Orientation = ParseOrientation(string(o))
	}
	e.state.Enabled = true
	e.state.PaneIDs = ids
	layoutLog.Debug("split_add_pane",
		slog.String("id", newID),
		slog.Int("panes", len(ids)),
		slog.String("orientation", string(e.state.Orientation)))
	return nil
}

// ClosePane removes id from the split and returns the session that should be
// active afterwards. Dropping to one pane collapses to Single.
func (e *Engine) ClosePane(id, activeID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Enabled {
		return activeID
	}
	idx := slices.Index(e.state.PaneIDs, id)
	if idx < 0 {
		return activeID
	}
	remaining := slices.Delete(slices.Clone(e.state.PaneIDs), idx, idx+1)

	if len(remaining) <= 1 {
		e.collapse()
		if id == activeID || activeID == "" {
			if len(remaining) == 1 {
				return remaining[0]
			}
			return ""
		}
		return activeID
	}

	e.state.PaneIDs = remaining
	if id == activeID {
		return remaining[min(idx, len(remaining)-1)]
	}
	return activeID
}

func (e *Engine) collapse() {
	e.state.Enabled = false
	e.state.PaneIDs = nil
	layoutLog.Debug("split_collapse")
}

// Collapse returns to Single.
func (e *Engine) Collapse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collapse()
}

// ToggleOrientation flips the orientation in any mode.
func (e *Engine) ToggleOrientation() Orientation {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Orientation = e.state.Orientation.Flip()
	return e.state.Orientation
}

// SetRatio applies a ratio, clamped.
func (e *Engine) SetRatio(r float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Ratio = ClampRatio(r)
	return e.state.Ratio
}

// Reconcile drops panes whose ids are no longer known and returns the active
// id to use afterwards. changed reports whether the split state moved.
func (e *Engine) Reconcile(known func(id string) bool, activeID string) (nextActive string, changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Enabled {
		return activeID, false
	}
	var next []string
	for _, id := range e.state.PaneIDs {
		if known(id) && !slices.Contains(next, id) {
			next = append(next, id)
		}
	}
	if len(next) <= 1 {
		e.collapse()
		if len(next) == 1 {
			return next[0], true
		}
		return activeID, true
	}
	changed = !slices.Equal(next, e.state.PaneIDs)
	e.state.PaneIDs = next
	if !slices.Contains(next, activeID) {
		return next[0], changed
	}
	return activeID, changed
}

// FocusDelta steps through the panes from activeID with wraparound.
func (e *Engine) FocusDelta(activeID string, delta int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.state.PaneIDs
	if !e.state.Enabled || len(ids) < 2 {
		return activeID, false
	}
	base := max(0, slices.Index(ids, activeID))
	n := len(ids)
	return ids[((base+delta)%n+n)%n], true
}
