package ui

import (
	"slices"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/termdeck/termdeck/internal/directory"
	"github.com/termdeck/termdeck/internal/emulator"
)

// maxTabLabel bounds a tab label in cells.
const maxTabLabel = 24

// span is a highlighted rune range of one row.
type span struct {
	start, end int
	current    bool
}

// rowSpans returns the find hits on scrollback row, ordered by start.
func rowSpans(matches []emulator.Match, current, row int) []span {
	var out []span
	for i, m := range matches {
		if m.Row == row {
			out = append(out, span{start: m.Start, end: m.End, current: i == current})
		}
	}
	slices.SortFunc(out, func(a, b span) int { return a.start - b.start })
	return out
}

// fit truncates s to width cells and pads it with spaces.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "")
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

// renderLine draws one viewport row at exactly width cells with find hits
// highlighted.
func renderLine(line string, spans []span, width int, st styleSet) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(runewidth.Truncate(line, width, ""))
	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		s, e := min(sp.start, len(runes)), min(sp.end, len(runes))
		if s < pos || s >= e {
			continue
		}
		b.WriteString(string(runes[pos:s]))
		style := st.Match
		if sp.current {
			style = st.MatchCurrent
		}
		b.WriteString(style.Render(string(runes[s:e])))
		pos = e
	}
	b.WriteString(string(runes[pos:]))
	if pad := width - runewidth.StringWidth(string(runes)); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return b.String()
}

// tabSpan is the cell range [X0, X1) of one tab in the tab bar.
type tabSpan struct {
	ID     string
	Text   string
	X0, X1 int
}

// layoutTabs places one tab per session from the left edge. Tabs that do
// not fit in width are dropped.
func layoutTabs(sessions []directory.Session, width int) []tabSpan {
	var out []tabSpan
	x := 0
	for _, s := range sessions {
		text := runewidth.Truncate(s.Label, maxTabLabel, "…")
		w := runewidth.StringWidth(text) + 2
		if x+w > width {
			break
		}
		out = append(out, tabSpan{ID: s.ID, Text: text, X0: x, X1: x + w})
		x += w
	}
	return out
}

// tabAt returns the session id of the tab under column x.
func tabAt(tabs []tabSpan, x int) (string, bool) {
	for _, t := range tabs {
		if x >= t.X0 && x < t.X1 {
			return t.ID, true
		}
	}
	return "", false
}
