// Package emulator implements the terminal surface the multiplexer drives for
// each session: a bounded scrollback of text rows, a viewport into it, search
// and selection. Escape sequences are stripped rather than interpreted; cell
// painting belongs to the host UI.
package emulator

import (
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// Defaults mirror a fresh 80x24 terminal.
const (
	DefaultCols       = 80
	DefaultRows       = 24
	DefaultScrollback = 4000
	MinScrollback     = 100
	MaxScrollback     = 100000
)

// Instance is the capability the multiplexer drives for one session.
type Instance interface {
	// Write appends output. With preserveViewport the viewport stays anchored
	// at its pre-write position instead of following the new bottom.
	Write(data []byte, preserveViewport bool)
	Resize(cols, rows int)
	Size() (cols, rows int)
	Find(query string, opts FindOptions, dir Direction) FindResult
	ClearFind()
	HasSelection() bool
	Selection() string
	Paste(text string)
	Dispose()
}

// Options configures a new Terminal.
type Options struct {
	Cols       int
	Rows       int
	Scrollback int
	// ConvertEOL treats a bare LF as CRLF.
	ConvertEOL bool
	// OnData receives user-originated input (paste).
	OnData func(data string)
	// OnTitle receives OSC 0/2 title changes.
	OnTitle func(title string)
}

// ClampScrollback keeps a scrollback setting inside the supported range.
func ClampScrollback(n int) int {
	return max(MinScrollback, min(MaxScrollback, n))
}

type line struct {
	cells []rune
	// wrapped marks a row that continues the previous one.
	wrapped bool
}

func (l line) String() string { return string(l.cells) }

// Pos addresses a cell by row index in the scrollback and rune column.
type Pos struct {
	Row int
	Col int
}

func (p Pos) before(o Pos) bool {
	return p.Row < o.Row || (p.Row == o.Row && p.Col < o.Col)
}

// Terminal is the default Instance.
type Terminal struct {
	mu sync.Mutex

	cols, rows int
	scrollback int
	convertEOL bool
	onData     func(string)
	onTitle    func(string)

	lines []line
	col   int
	// top is the first scrollback row shown in the viewport.
	top int
	// pending holds an escape sequence split across writes.
	pending string
	title   string

	selStart, selEnd Pos
	hasSel           bool

	search searchState

	disposed bool
}

// New creates a Terminal.
func New(opts Options) *Terminal {
	t := &Terminal{
		cols:       opts.Cols,
		rows:       opts.Rows,
		scrollback: opts.Scrollback,
		convertEOL: opts.ConvertEOL,
		onData:     opts.OnData,
		onTitle:    opts.OnTitle,
		lines:      []line{{}},
	}
	if t.cols <= 0 {
		t.cols = DefaultCols
	}
	if t.rows <= 0 {
		t.rows = DefaultRows
	}
	if t.scrollback <= 0 {
		t.scrollback = DefaultScrollback
	}
	t.scrollback = ClampScrollback(t.scrollback)
	t.search.current = -1
	return t
}

var oscTitle = regexp.MustCompile(`\x1b\][02];([^\x07\x1b]*)(?:\x07|\x1b\\)`)

// Write implements Instance.
func (t *Terminal) Write(data []byte, preserveViewport bool) {
	var title string

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}

	anchor := t.top
	text := t.pending + string(data)
	text, t.pending = splitIncompleteEscape(text)
	if m := oscTitle.FindAllStringSubmatch(text, -1); len(m) > 0 {
		if next := strings.TrimSpace(m[len(m)-1][1]); next != "" && next != t.title {
			t.title = next
			title = next
		}
	}
	t.put(ansi.Strip(text))

	if preserveViewport {
		t.top = max(0, min(anchor, t.maxTop()))
	} else {
		t.top = t.maxTop()
	}
	onTitle := t.onTitle
	t.mu.Unlock()

	if title != "" && onTitle != nil {
		onTitle(title)
	}
}

func (t *Terminal) put(s string) {
	for _, r := range s {
		switch r {
		case '\r':
			t.col = 0
		case '\n':
			t.newline(false)
			if t.convertEOL {
				t.col = 0
			}
		case '\b':
			if t.col > 0 {
				t.col--
			}
		case '\t':
			next := (t.col/8 + 1) * 8
			for t.col < next && t.col < t.cols {
				t.putRune(' ')
			}
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			t.putRune(r)
		}
	}
}

func (t *Terminal) putRune(r rune) {
	cur := &t.lines[len(t.lines)-1]
	w := runewidth.RuneWidth(r)
	if runewidth.StringWidth(string(cur.cells[:min(t.col, len(cur.cells))]))+w > t.cols {
		t.newline(true)
		t.col = 0
		cur = &t.lines[len(t.lines)-1]
	}
	for len(cur.cells) < t.col {
		cur.cells = append(cur.cells, ' ')
	}
	if t.col < len(cur.cells) {
		cur.cells[t.col] = r
	} else {
		cur.cells = append(cur.cells, r)
	}
	t.col++
}

func (t *Terminal) newline(wrapped bool) {
	t.lines = append(t.lines, line{wrapped: wrapped})
	if over := len(t.lines) - (t.scrollback + t.rows); over > 0 {
		t.lines = t.lines[over:]
		t.top = max(0, t.top-over)
		t.shiftSelection(over)
	}
}

func (t *Terminal) shiftSelection(n int) {
	if !t.hasSel {
		return
	}
	t.selStart.Row -= n
	t.selEnd.Row -= n
	if t.selEnd.Row < 0 {
		t.hasSel = false
		return
	}
	if t.selStart.Row < 0 {
		t.selStart = Pos{}
	}
}

// splitIncompleteEscape returns the complete prefix of s and any trailing
// escape sequence that still lacks its terminator.
func splitIncompleteEscape(s string) (string, string) {
	i := strings.LastIndexByte(s, 0x1b)
	if i < 0 {
		return s, ""
	}
	tail := s[i:]
	if len(tail) == 1 {
		return s[:i], tail
	}
	switch tail[1] {
	case '[':
		for j := 2; j < len(tail); j++ {
			if tail[j] >= 0x40 && tail[j] <= 0x7e {
				return s, ""
			}
		}
		return s[:i], tail
	case ']', 'P', '_', '^':
		if strings.ContainsRune(tail, 0x07) {
			return s, ""
		}
		return s[:i], tail
	default:
		// Includes ESC \, which terminates a string sequence.
		return s, ""
	}
}

func (t *Terminal) maxTop() int {
	return max(0, len(t.lines)-t.rows)
}

// Resize implements Instance. Existing rows are not reflowed.
func (t *Terminal) Resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cols > 0 {
		t.cols = cols
	}
	if rows > 0 {
		t.rows = rows
	}
	t.top = min(t.top, t.maxTop())
}

// Size implements Instance.
func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// Title returns the last title set through OSC 0/2.
func (t *Terminal) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.title
}

// ViewportTop returns the scrollback row at the top of the viewport.
func (t *Terminal) ViewportTop() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.top
}

// LineCount returns the number of rows held, including the cursor row.
func (t *Terminal) LineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// AtBottom reports whether the viewport shows the newest rows.
func (t *Terminal) AtBottom() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.top == t.maxTop()
}

// ScrollToLine moves the viewport top to row n, clamped to the buffer.
func (t *Terminal) ScrollToLine(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.top = max(0, min(n, t.maxTop()))
}

// ScrollBy moves the viewport by delta rows.
func (t *Terminal) ScrollBy(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.top = max(0, min(t.top+delta, t.maxTop()))
}

// ScrollToBottom follows the newest output again.
func (t *Terminal) ScrollToBottom() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.top = t.maxTop()
}

// Viewport returns the visible rows, padded to the terminal height.
func (t *Terminal) Viewport() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, t.rows)
	for i := t.top; i < t.top+t.rows; i++ {
		if i < len(t.lines) {
			out = append(out, t.lines[i].String())
		} else {
			out = append(out, "")
		}
	}
	return out
}

// Line returns scrollback row n, or "" when out of range.
func (t *Terminal) Line(n int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.lines) {
		return ""
	}
	return t.lines[n].String()
}

// Select sets the selection to the half-open range [start, end).
func (t *Terminal) Select(start, end Pos) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if end.before(start) {
		start, end = end, start
	}
	t.selStart, t.selEnd = start, end
	t.hasSel = start != end
}

// SelectAll selects the whole scrollback.
func (t *Terminal) SelectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	last := len(t.lines) - 1
	t.selStart = Pos{}
	t.selEnd = Pos{Row: last, Col: len(t.lines[last].cells)}
	t.hasSel = t.selStart != t.selEnd
}

// ClearSelection drops the selection.
func (t *Terminal) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasSel = false
}

// HasSelection implements Instance.
func (t *Terminal) HasSelection() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasSel
}

// Selection implements Instance. Wrapped rows are joined without a newline.
func (t *Terminal) Selection() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasSel {
		return ""
	}
	var b strings.Builder
	for row := t.selStart.Row; row <= t.selEnd.Row && row < len(t.lines); row++ {
		cells := t.lines[row].cells
		from, to := 0, len(cells)
		if row == t.selStart.Row {
			from = min(t.selStart.Col, len(cells))
		}
		if row == t.selEnd.Row {
			to = min(t.selEnd.Col, len(cells))
		}
		if row > t.selStart.Row && !t.lines[row].wrapped {
			b.WriteByte('\n')
		}
		if from < to {
			b.WriteString(string(cells[from:to]))
		}
	}
	return b.String()
}

// Paste implements Instance. Line endings are normalized to CR the way a
// terminal sends Enter.
func (t *Terminal) Paste(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	onData, disposed := t.onData, t.disposed
	t.mu.Unlock()
	if disposed || onData == nil {
		return
	}
	text = strings.ReplaceAll(text, "\r\n", "\r")
	onData(strings.ReplaceAll(text, "\n", "\r"))
}

// Dispose implements Instance. Later writes are ignored.
func (t *Terminal) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disposed = true
	t.lines = []line{{}}
	t.hasSel = false
	t.search = searchState{current: -1}
	t.onData = nil
	t.onTitle = nil
}

// Disposed reports whether Dispose was called.
func (t *Terminal) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}
