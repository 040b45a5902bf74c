// Package ui is the terminal host of the workbench: a tab bar of sessions,
// the visible panes and a status line, driven through a prefix key.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/termdeck/termdeck/internal/directory"
	"github.com/termdeck/termdeck/internal/emulator"
	"github.com/termdeck/termdeck/internal/layout"
	"github.com/termdeck/termdeck/internal/protocol"
	"github.com/termdeck/termdeck/internal/workbench"
)

// Cell size used to express drag positions in the pixel units the layout
// engine clamps with.
const (
	cellPxW = 8
	cellPxH = 16
)

// wheelStep is the number of rows one wheel notch scrolls.
const wheelStep = 3

// Options configures the Model.
type Options struct {
	// Theme is "auto", "dark" or "light".
	Theme string
}

// EventBridge carries workbench change notifications into the Bubble Tea
// loop. Pass Notify as workbench.Options.OnChange.
type EventBridge struct {
	ch chan workbench.Event
}

// NewEventBridge returns a bridge with room for a burst of events.
func NewEventBridge() *EventBridge {
	return &EventBridge{ch: make(chan workbench.Event, 64)}
}

// Notify never blocks; events beyond the buffer are dropped since every
// event triggers a full redraw.
func (b *EventBridge) Notify(ev workbench.Event) {
	select {
	case b.ch <- ev:
	default:
	}
}

type eventMsg workbench.Event

type themeChangedMsg bool

type actionDoneMsg struct {
	what string
	err  error
}

func listenForEvents(b *EventBridge) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-b.ch)
	}
}

func listenForTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		if tw == nil {
			return nil
		}
		isDark, ok := <-tw.Changes()
		if !ok {
			return nil
		}
		return themeChangedMsg(isDark)
	}
}

type mode int

const (
	modeNormal mode = iota
	modeRename
	modeFind
	modePick
)

type selection struct {
	id     string
	anchor emulator.Pos
}

// Model is the Bubble Tea model of the workbench.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	wb     *workbench.Workbench
	bridge *EventBridge
	theme  *ThemeWatcher

	width, height int

	prefix bool

	// splitProfile is the profile new split panes run; empty follows the
	// active session.
	splitProfile protocol.Profile

	mode       mode
	input      textinput.Model
	findOpts   emulator.FindOptions
	picks      []directory.Session
	pickCursor int

	status    string
	statusErr bool

	dragging  bool
	selecting *selection
}

// New builds the model. The workbench should already be started.
func New(wb *workbench.Workbench, bridge *EventBridge, opts Options) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	InitTheme(string(ResolveTheme(opts.Theme)))

	ti := textinput.New()
	ti.CharLimit = 200
	ti.Width = 40

	m := &Model{
		ctx:    ctx,
		cancel: cancel,
		wb:     wb,
		bridge: bridge,
		input:  ti,
	}
	if opts.Theme == "" || opts.Theme == "auto" {
		m.theme = NewThemeWatcher(ctx)
	}
	return m
}

// Close stops background watchers. The workbench is closed by its owner.
func (m *Model) Close() {
	if m.theme != nil {
		m.theme.Close()
	}
	m.cancel()
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForEvents(m.bridge)}
	if m.theme != nil {
		cmds = append(cmds, listenForTheme(m.theme))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.syncSizes()
		return m, nil

	case eventMsg:
		switch workbench.Event(msg) {
		case workbench.EventError:
			m.setStatus(m.wb.LastError(), true)
		case workbench.EventDirectory, workbench.EventLayout:
			m.syncSizes()
			if m.mode == modePick {
				m.refreshPicks()
			}
		}
		return m, listenForEvents(m.bridge)

	case themeChangedMsg:
		if msg {
			InitTheme(string(ThemeDark))
		} else {
			InitTheme(string(ThemeLight))
		}
		uiLog.Info("theme_changed", slog.String("theme", string(GetCurrentTheme())))
		return m, listenForTheme(m.theme)

	case actionDoneMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.what, msg.err), true)
		}
		m.syncSizes()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil
	}
	return m, nil
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status, m.statusErr = text, isErr
}

// do runs a blocking workbench action off the update loop.
func (m *Model) do(what string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{what: what, err: fn(ctx)}
	}
}

func (m *Model) report(what string, err error) {
	if err != nil {
		m.setStatus(fmt.Sprintf("%s: %v", what, err), true)
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != modeNormal {
		return m.handlePromptKey(msg)
	}
	if m.prefix {
		m.prefix = false
		return m.runCommand(LookupCommand(msg.String()))
	}
	if msg.String() == PrefixKey {
		m.prefix = true
		m.status = ""
		return m, nil
	}

	data := KeyInput(msg)
	if data == "" {
		return m, nil
	}
	if t := m.activeTerm(); t != nil && !m.wb.ScrollLock() {
		t.ScrollToBottom()
	}
	if err := m.wb.Input(data); err != nil && !errors.Is(err, workbench.ErrNoActiveSession) {
		m.setStatus("not connected", true)
	}
	return m, nil
}

func (m *Model) runCommand(cmd Command) (tea.Model, tea.Cmd) {
	switch cmd {
	case CmdNewSession:
		return m, m.do("new session", func(ctx context.Context) error {
			_, err := m.wb.NewSession(ctx, "")
			return err
		})
	case CmdKill:
		m.report("kill", m.wb.Kill())
	case CmdSplitVertical:
		return m, m.split(layout.Vertical)
	case CmdSplitHorizontal:
		return m, m.split(layout.Horizontal)
	case CmdSplitProfile:
		m.splitProfile = nextSplitProfile(m.splitProfile)
		if m.splitProfile == "" {
			m.setStatus("split profile: same as active", false)
		} else {
			m.setStatus("split profile: "+string(m.splitProfile), false)
		}
	case CmdToggleSplit:
		return m, m.do("split", m.wb.ToggleSplit)
	case CmdClosePane:
		m.wb.ClosePane()
	case CmdToggleOrientation:
		m.setStatus("orientation: "+string(m.wb.ToggleOrientation()), false)
	case CmdNextPane:
		if !m.wb.FocusPaneDelta(1) {
			m.cycleSession(1)
		}
	case CmdPrevPane:
		if !m.wb.FocusPaneDelta(-1) {
			m.cycleSession(-1)
		}
	case CmdNextSession:
		m.cycleSession(1)
	case CmdPrevSession:
		m.cycleSession(-1)
	case CmdMoveLeft:
		m.moveActive(-1)
	case CmdMoveRight:
		m.moveActive(1)
	case CmdRename:
		if s, ok := m.wb.Session(m.wb.Active()); ok {
			m.openPrompt(modeRename, "rename: ", s.Title)
		}
	case CmdFind:
		if err := m.wb.OpenFind(); err == nil {
			m.openPrompt(modeFind, "find: ", m.wb.Find().Query)
		}
	case CmdQuickPick:
		m.openPrompt(modePick, "go to: ", "")
		m.refreshPicks()
	case CmdScrollLock:
		if m.wb.ToggleScrollLock() {
			m.setStatus("scroll lock on", false)
		} else {
			m.setStatus("scroll lock off", false)
		}
	case CmdCopy:
		if res := m.wb.Copy(); res != nil {
			m.setStatus(fmt.Sprintf("copied %d lines (%s)", res.LineCount, res.Method), false)
		}
	case CmdPaste:
		m.wb.Paste()
	case CmdClear:
		m.report("clear", m.wb.Clear())
	case CmdSendPrefix:
		_ = m.wb.Input("\x02")
	case CmdDetach:
		return m, tea.Quit
	}
	m.syncSizes()
	return m, nil
}

func (m *Model) split(o layout.Orientation) tea.Cmd {
	p := m.splitProfile
	return m.do("split", func(ctx context.Context) error {
		if p == "" {
			return m.wb.AddPane(ctx, o)
		}
		return m.wb.AddPaneWithProfile(ctx, p, o)
	})
}

// nextSplitProfile steps through "" and then every known profile.
func nextSplitProfile(cur protocol.Profile) protocol.Profile {
	if cur == "" {
		return protocol.Profiles[0]
	}
	i := slices.Index(protocol.Profiles, cur)
	if i < 0 || i == len(protocol.Profiles)-1 {
		return ""
	}
	return protocol.Profiles[i+1]
}

func (m *Model) cycleSession(delta int) {
	ids := make([]string, 0)
	for _, s := range m.wb.Sessions() {
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		return
	}
	cur := 0
	for i, id := range ids {
		if id == m.wb.Active() {
			cur = i
		}
	}
	n := len(ids)
	_ = m.wb.SetActive(ids[((cur+delta)%n+n)%n])
}

func (m *Model) moveActive(delta int) {
	sessions := m.wb.Sessions()
	active := m.wb.Active()
	for i, s := range sessions {
		if s.ID == active {
			if j := i + delta; j >= 0 && j < len(sessions) {
				m.wb.MoveSession(active, sessions[j].ID)
			}
			return
		}
	}
}

func (m *Model) openPrompt(md mode, prompt, value string) {
	m.mode = md
	m.input.Prompt = prompt
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
	m.pickCursor = 0
}

func (m *Model) closePrompt() {
	m.mode = modeNormal
	m.input.Blur()
	m.input.SetValue("")
	m.picks = nil
}

func (m *Model) refreshPicks() {
	m.picks = m.wb.MatchSessions(m.input.Value())
	m.pickCursor = max(0, min(m.pickCursor, len(m.picks)-1))
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeRename:
		switch key {
		case "enter":
			m.report("rename", m.wb.Rename(m.input.Value()))
			m.closePrompt()
			return m, nil
		case "esc":
			m.closePrompt()
			return m, nil
		}

	case modeFind:
		switch key {
		case "enter", "down", "ctrl+n":
			m.wb.FindNext()
			return m, nil
		case "up", "ctrl+p", "shift+enter":
			m.wb.FindPrevious()
			return m, nil
		case "esc":
			m.wb.CloseFind()
			m.closePrompt()
			return m, nil
		case "alt+c":
			m.findOpts.CaseSensitive = !m.findOpts.CaseSensitive
			m.wb.SetFindQuery(m.input.Value(), m.findOpts)
			return m, nil
		case "alt+w":
			m.findOpts.WholeWord = !m.findOpts.WholeWord
			m.wb.SetFindQuery(m.input.Value(), m.findOpts)
			return m, nil
		case "alt+r":
			m.findOpts.Regex = !m.findOpts.Regex
			m.wb.SetFindQuery(m.input.Value(), m.findOpts)
			return m, nil
		}

	case modePick:
		switch key {
		case "up", "ctrl+p":
			m.pickCursor = max(0, m.pickCursor-1)
			return m, nil
		case "down", "ctrl+n":
			m.pickCursor = min(len(m.picks)-1, m.pickCursor+1)
			return m, nil
		case "enter":
			if m.pickCursor >= 0 && m.pickCursor < len(m.picks) {
				_ = m.wb.SetActive(m.picks[m.pickCursor].ID)
			}
			m.closePrompt()
			m.syncSizes()
			return m, nil
		case "ctrl+x":
			if m.pickCursor >= 0 && m.pickCursor < len(m.picks) {
				m.report("kill", m.wb.KillSession(m.picks[m.pickCursor].ID))
			}
			return m, nil
		case "esc":
			m.closePrompt()
			return m, nil
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		switch m.mode {
		case modeFind:
			m.wb.SetFindQuery(after, m.findOpts)
		case modePick:
			m.pickCursor = 0
			m.refreshPicks()
		}
	}
	return m, cmd
}

// paneArea is the region below the tab bar and above the status line.
func (m *Model) paneArea() (y, width, height int) {
	return 1, m.width, m.height - 2
}

// paneRects returns the pane rectangles in screen coordinates.
func (m *Model) paneRects() (layout.State, []layout.Rect, []layout.Divider) {
	st := m.wb.Layout()
	y0, w, h := m.paneArea()
	rects, divs := st.Geometry(m.wb.Active(), w, h)
	for i := range rects {
		rects[i].Y += y0
	}
	for i := range divs {
		divs[i].Y += y0
	}
	return st, rects, divs
}

// headerRows is the pane title line shown while split.
func headerRows(st layout.State) int {
	if st.Enabled {
		return 1
	}
	return 0
}

// syncSizes reports every visible pane's size to the workbench.
func (m *Model) syncSizes() {
	st, rects, _ := m.paneRects()
	hdr := headerRows(st)
	for _, r := range rects {
		m.wb.ResizePane(r.ID, max(1, r.Width), max(1, r.Height-hdr))
	}
}

func (m *Model) activeTerm() *emulator.Terminal {
	return m.wb.Terminal(m.wb.Active())
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	st, rects, divs := m.paneRects()
	hdr := headerRows(st)

	hitPane := func() (layout.Rect, bool) {
		for _, r := range rects {
			if msg.X >= r.X && msg.X < r.X+r.Width && msg.Y >= r.Y && msg.Y < r.Y+r.Height {
				return r, true
			}
		}
		return layout.Rect{}, false
	}
	axisPos := func() float64 {
		if st.Orientation == layout.Horizontal {
			y0, _, _ := m.paneArea()
			return float64((msg.Y - y0) * cellPxH)
		}
		return float64(msg.X * cellPxW)
	}
	cellPos := func(r layout.Rect, t *emulator.Terminal) emulator.Pos {
		row := max(0, msg.Y-r.Y-hdr)
		return emulator.Pos{Row: t.ViewportTop() + row, Col: max(0, msg.X-r.X)}
	}

	switch {
	case msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown:
		delta := wheelStep
		if msg.Button == tea.MouseButtonWheelUp {
			delta = -wheelStep
		}
		id := m.wb.Active()
		if r, ok := hitPane(); ok {
			id = r.ID
		}
		if t := m.wb.Terminal(id); t != nil {
			t.ScrollBy(delta)
		}

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		if msg.Y == 0 {
			if id, ok := tabAt(layoutTabs(m.wb.Sessions(), m.width), msg.X); ok {
				_ = m.wb.SetActive(id)
				m.syncSizes()
			}
			return
		}
		for _, d := range divs {
			if msg.X >= d.X && msg.X < d.X+d.Width && msg.Y >= d.Y && msg.Y < d.Y+d.Height {
				_, w, h := m.paneArea()
				total := float64(w * cellPxW)
				if st.Orientation == layout.Horizontal {
					total = float64(h * cellPxH)
				}
				if err := m.wb.BeginDrag(total, axisPos()); err == nil {
					m.dragging = true
				}
				return
			}
		}
		if r, ok := hitPane(); ok {
			_ = m.wb.SetActive(r.ID)
			if t := m.wb.Terminal(r.ID); t != nil {
				t.ClearSelection()
				m.selecting = &selection{id: r.ID, anchor: cellPos(r, t)}
			}
		}

	case msg.Action == tea.MouseActionMotion:
		if m.dragging {
			m.wb.DragMove(axisPos())
			return
		}
		if m.selecting == nil {
			return
		}
		for _, r := range rects {
			if r.ID != m.selecting.id {
				continue
			}
			if t := m.wb.Terminal(r.ID); t != nil {
				end := cellPos(r, t)
				end.Col++
				t.Select(m.selecting.anchor, end)
			}
		}

	case msg.Action == tea.MouseActionRelease:
		if m.dragging {
			m.dragging = false
			m.wb.EndDrag()
			m.syncSizes()
		}
		m.selecting = nil
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width <= 0 || m.height <= 2 {
		return ""
	}
	st := currentStyles()
	var b strings.Builder
	b.WriteString(m.renderTabs(st))
	b.WriteByte('\n')
	if m.mode == modePick {
		b.WriteString(m.renderPicks(st))
	} else {
		b.WriteString(m.renderPanes(st))
	}
	b.WriteByte('\n')
	b.WriteString(m.renderStatus(st))
	return b.String()
}

func (m *Model) renderTabs(st styleSet) string {
	active := m.wb.Active()
	var b strings.Builder
	used := 0
	for _, t := range layoutTabs(m.wb.Sessions(), m.width) {
		style := st.Tab
		switch {
		case t.ID == active:
			style = st.TabActive
		default:
			if _, exited := m.wb.ExitCode(t.ID); exited {
				style = st.TabExited
			}
		}
		b.WriteString(style.Render(t.Text))
		used = t.X1
	}
	if pad := m.width - used; pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return b.String()
}

func (m *Model) renderPanes(st styleSet) string {
	_, w, h := m.paneArea()
	if h <= 0 {
		return ""
	}
	ls, rects, divs := m.paneRects()
	if len(rects) == 0 {
		msg := "no sessions · ctrl+b c to create one"
		if cs := m.wb.ConnState(); !cs.TransportOpen {
			msg = "connecting to session host…"
		}
		return lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, st.Dim.Render(msg))
	}

	hdr := headerRows(ls)
	parts := make([]string, 0, len(rects)+len(divs))
	for i, r := range rects {
		parts = append(parts, m.renderPane(st, r, hdr))
		if i < len(divs) {
			d := divs[i]
			if ls.Orientation == layout.Horizontal {
				parts = append(parts, st.Divider.Render(strings.Repeat("─", d.Width)))
			} else {
				parts = append(parts, st.Divider.Render(strings.TrimSuffix(strings.Repeat("│\n", d.Height), "\n")))
			}
		}
	}
	if ls.Orientation == layout.Horizontal {
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderPane(st styleSet, r layout.Rect, hdr int) string {
	lines := make([]string, 0, r.Height)
	if hdr > 0 {
		s, _ := m.wb.Session(r.ID)
		style := st.PaneTitle
		if r.ID == m.wb.Active() {
			style = st.PaneTitleOn
		}
		lines = append(lines, style.Render(fit(" "+s.Label, r.Width)))
	}

	rows := r.Height - hdr
	t := m.wb.Terminal(r.ID)
	if t == nil {
		for range rows {
			lines = append(lines, fit("", r.Width))
		}
		return strings.Join(lines, "\n")
	}

	vp := t.Viewport()
	top := t.ViewportTop()
	matches, current := t.Matches()
	for i := range rows {
		line := ""
		if i < len(vp) {
			line = vp[i]
		}
		lines = append(lines, renderLine(line, rowSpans(matches, current, top+i), r.Width, st))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderPicks(st styleSet) string {
	_, w, h := m.paneArea()
	var items []string
	for i, s := range m.picks {
		if i >= h-3 {
			break
		}
		text := fit(fmt.Sprintf("%s  %s", s.Label, s.Cwd), min(60, w-8))
		if i == m.pickCursor {
			items = append(items, st.PickSelected.Render(text))
		} else {
			items = append(items, st.PickItem.Render(text))
		}
	}
	if len(items) == 0 {
		items = append(items, st.Dim.Render("no matching sessions"))
	}
	box := st.Dialog.Render(strings.Join(items, "\n"))
	return lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) renderStatus(st styleSet) string {
	if m.mode != modeNormal {
		text := m.input.View()
		if m.mode == modeFind {
			f := m.wb.Find()
			counter := "no results"
			if f.ResultCount > 0 {
				counter = fmt.Sprintf("%d/%d", f.ResultIndex+1, f.ResultCount)
			}
			text += "  " + counter + "  " + findFlags(m.findOpts)
		}
		return st.StatusBar.Render(fit(text, m.width))
	}

	cs := m.wb.ConnState()
	conn := st.StatusWarn.Render("○ connecting")
	switch {
	case cs.TransportOpen && cs.DirectorySynced:
		conn = st.StatusOK.Render("● connected")
	case cs.TransportOpen:
		conn = st.StatusWarn.Render("◐ syncing")
	}

	left := " " + m.wb.WorkspaceRoot()
	if m.wb.ScrollLock() {
		left += "  [lock]"
	}
	if m.prefix {
		left += "  " + st.StatusKey.Render("PREFIX")
	}
	right := "ctrl+b: c new  % split  x kill  / find  g go  d detach "
	if m.status != "" {
		right = m.status + " "
	}

	connW := lipgloss.Width(conn)
	leftW := lipgloss.Width(left)
	room := m.width - connW - leftW
	if room <= 0 {
		return st.StatusBar.Render(fit(" "+m.wb.WorkspaceRoot(), m.width))
	}
	rightText := lipgloss.PlaceHorizontal(room, lipgloss.Right, runewidth.Truncate(right, room, ""))
	if m.statusErr && m.status != "" {
		rightText = st.Error.Render(rightText)
	}
	return conn + st.StatusBar.Render(left) + st.StatusBar.Render(rightText)
}

func findFlags(o emulator.FindOptions) string {
	flag := func(on bool, name string) string {
		if on {
			return "[" + name + "]"
		}
		return " " + name + " "
	}
	return flag(o.CaseSensitive, "Aa") + flag(o.WholeWord, "W") + flag(o.Regex, ".*")
}
