package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/directory"
	"github.com/termdeck/termdeck/internal/emulator"
	"github.com/termdeck/termdeck/internal/workbench"
)

func TestKeyInput(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want string
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")}, "ls"},
		{"alt rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b"), Alt: true}, "\x1bb"},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, "\r"},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, "\x7f"},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, "\x03"},
		{"ctrl+d", tea.KeyMsg{Type: tea.KeyCtrlD}, "\x04"},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, "\x1b[A"},
		{"page down", tea.KeyMsg{Type: tea.KeyPgDown}, "\x1b[6~"},
		{"paste", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a\nb"), Paste: true}, "a\nb"},
		{"unmapped", tea.KeyMsg{Type: tea.KeyF12}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyInput(tt.msg))
		})
	}
}

func TestLookupCommand(t *testing.T) {
	assert.Equal(t, CmdNewSession, LookupCommand("c"))
	assert.Equal(t, CmdSplitVertical, LookupCommand("%"))
	assert.Equal(t, CmdSplitProfile, LookupCommand("P"))
	assert.Equal(t, CmdSendPrefix, LookupCommand(PrefixKey))
	assert.Equal(t, CmdNone, LookupCommand("z"))
}

func TestRenderLinePadsAndTruncates(t *testing.T) {
	st := currentStyles()
	assert.Equal(t, "abc  ", renderLine("abc", nil, 5, st))
	assert.Equal(t, "abcde", renderLine("abcdefgh", nil, 5, st))
	assert.Equal(t, "", renderLine("abc", nil, 0, st))

	// Wide runes count two cells.
	out := renderLine("日本", nil, 5, st)
	assert.Equal(t, "日本 ", out)
}

func TestRenderLineHighlightsKeepText(t *testing.T) {
	st := currentStyles()
	out := renderLine("foo bar foo", []span{{start: 0, end: 3}, {start: 8, end: 11, current: true}}, 12, st)
	assert.Contains(t, out, "bar")
	assert.Equal(t, 2, strings.Count(out, "foo"))

	// Spans past the truncation point are dropped.
	out = renderLine("foo bar", []span{{start: 4, end: 7}}, 3, st)
	assert.Equal(t, "foo", out)
}

func TestRowSpans(t *testing.T) {
	matches := []emulator.Match{
		{Row: 1, Start: 5, End: 7},
		{Row: 0, Start: 0, End: 2},
		{Row: 1, Start: 0, End: 2},
	}
	spans := rowSpans(matches, 2, 1)
	require.Len(t, spans, 2)
	assert.Equal(t, span{start: 0, end: 2, current: true}, spans[0])
	assert.Equal(t, span{start: 5, end: 7}, spans[1])
	assert.Empty(t, rowSpans(matches, 0, 9))
}

func TestLayoutTabsAndHitTest(t *testing.T) {
	sessions := []directory.Session{
		{ID: "a", Label: "bash (1)"},
		{ID: "b", Label: "bash (2)"},
		{ID: "c", Label: strings.Repeat("x", 40)},
	}
	tabs := layoutTabs(sessions, 80)
	require.Len(t, tabs, 3)
	assert.Equal(t, 0, tabs[0].X0)
	assert.Equal(t, 10, tabs[0].X1)
	assert.Equal(t, 10, tabs[1].X0)
	assert.LessOrEqual(t, tabs[2].X1-tabs[2].X0, maxTabLabel+2)

	id, ok := tabAt(tabs, 12)
	assert.True(t, ok)
	assert.Equal(t, "b", id)
	_, ok = tabAt(tabs, 79)
	assert.False(t, ok)

	assert.Len(t, layoutTabs(sessions, 15), 1, "tabs that do not fit are dropped")
}

func TestFit(t *testing.T) {
	assert.Equal(t, "ab  ", fit("ab", 4))
	assert.Equal(t, "abcd", fit("abcdef", 4))
	assert.Equal(t, "", fit("abc", 0))
}

func TestResolveThemeExplicit(t *testing.T) {
	assert.Equal(t, ThemeDark, ResolveTheme("dark"))
	assert.Equal(t, ThemeLight, ResolveTheme("light"))
}

func TestInitThemeSwitchesPalette(t *testing.T) {
	t.Cleanup(func() { InitTheme(string(ThemeDark)) })
	InitTheme(string(ThemeLight))
	assert.Equal(t, ThemeLight, GetCurrentTheme())
	InitTheme("anything")
	assert.Equal(t, ThemeDark, GetCurrentTheme())
}

func TestEventBridgeNeverBlocks(t *testing.T) {
	b := NewEventBridge()
	for range 200 {
		b.Notify(workbench.EventOutput)
	}
	msg := listenForEvents(b)()
	assert.Equal(t, eventMsg(workbench.EventOutput), msg)
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	bridge := NewEventBridge()
	wb := workbench.New(workbench.Options{OnChange: bridge.Notify})
	t.Cleanup(func() { _ = wb.Close() })
	m := New(wb, bridge, Options{Theme: "dark"})
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m
}

func TestModelEmptyView(t *testing.T) {
	m := newTestModel(t)
	view := m.View()
	assert.Contains(t, view, "connecting to session host")
	assert.Len(t, strings.Split(view, "\n"), 24)
}

func TestModelPrefixCommands(t *testing.T) {
	m := newTestModel(t)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	assert.True(t, m.prefix)
	assert.Contains(t, m.View(), "PREFIX")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("[")})
	assert.False(t, m.prefix)
	assert.True(t, m.wb.ScrollLock())
	assert.Equal(t, "scroll lock on", m.status)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelQuickPickOpensAndCloses(t *testing.T) {
	m := newTestModel(t)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	assert.Equal(t, modePick, m.mode)
	assert.Contains(t, m.View(), "no matching sessions")

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeNormal, m.mode)
}

func TestModelFindNeedsSession(t *testing.T) {
	m := newTestModel(t)
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	assert.Equal(t, modeNormal, m.mode, "find stays closed without an active session")
}

func TestFindFlags(t *testing.T) {
	assert.Equal(t, " Aa  W  .* ", findFlags(emulator.FindOptions{}))
	assert.Equal(t, "[Aa] W [.*]", findFlags(emulator.FindOptions{CaseSensitive: true, Regex: true}))
}
