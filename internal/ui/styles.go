package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// currentTheme holds the active theme (set at init)
var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Orange, Red lipgloss.Color
	// MatchBg and MatchCurrentBg highlight find hits.
	MatchBg, MatchCurrentBg lipgloss.Color
}

// Dark Theme - Tokyo Night
var darkColors = palette{
	Bg:             lipgloss.Color("#1a1b26"),
	Surface:        lipgloss.Color("#24283b"),
	Border:         lipgloss.Color("#414868"),
	Text:           lipgloss.Color("#c0caf5"),
	TextDim:        lipgloss.Color("#787fa0"),
	Accent:         lipgloss.Color("#7aa2f7"),
	Green:          lipgloss.Color("#9ece6a"),
	Yellow:         lipgloss.Color("#e0af68"),
	Orange:         lipgloss.Color("#ff9e64"),
	Red:            lipgloss.Color("#f7768e"),
	MatchBg:        lipgloss.Color("#3d59a1"),
	MatchCurrentBg: lipgloss.Color("#e0af68"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = palette{
	Bg:             lipgloss.Color("#d5d6db"),
	Surface:        lipgloss.Color("#e9e9ec"),
	Border:         lipgloss.Color("#9699a3"),
	Text:           lipgloss.Color("#343b58"),
	TextDim:        lipgloss.Color("#6a6d7c"),
	Accent:         lipgloss.Color("#34548a"),
	Green:          lipgloss.Color("#485e30"),
	Yellow:         lipgloss.Color("#8f5e15"),
	Orange:         lipgloss.Color("#965027"),
	Red:            lipgloss.Color("#8c4351"),
	MatchBg:        lipgloss.Color("#b6c4e8"),
	MatchCurrentBg: lipgloss.Color("#f0c674"),
}

// Active palette (set by InitTheme)
var colors palette

// themeMu protects the palette and styles during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette based on theme name.
// Must be called before any UI rendering
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == string(ThemeLight) {
		currentTheme = ThemeLight
		colors = lightColors
	} else {
		currentTheme = ThemeDark
		colors = darkColors
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme(string(ThemeDark))
}

// styleSet is every style the workbench view draws with.
type styleSet struct {
	Tab          lipgloss.Style
	TabActive    lipgloss.Style
	TabExited    lipgloss.Style
	Divider      lipgloss.Style
	PaneTitle    lipgloss.Style
	PaneTitleOn  lipgloss.Style
	StatusBar    lipgloss.Style
	StatusKey    lipgloss.Style
	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	Error        lipgloss.Style
	Dim          lipgloss.Style
	Prompt       lipgloss.Style
	Match        lipgloss.Style
	MatchCurrent lipgloss.Style
	PickItem     lipgloss.Style
	PickSelected lipgloss.Style
	Dialog       lipgloss.Style
}

var styles styleSet

func initStyles() {
	c := colors
	styles = styleSet{
		Tab:          lipgloss.NewStyle().Foreground(c.TextDim).Padding(0, 1),
		TabActive:    lipgloss.NewStyle().Foreground(c.Bg).Background(c.Accent).Bold(true).Padding(0, 1),
		TabExited:    lipgloss.NewStyle().Foreground(c.Red).Padding(0, 1),
		Divider:      lipgloss.NewStyle().Foreground(c.Border),
		PaneTitle:    lipgloss.NewStyle().Foreground(c.TextDim),
		PaneTitleOn:  lipgloss.NewStyle().Foreground(c.Accent).Bold(true),
		StatusBar:    lipgloss.NewStyle().Foreground(c.Text).Background(c.Surface),
		StatusKey:    lipgloss.NewStyle().Foreground(c.Accent).Background(c.Surface).Bold(true),
		StatusOK:     lipgloss.NewStyle().Foreground(c.Green).Background(c.Surface),
		StatusWarn:   lipgloss.NewStyle().Foreground(c.Orange).Background(c.Surface),
		Error:        lipgloss.NewStyle().Foreground(c.Red).Bold(true),
		Dim:          lipgloss.NewStyle().Foreground(c.TextDim),
		Prompt:       lipgloss.NewStyle().Foreground(c.Yellow).Bold(true),
		Match:        lipgloss.NewStyle().Background(c.MatchBg),
		MatchCurrent: lipgloss.NewStyle().Background(c.MatchCurrentBg).Foreground(c.Bg),
		PickItem:     lipgloss.NewStyle().Padding(0, 2),
		PickSelected: lipgloss.NewStyle().Padding(0, 2).Background(c.Accent).Foreground(c.Bg),
		Dialog: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(c.Accent).
			Padding(0, 1),
	}
}

// currentStyles returns the styles of the active theme.
func currentStyles() styleSet {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return styles
}
