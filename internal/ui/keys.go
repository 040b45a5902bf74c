package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// PrefixKey starts a workbench command. Every other key goes to the active
// session.
const PrefixKey = "ctrl+b"

// Command is a workbench action bound to a key after the prefix.
type Command int

const (
	CmdNone Command = iota
	CmdNewSession
	CmdKill
	CmdSplitVertical
	CmdSplitHorizontal
	CmdSplitProfile
	CmdToggleSplit
	CmdClosePane
	CmdToggleOrientation
	CmdNextPane
	CmdPrevPane
	CmdNextSession
	CmdPrevSession
	CmdMoveLeft
	CmdMoveRight
	CmdRename
	CmdFind
	CmdQuickPick
	CmdScrollLock
	CmdCopy
	CmdPaste
	CmdClear
	CmdSendPrefix
	CmdDetach
)

// prefixBindings maps the key pressed after PrefixKey to a command.
var prefixBindings = map[string]Command{
	"c":         CmdNewSession,
	"x":         CmdKill,
	"%":         CmdSplitVertical,
	"\"":        CmdSplitHorizontal,
	"P":         CmdSplitProfile,
	"s":         CmdToggleSplit,
	"q":         CmdClosePane,
	"t":         CmdToggleOrientation,
	"o":         CmdNextPane,
	"tab":       CmdNextPane,
	"shift+tab": CmdPrevPane,
	"n":         CmdNextSession,
	"p":         CmdPrevSession,
	"<":         CmdMoveLeft,
	">":         CmdMoveRight,
	",":         CmdRename,
	"/":         CmdFind,
	"f":         CmdFind,
	"g":         CmdQuickPick,
	"[":         CmdScrollLock,
	"y":         CmdCopy,
	"]":         CmdPaste,
	"l":         CmdClear,
	"ctrl+b":    CmdSendPrefix,
	"d":         CmdDetach,
}

// LookupCommand returns the command bound to key after the prefix.
func LookupCommand(key string) Command {
	return prefixBindings[key]
}

var keySequences = map[tea.KeyType]string{
	tea.KeyEnter:     "\r",
	tea.KeyTab:       "\t",
	tea.KeyBackspace: "\x7f",
	tea.KeyEsc:       "\x1b",
	tea.KeySpace:     " ",
	tea.KeyUp:        "\x1b[A",
	tea.KeyDown:      "\x1b[B",
	tea.KeyRight:     "\x1b[C",
	tea.KeyLeft:      "\x1b[D",
	tea.KeyHome:      "\x1b[H",
	tea.KeyEnd:       "\x1b[F",
	tea.KeyPgUp:      "\x1b[5~",
	tea.KeyPgDown:    "\x1b[6~",
	tea.KeyDelete:    "\x1b[3~",
	tea.KeyInsert:    "\x1b[2~",
	tea.KeyShiftTab:  "\x1b[Z",
	tea.KeyF1:        "\x1bOP",
	tea.KeyF2:        "\x1bOQ",
	tea.KeyF3:        "\x1bOR",
	tea.KeyF4:        "\x1bOS",
}

// KeyInput translates a key press into the bytes a terminal sends for it.
// It returns "" for keys with no terminal encoding.
func KeyInput(msg tea.KeyMsg) string {
	var out string
	switch {
	case msg.Type == tea.KeyRunes:
		out = string(msg.Runes)
	case keySequences[msg.Type] != "":
		out = keySequences[msg.Type]
	case msg.Type >= tea.KeyCtrlAt && msg.Type <= tea.KeyCtrlUnderscore:
		// Control keys share their value with the C0 code they send.
		out = string(rune(msg.Type))
	default:
		return ""
	}
	if msg.Paste {
		return out
	}
	if msg.Alt {
		out = "\x1b" + out
	}
	return out
}
