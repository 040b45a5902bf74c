package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/termdeck/termdeck/internal/protocol"
)

func TestParseEnvText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "FOO=bar", map[string]string{"FOO": "bar"}},
		{"comments and blanks", "# comment\n\nFOO=bar\n  # indented comment", map[string]string{"FOO": "bar"}},
		{"crlf", "A=1\r\nB=2\r\n", map[string]string{"A": "1", "B": "2"}},
		{"malformed skipped", "NOEQUALS\n=value\nOK=yes", map[string]string{"OK": "yes"}},
		{"value keeps equals", "URL=http://x?a=b", map[string]string{"URL": "http://x?a=b"}},
		{"trims whitespace", "  KEY  =  spaced value  ", map[string]string{"KEY": "spaced value"}},
		{"later wins", "A=1\nA=2", map[string]string{"A": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEnvText(tt.text))
		})
	}
}

func TestEnvForMergesBase(t *testing.T) {
	s := NewStore()
	s.SetEnvText(protocol.ProfileBash, "EDITOR=vim\nCOLORTERM=256color")

	env := s.EnvFor(protocol.ProfileBash)
	assert.Equal(t, "vim", env["EDITOR"])
	assert.Equal(t, "256color", env["COLORTERM"], "user value overrides base")
	assert.Equal(t, "termdeck", env["TERM_PROGRAM"])

	other := s.EnvFor(protocol.ProfileCmd)
	assert.NotContains(t, other, "EDITOR")
	assert.Equal(t, "truecolor", other["COLORTERM"])
}

func TestEnvForIsNotRetroactive(t *testing.T) {
	s := NewStore()
	s.SetEnvText(protocol.ProfileCmd, "A=1")
	created := s.EnvFor(protocol.ProfileCmd)

	s.SetEnvText(protocol.ProfileCmd, "A=2")
	assert.Equal(t, "1", created["A"])
	assert.Equal(t, "2", s.EnvFor(protocol.ProfileCmd)["A"])
}

func TestSnapshotListsAllProfiles(t *testing.T) {
	s := NewStore()
	s.SetEnvText("unknown", "X=1")

	snap := s.Snapshot()
	assert.Len(t, snap, len(protocol.Profiles))
	assert.Equal(t, "X=1", snap[protocol.DefaultProfile])
	assert.Equal(t, "", snap[protocol.ProfileBash])
}
