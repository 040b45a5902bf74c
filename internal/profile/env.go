// Package profile holds per-profile environment overrides applied when a
// terminal session is created.
package profile

import (
	"maps"
	"strings"
	"sync"

	"github.com/termdeck/termdeck/internal/protocol"
)

// Version is reported to shells through TERM_PROGRAM_VERSION.
var Version = "0.1.0"

// BaseEnv returns the fixed environment every session starts with.
func BaseEnv() map[string]string {
	return map[string]string{
		"TERM_PROGRAM":               "termdeck",
		"TERM_PROGRAM_VERSION":       Version,
		"COLORTERM":                  "truecolor",
		"TERMDECK_SHELL_INTEGRATION": "1",
	}
}

// ParseEnvText parses one KEY=VALUE per line. Blank lines, lines starting with
// '#', and lines without a key before '=' are skipped. Later keys win.
func ParseEnvText(text string) map[string]string {
	out := make(map[string]string)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(line[idx+1:])
	}
	return out
}

// Store keeps the user-edited env text block of each profile.
type Store struct {
	mu      sync.RWMutex
	envText map[protocol.Profile]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{envText: make(map[protocol.Profile]string)}
}

// SetEnvText replaces the env text of a profile. Sessions that already exist
// keep the environment they were created with.
func (s *Store) SetEnvText(p protocol.Profile, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envText[protocol.NormalizeProfile(string(p))] = text
}

// EnvText returns the raw text block of a profile.
func (s *Store) EnvText(p protocol.Profile) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.envText[protocol.NormalizeProfile(string(p))]
}

// Snapshot returns a copy of every profile's env text, with all known
// profiles present.
func (s *Store) Snapshot() map[protocol.Profile]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[protocol.Profile]string, len(protocol.Profiles))
	for _, p := range protocol.Profiles {
		out[p] = s.envText[p]
	}
	return out
}

// Replace swaps in a full set of env text blocks.
func (s *Store) Replace(texts map[protocol.Profile]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envText = make(map[protocol.Profile]string, len(texts))
	for p, text := range texts {
		s.envText[protocol.NormalizeProfile(string(p))] = text
	}
}

// EnvFor merges the base environment with the profile's overrides.
// User-provided keys override base keys.
func (s *Store) EnvFor(p protocol.Profile) map[string]string {
	env := BaseEnv()
	maps.Copy(env, ParseEnvText(s.EnvText(p)))
	return env
}
