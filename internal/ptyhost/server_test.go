package ptyhost

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/protocol"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestSessionsEmpty(t *testing.T) {
	srv := NewServer(Config{})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDeleteUnknownSession(t *testing.T) {
	srv := NewServer(Config{})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/sessions/nope", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"detail":"session not found"}`, rr.Body.String())
}

func TestStateMissingReturnsEmptyObject(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(Config{})

	req := httptest.NewRequest(http.MethodGet, "/terminal/state", nil)
	req.Header.Set("x-workspace-root", root)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())
}

func TestStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(Config{WorkspaceRoot: root})

	doc := `{"activeId":"a","split":{"enabled":true,"orientation":"vertical","paneIds":["a","b"],"ratio":0.4}}`
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/terminal/state", strings.NewReader(doc)))
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := os.Stat(filepath.Join(root, ".ai-agent", "terminal-state.json"))
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/terminal/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, doc, rr.Body.String())
}

func TestStateHeaderOverridesConfiguredRoot(t *testing.T) {
	configured, header := t.TempDir(), t.TempDir()
	srv := NewServer(Config{WorkspaceRoot: configured})

	req := httptest.NewRequest(http.MethodPut, "/terminal/state", strings.NewReader(`{"activeId":"x"}`))
	req.Header.Set("x-workspace-root", header)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := os.Stat(StateFile(header))
	assert.NoError(t, err)
	_, err = os.Stat(StateFile(configured))
	assert.True(t, os.IsNotExist(err))
}

func TestStateRejectsOversizedBody(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(Config{WorkspaceRoot: root})

	big := `{"pad":"` + strings.Repeat("x", maxStateBytes) + `"}`
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/terminal/state", strings.NewReader(big)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	_, err := os.Stat(StateFile(root))
	assert.True(t, os.IsNotExist(err))
}

func TestStateNonObjectStoredAsEmpty(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(Config{WorkspaceRoot: root})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/terminal/state", strings.NewReader(`[1,2]`)))
	require.Equal(t, http.StatusOK, rr.Code)

	raw, err := os.ReadFile(StateFile(root))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestAllowWSOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://127.0.0.1:8000", true},
		{"other host", "http://evil.example", false},
		{"bad origin", "://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8000/terminal/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, allowWSOrigin(req))
		})
	}
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv([]string{"PATH=/bin", "HOME=/root", "EMPTY="}, map[string]string{"HOME": "/home/me", "FOO": "a=b"})
	assert.Equal(t, []string{
		"EMPTY=",
		"FOO=a=b",
		"HOME=/home/me",
		"PATH=/bin",
		"TERM=xterm-256color",
	}, env)

	env = buildEnv([]string{"TERM=screen"}, nil)
	assert.Equal(t, []string{"TERM=screen"}, env)
}

func TestCompleteUTF8(t *testing.T) {
	euro := []byte("€") // 3 bytes
	assert.Equal(t, 0, completeUTF8(nil))
	assert.Equal(t, 2, completeUTF8([]byte("ab")))
	assert.Equal(t, 5, completeUTF8(append([]byte("ab"), euro...)))
	assert.Equal(t, 2, completeUTF8(append([]byte("ab"), euro[:1]...)))
	assert.Equal(t, 2, completeUTF8(append([]byte("ab"), euro[:2]...)))
	// A stray continuation byte is passed through.
	assert.Equal(t, 3, completeUTF8([]byte{'a', 'b', 0x80}))
}

func TestSanitizeCwd(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()

	assert.Equal(t, wd, sanitizeCwd(""))
	assert.Equal(t, wd, sanitizeCwd(filepath.Join(dir, "missing")))
	assert.Equal(t, dir, sanitizeCwd(dir))

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Equal(t, wd, sanitizeCwd(file))
}

func TestSafeSize(t *testing.T) {
	assert.Equal(t, 80, safeSize(0, 80))
	assert.Equal(t, 24, safeSize(-5, 24))
	assert.Equal(t, 1, safeSize(1, 80))
	assert.Equal(t, 132, safeSize(132, 80))
	assert.Equal(t, maxTermSize, safeSize(65536, 80), "must not wrap to zero in uint16")
	assert.Equal(t, maxTermSize, safeSize(1<<40, 80))
	assert.Equal(t, 1, clampSize(-3))
}

func TestParseShellAndPick(t *testing.T) {
	sh, ok := ParseShell("  /usr/bin/fish -l ")
	require.True(t, ok)
	assert.Equal(t, Shell{Command: "/usr/bin/fish", Args: []string{"-l"}, Title: "fish"}, sh)

	_, ok = ParseShell("   ")
	assert.False(t, ok)

	srv := NewServer(Config{Shells: map[protocol.Profile]Shell{
		protocol.ProfileBash: {Command: "/bin/zsh"},
	}})
	assert.Equal(t, "zsh", srv.pickShell(protocol.ProfileBash).Title)
	assert.NotEmpty(t, srv.pickShell(protocol.ProfileCmd).Command)
}
