package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/termdeck/internal/protocol"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "ws://127.0.0.1:8000/terminal/ws", c.Backend.URL)
	assert.Equal(t, 500*time.Millisecond, c.ProbeTimeout())
	assert.Equal(t, 1200*time.Millisecond, c.RetryInterval())
	assert.Equal(t, 5*time.Second, c.CreateTimeout())
	assert.Equal(t, "cmd", c.Terminal.DefaultProfile)
	assert.Equal(t, 4000, c.Terminal.Scrollback)
	require.NotNil(t, c.Terminal.ConvertEOL)
	assert.True(t, *c.Terminal.ConvertEOL)
	assert.Equal(t, 80, c.Terminal.Cols)
	assert.Equal(t, 24, c.Terminal.Rows)
	assert.Equal(t, "127.0.0.1:8000", c.Server.Listen)
	assert.Equal(t, "auto", c.UI.Theme)
}

func TestLoadFileMissing(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
url = "ws://host:9000/terminal/ws"
retry_interval_ms = 250

[terminal]
default_profile = "bash"
scrollback = 5
convert_eol = false

[profiles.env]
bash = "FOO=1\nBAR=2"
fish = "IGNORED=1"

[ui]
theme = "neon"
`), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://host:9000/terminal/ws", c.Backend.URL)
	assert.Equal(t, 250*time.Millisecond, c.RetryInterval())
	assert.Equal(t, 500*time.Millisecond, c.ProbeTimeout())
	assert.Equal(t, "bash", c.Terminal.DefaultProfile)
	assert.Equal(t, 100, c.Terminal.Scrollback, "scrollback is clamped")
	assert.False(t, *c.Terminal.ConvertEOL)
	assert.Equal(t, "auto", c.UI.Theme)
	assert.Equal(t, map[protocol.Profile]string{protocol.ProfileBash: "FOO=1\nBAR=2"}, c.ProfileEnv())
}

func TestLoadFileParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[backend\n"), 0o600))

	c, err := LoadFile(path)
	assert.Error(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadUsesHomeAndCaches(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	ClearCache()
	t.Cleanup(ClearCache)

	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("[server]\nlisten = \"127.0.0.1:9999\"\n"), 0o600))
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", c.Server.Listen)

	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("[server]\nlisten = \"127.0.0.1:1\"\n"), 0o600))
	c, _ = Load()
	assert.Equal(t, "127.0.0.1:9999", c.Server.Listen, "cached")

	c, err = Reload()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", c.Server.Listen)

	db, err := DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DBFileName), db)
}

func TestLoggingConfig(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/td")
	c := Default()
	c.Logs.Level = "debug"
	lc := c.LoggingConfig()
	assert.Equal(t, "/tmp/td", lc.LogDir)
	assert.Equal(t, "debug", lc.Level)
}

func TestWorkspaceRoot(t *testing.T) {
	c := Default()
	wd, _ := os.Getwd()
	assert.Equal(t, wd, c.WorkspaceRoot())
	c.Workspace.Root = "/srv/app"
	assert.Equal(t, "/srv/app", c.WorkspaceRoot())
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	var mu sync.Mutex
	var got []*Config
	w, err := Watch(path, func(c *Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("[profiles.env]\ncmd = \"A=1\"\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Profiles.Env["cmd"] == "A=1"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
