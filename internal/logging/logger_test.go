package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)

	var records []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line: %s", sc.Text())
		records = append(records, rec)
	}
	return records
}

func TestInitWritesJSONLines(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	Logger().Info("test_message", "key", "value")

	records := readRecords(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, "test_message", records[0]["msg"])
	assert.Equal(t, "value", records[0]["key"])
}

func TestInitNonDebugDiscards(t *testing.T) {
	Shutdown()

	Init(Config{})
	defer Shutdown()

	require.NotNil(t, Logger())
	Logger().Info("this goes nowhere")
}

func TestForComponentBeforeInit(t *testing.T) {
	Shutdown()

	// Declared before Init, like a package-level var.
	connLog := ForComponent(CompConn)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	connLog.Debug("probe_failed", slog.String("url", "http://127.0.0.1:8000/sessions"))

	records := readRecords(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, CompConn, records[0]["component"])
	assert.Equal(t, "probe_failed", records[0]["msg"])
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	l := ForComponent(CompLayout)
	l.Info("dropped")
	l.Warn("kept")

	records := readRecords(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
