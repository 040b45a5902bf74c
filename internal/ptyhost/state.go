package ptyhost

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxStateBytes bounds a stored workspace state document.
const maxStateBytes = 200_000

// StateFile returns where the state of a workspace is kept.
func StateFile(root string) string {
	return filepath.Join(root, ".ai-agent", "terminal-state.json")
}

func (s *Server) workspaceRoot(r *http.Request) string {
	if root := strings.TrimSpace(r.Header.Get("x-workspace-root")); root != "" {
		return root
	}
	if s.cfg.WorkspaceRoot != "" {
		return s.cfg.WorkspaceRoot
	}
	wd, _ := os.Getwd()
	return wd
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getState(w, r)
	case http.MethodPut:
		s.putState(w, r)
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	raw, err := os.ReadFile(StateFile(s.workspaceRoot(r)))
	if err != nil || len(raw) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) putState(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxStateBytes+1))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "failed to read terminal state")
		return
	}
	if len(raw) > maxStateBytes {
		writeAPIError(w, http.StatusRequestEntityTooLarge, "terminal state payload too large")
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		doc = map[string]any{}
	}
	out, _ := json.Marshal(doc)

	path := StateFile(s.workspaceRoot(r))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeAPIError(w, http.StatusBadRequest, "failed to save terminal state")
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		writeAPIError(w, http.StatusBadRequest, "failed to save terminal state")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		writeAPIError(w, http.StatusBadRequest, "failed to save terminal state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
