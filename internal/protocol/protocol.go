// Package protocol defines the JSON frames exchanged between the terminal
// multiplexer and the session-hosting backend over a single websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types sent by the client.
const (
	TypeCreate  = "create"
	TypeInput   = "input"
	TypeResize  = "resize"
	TypeDispose = "dispose"
	TypeList    = "list"
)

// Frame types sent by the backend. "list" is shared with the client request.
const (
	TypeHello    = "hello"
	TypeCreated  = "created"
	TypeData     = "data"
	TypeExit     = "exit"
	TypeDisposed = "disposed"
	TypeError    = "error"
)

// BootRequestID tags the directory refresh issued right after the transport opens.
const BootRequestID = "boot"

// Profile names a shell configuration.
type Profile string

const (
	ProfileCmd        Profile = "cmd"
	ProfilePowerShell Profile = "powershell"
	ProfileBash       Profile = "bash"
)

// DefaultProfile is used when a frame carries no or an unknown profile.
const DefaultProfile = ProfileCmd

// Profiles lists every known profile in display order.
var Profiles = []Profile{ProfileCmd, ProfilePowerShell, ProfileBash}

// NormalizeProfile maps unknown values to DefaultProfile.
func NormalizeProfile(s string) Profile {
	switch Profile(s) {
	case ProfileCmd, ProfilePowerShell, ProfileBash:
		return Profile(s)
	default:
		return DefaultProfile
	}
}

// ErrMalformed is returned for frames that are not valid protocol messages.
var ErrMalformed = errors.New("protocol: malformed frame")

// Terminal is the backend's description of one live session.
type Terminal struct {
	ID      string  `json:"id"`
	PID     int     `json:"pid"`
	Title   string  `json:"title"`
	Profile Profile `json:"profile"`
	Cwd     string  `json:"cwd"`
}

// Message is the union of every frame on the wire. Only the fields relevant
// to Type are populated.
type Message struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
	ID        string            `json:"id,omitempty"`
	PID       int               `json:"pid,omitempty"`
	Title     string            `json:"title,omitempty"`
	Profile   Profile           `json:"profile,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Cols      int               `json:"cols,omitempty"`
	Rows      int               `json:"rows,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Data      string            `json:"data,omitempty"`
	ExitCode  int               `json:"exitCode,omitempty"`
	Signal    int               `json:"signal,omitempty"`
	Terminals []Terminal        `json:"terminals,omitempty"`
	Message   string            `json:"message,omitempty"`
	Version   int               `json:"version,omitempty"`
}

// Terminal returns the session description carried by a created frame.
func (m Message) Terminal() Terminal {
	return Terminal{ID: m.ID, PID: m.PID, Title: m.Title, Profile: NormalizeProfile(string(m.Profile)), Cwd: m.Cwd}
}

// Route classifies how an inbound frame is demultiplexed.
type Route int

const (
	// RouteBroadcast frames go to the whole directory (list snapshots, hello).
	RouteBroadcast Route = iota
	// RouteRequest frames correlate to an outstanding request.
	RouteRequest
	// RouteSession frames target a single session's emulator.
	RouteSession
)

// RouteOf reports where an inbound frame is delivered. requestId wins over id
// so a created acknowledgment reaches its waiting caller.
func RouteOf(m Message) Route {
	switch {
	case m.RequestID != "" && m.RequestID != BootRequestID:
		return RouteRequest
	case m.ID != "":
		return RouteSession
	default:
		return RouteBroadcast
	}
}

// Create builds a create request.
func Create(requestID string, profile Profile, cwd string, cols, rows int, env map[string]string) Message {
	return Message{Type: TypeCreate, RequestID: requestID, Profile: profile, Cwd: cwd, Cols: cols, Rows: rows, Env: env}
}

// Input builds an input frame.
func Input(id, data string) Message { return Message{Type: TypeInput, ID: id, Data: data} }

// Resize builds a resize frame.
func Resize(id string, cols, rows int) Message {
	return Message{Type: TypeResize, ID: id, Cols: cols, Rows: rows}
}

// Dispose builds a dispose frame.
func Dispose(id string) Message { return Message{Type: TypeDispose, ID: id} }

// List builds a directory refresh request.
func List(requestID string) Message { return Message{Type: TypeList, RequestID: requestID} }

// Encode serializes a frame.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("protocol: encode: %w", ErrMalformed)
	}
	return json.Marshal(m)
}

// Decode parses an inbound frame. Frames that are not JSON objects, carry no
// type, or omit the fields their type requires yield ErrMalformed.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m Message) error {
	switch m.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeCreated, TypeData, TypeExit, TypeDisposed, TypeInput, TypeResize, TypeDispose:
		if m.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrMalformed, m.Type)
		}
	case TypeHello, TypeList, TypeError, TypeCreate:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}
