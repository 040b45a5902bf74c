package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/conn"
	"github.com/termdeck/termdeck/internal/profile"
	"github.com/termdeck/termdeck/internal/protocol"
)

var errSessionNotFound = errors.New("session not found")

// hostClient talks to the host's HTTP routes.
type hostClient struct {
	base string
	http *http.Client
}

func newHostClient(cfg *config.Config) (*hostClient, error) {
	base, err := hostBaseURL(cfg.Backend.URL)
	if err != nil {
		return nil, err
	}
	return &hostClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (h *hostClient) sessions(ctx context.Context) ([]protocol.Terminal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /sessions: %s", resp.Status)
	}
	var out []protocol.Terminal
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("GET /sessions: %w", err)
	}
	return out, nil
}

func (h *hostClient) kill(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.base+"/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%q: %w", id, errSessionNotFound)
	default:
		return fmt.Errorf("DELETE /sessions/%s: %s", id, resp.Status)
	}
}

func handleList(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: termdeck ls [options]")
		fmt.Println()
		fmt.Println("List the live sessions of every client connected to the host.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, false)
	host, err := newHostClient(loadConfig())
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalid)
		os.Exit(1)
	}
	sessions, err := host.sessions(context.Background())
	if err != nil {
		out.Error(fmt.Sprintf("host unreachable: %v", err), ErrCodeUnreachable)
		os.Exit(1)
	}
	if len(sessions) == 0 && !*jsonOutput {
		fmt.Println("No live sessions.")
		return
	}
	out.Print(formatSessions(sessions), sessions)
}

func formatSessions(sessions []protocol.Terminal) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPID\tTITLE\tCWD")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, s.PID, s.Title, s.Cwd)
	}
	_ = tw.Flush()
	return b.String()
}

func handleKill(args []string) {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: termdeck kill <id> [options]")
		fmt.Println()
		fmt.Println("End a session on the host. Its owning client is told it was disposed.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, false)
	if fs.NArg() != 1 {
		out.Error("exactly one session id is required", ErrCodeInvalid)
		os.Exit(1)
	}
	id := fs.Arg(0)

	host, err := newHostClient(loadConfig())
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalid)
		os.Exit(1)
	}
	if err := host.kill(context.Background(), id); err != nil {
		code := ErrCodeUnreachable
		if errors.Is(err, errSessionNotFound) {
			code = ErrCodeNotFound
		}
		out.Error(err.Error(), code)
		os.Exit(1)
	}
	out.Success("killed "+id, map[string]any{"success": true, "id": id})
}

func handleNew(args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	profileName := fs.String("profile", "", "Shell profile: cmd, powershell or bash (default: config)")
	workspace := fs.String("workspace", "", "Workspace root sent to the host (default: config or current directory)")
	fs.Usage = func() {
		fmt.Println("Usage: termdeck new [options]")
		fmt.Println()
		fmt.Println("Create a session, print its id, then stream its output until it exits.")
		fmt.Println("Standard input is forwarded to the session.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  termdeck new -profile bash")
		fmt.Println("  echo 'make test; exit' | termdeck new -workspace ~/src/app")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	p := protocol.NormalizeProfile(cfg.Terminal.DefaultProfile)
	if *profileName != "" {
		p = protocol.NormalizeProfile(*profileName)
	}
	root := cfg.WorkspaceRoot()
	if *workspace != "" {
		root = *workspace
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	profiles := profile.NewStore()
	profiles.Replace(cfg.ProfileEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := runNew(ctx, newSessionOptions{
		Conn: conn.Options{
			Endpoint: conn.Endpoint{
				URL:           cfg.Backend.URL,
				PingURL:       cfg.Backend.PingURL,
				WorkspaceRoot: root,
			},
			ProbeTimeout:  cfg.ProbeTimeout(),
			RetryInterval: cfg.RetryInterval(),
			CreateTimeout: cfg.CreateTimeout(),
		},
		Request: conn.CreateRequest{
			Profile: p,
			Cwd:     root,
			Cols:    cfg.Terminal.Cols,
			Rows:    cfg.Terminal.Rows,
			Env:     profiles.EnvFor(p),
		},
		ConnectTimeout: 10 * time.Second,
	}, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

type newSessionOptions struct {
	Conn           conn.Options
	Request        conn.CreateRequest
	ConnectTimeout time.Duration
}

var errConnectionLost = errors.New("connection to host lost")

// runNew creates one session, writes its id and output to out, and forwards
// in as input. It returns the session's exit code. Host sessions belong to
// the connection, so the session ends when this returns.
func runNew(ctx context.Context, opts newSessionOptions, in io.Reader, out io.Writer) (int, error) {
	frames := make(chan protocol.Message, 256)
	states := make(chan conn.State, 8)
	done := make(chan struct{})
	opts.Conn.OnMessage = func(m protocol.Message) {
		select {
		case frames <- m:
		case <-done:
		}
	}
	opts.Conn.OnState = func(s conn.State) {
		select {
		case states <- s:
		default:
		}
	}

	mgr := conn.New(opts.Conn)
	defer mgr.Close()
	// Unblocks the reader before Close waits for it.
	defer close(done)
	if err := mgr.Start(); err != nil {
		return 1, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	err := mgr.WaitState(waitCtx, func(s conn.State) bool { return s.TransportOpen })
	cancel()
	if err != nil {
		return 1, fmt.Errorf("connect %s: %w", opts.Conn.Endpoint.URL, err)
	}

	term, err := mgr.Create(ctx, opts.Request)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(out, term.ID)

	if in != nil {
		go forwardInput(ctx, mgr, term.ID, in)
	}

	for {
		select {
		case <-ctx.Done():
			_ = mgr.Dispose(term.ID)
			return 130, nil
		case <-states:
			if !mgr.State().TransportOpen {
				return 1, errConnectionLost
			}
		case m := <-frames:
			if m.ID != term.ID {
				continue
			}
			switch m.Type {
			case protocol.TypeData:
				_, _ = io.WriteString(out, m.Data)
			case protocol.TypeExit:
				return m.ExitCode, nil
			case protocol.TypeDisposed:
				return 1, fmt.Errorf("session %s was disposed", term.ID)
			}
		}
	}
}

// forwardInput sends in to the session with line feeds turned into the
// carriage returns a terminal sends for Enter.
func forwardInput(ctx context.Context, mgr *conn.Manager, id string, in io.Reader) {
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := in.Read(buf)
		if n > 0 {
			text := strings.ReplaceAll(string(buf[:n]), "\r\n", "\r")
			if sendErr := mgr.Input(id, strings.ReplaceAll(text, "\n", "\r")); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
