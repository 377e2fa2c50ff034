package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/sandbox"
)

// Subprocess drives an external OS automation driver. Each action is one
// process run: stdin carries {"action": kind, "params": {...}}, stdout
// carries one JSON reply {"ok": bool, "message": string}. Non-JSON stdout
// lines are kept as diagnostic output.
type Subprocess struct {
	Command string
	Args    []string
	Timeout time.Duration // per action; 0 = use context only
	Display Display
	// Wrap confines the driver with bubblewrap when Wrap.Home is set.
	Wrap sandbox.Wrap
	// TempDir holds screenshot files; empty uses Wrap.WorkDir, then os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

// DriverRequest is the stdin message.
type DriverRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// DriverReply is the stdout message.
type DriverReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Subprocess) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Execute runs a through the driver.
func (s *Subprocess) Execute(ctx context.Context, a action.Action) action.Result {
	if err := s.Display.CheckBounds(a); err != nil {
		return action.Fail("%v", err)
	}
	switch v := a.(type) {
	case action.Screenshot:
		return screenshot(ctx, s)
	case action.Wait:
		return wait(ctx, v.Duration)
	}
	reply, err := s.call(ctx, string(a.Kind()), a.Params())
	if err != nil {
		return action.Fail("%s failed: %v", a.Kind(), err)
	}
	if !reply.OK {
		return action.Fail("%s failed: %s", a.Kind(), reply.Message)
	}
	msg := reply.Message
	if msg == "" {
		msg = fmt.Sprintf("%s done", a.Kind())
	}
	return action.Result{Success: true, Content: msg}
}

// Capture asks the driver to write a screenshot to a temp file, reads it
// back and removes it.
func (s *Subprocess) Capture(ctx context.Context) (Capture, error) {
	dir := s.TempDir
	if dir == "" {
		dir = s.Wrap.WorkDir
	}
	f, err := os.CreateTemp(dir, "deskpilot-shot-*.png")
	if err != nil {
		return Capture{}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()

	reply, err := s.call(ctx, string(action.KindScreenshot), map[string]any{"output": path})
	if err != nil {
		return Capture{}, err
	}
	if !reply.OK {
		return Capture{}, errors.New(reply.Message)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Capture{}, fmt.Errorf("read capture: %w", err)
	}
	return Capture{Bytes: data, MimeType: http.DetectContentType(data)}, nil
}

func (s *Subprocess) call(ctx context.Context, kind string, params map[string]any) (DriverReply, error) {
	if s.Command == "" {
		return DriverReply{}, errors.New("driver command is required")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	cmd := sandbox.WrapCommand(ctx, s.Wrap, s.Command, s.Args)
	cmd.WaitDelay = time.Second
	if s.Display.Width > 0 {
		cmd.Env = append(os.Environ(), "DESKPILOT_DISPLAY="+s.Display.String())
	}
	reqJSON, err := json.Marshal(DriverRequest{Action: kind, Params: params})
	if err != nil {
		return DriverReply{}, err
	}
	cmd.Stdin = bytes.NewReader(append(reqJSON, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	reply, found := parseReply(stdout.Bytes())
	if runErr != nil {
		if ctx.Err() != nil {
			return DriverReply{}, fmt.Errorf("driver: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if found && reply.Message != "" {
			detail = reply.Message
		}
		s.logger().WarnContext(ctx, "driver exited with error", "action", kind, "err", runErr, "stderr", truncate(stderr.String(), 512))
		if detail == "" {
			return DriverReply{}, fmt.Errorf("driver: %w", runErr)
		}
		return DriverReply{}, fmt.Errorf("driver: %w: %s", runErr, detail)
	}
	if !found {
		return DriverReply{}, fmt.Errorf("driver returned no JSON reply: %q", truncate(stdout.String(), 200))
	}
	return reply, nil
}

// parseReply returns the last JSON reply line in out.
func parseReply(out []byte) (DriverReply, bool) {
	var reply DriverReply
	found := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var r DriverReply
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		reply, found = r, true
	}
	return reply, found
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
