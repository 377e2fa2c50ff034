// Package executor performs vetted actions against a display: a local OS
// automation driver process, a browser page, an in-memory stub, or a remote
// executor over gRPC.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/deskpilot/internal/action"
)

// Executor runs one action. Failures are reported in the Result, never as
// a panic or error return, so the agent can feed them back to the engine.
type Executor interface {
	Execute(ctx context.Context, a action.Action) action.Result
}

// Capture is one screen capture.
type Capture struct {
	Bytes    []byte
	MimeType string
}

// Capturer takes screen captures. Executors that support screenshot implement it.
type Capturer interface {
	Capture(ctx context.Context) (Capture, error)
}

// Display is the addressable screen area in pixels. A zero Display disables
// bounds checks.
type Display struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Display) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// ParseDisplay parses "WIDTHxHEIGHT". An empty string yields a zero Display.
func ParseDisplay(s string) (Display, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Display{}, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Display{}, fmt.Errorf("display %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Display{}, fmt.Errorf("display %q: invalid width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Display{}, fmt.Errorf("display %q: invalid height", s)
	}
	return Display{Width: width, Height: height}, nil
}

// CheckBounds returns an error if any coordinate of a lies outside d.
func (d Display) CheckBounds(a action.Action) error {
	if d.Width <= 0 || d.Height <= 0 {
		return nil
	}
	for _, p := range action.Points(a) {
		if p.X < 0 || p.Y < 0 || p.X >= d.Width || p.Y >= d.Height {
			return fmt.Errorf("coordinate %s is outside the %s display", p, d)
		}
	}
	return nil
}

// ScreenshotResult encodes c as a base64 image result.
func ScreenshotResult(c Capture) action.Result {
	mime := c.MimeType
	if mime == "" {
		mime = http.DetectContentType(c.Bytes)
	}
	return action.Result{
		Success:   true,
		Content:   base64.StdEncoding.EncodeToString(c.Bytes),
		MediaType: mime,
	}
}

// screenshot captures through c, or fails if the executor cannot capture.
func screenshot(ctx context.Context, exec Executor) action.Result {
	c, ok := exec.(Capturer)
	if !ok {
		return action.Fail("screenshot is not supported by this executor")
	}
	capture, err := c.Capture(ctx)
	if err != nil {
		return action.Fail("screenshot failed: %v", err)
	}
	if len(capture.Bytes) == 0 {
		return action.Fail("screenshot failed: empty capture")
	}
	return ScreenshotResult(capture)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) action.Result {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return action.Fail("wait interrupted: %v", ctx.Err())
	case <-t.C:
		return action.OK("waited %s", d)
	}
}
