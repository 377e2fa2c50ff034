package executor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/ankittk/deskpilot/internal/action"
)

// Stub is a deterministic in-memory executor. It records every action it
// receives and returns a small solid PNG for screenshots.
type Stub struct {
	Display Display
	// Fail makes the named kinds return a failed result.
	Fail map[action.Kind]string

	mu      sync.Mutex
	actions []action.Action
}

// Execute records a and returns a fixed result.
func (s *Stub) Execute(ctx context.Context, a action.Action) action.Result {
	if err := s.Display.CheckBounds(a); err != nil {
		return action.Fail("%v", err)
	}
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()

	if msg, ok := s.Fail[a.Kind()]; ok {
		return action.Fail("%s", msg)
	}
	switch v := a.(type) {
	case action.Screenshot:
		return screenshot(ctx, s)
	case action.Wait:
		// No real sleep; honour cancellation only.
		if err := ctx.Err(); err != nil {
			return action.Fail("wait interrupted: %v", err)
		}
		return action.OK("waited %s", v.Duration)
	}
	return action.OK("%s done", a.Kind())
}

// Capture returns a solid PNG the size of the display (8x8 when unset,
// capped at 64x64).
func (s *Stub) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	w, h := clampDim(s.Display.Width), clampDim(s.Display.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 32, G: 96, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Capture{}, err
	}
	return Capture{Bytes: buf.Bytes(), MimeType: "image/png"}, nil
}

// Actions returns the actions executed so far.
func (s *Stub) Actions() []action.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]action.Action(nil), s.actions...)
}

func clampDim(n int) int {
	switch {
	case n <= 0:
		return 8
	case n > 64:
		return 64
	}
	return n
}
