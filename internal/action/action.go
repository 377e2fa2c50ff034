// Package action defines the closed set of OS-level input actions the agent
// may request. Each kind has its own parameter struct; Decode turns a tool
// call from the reasoning engine into one of them.
package action

import (
	"fmt"
	"time"
)

// Kind names an action. It is also the tool name exposed to the engine.
type Kind string

const (
	KindScreenshot  Kind = "screenshot"
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindType        Kind = "type"
	KindKey         Kind = "key"
	KindMouseMove   Kind = "mouse_move"
	KindScroll      Kind = "scroll"
	KindDrag        Kind = "drag"
	KindWait        Kind = "wait"
	KindOpenURL     Kind = "open_url"
	KindOpenFile    Kind = "open_file"
)

var allKinds = []Kind{
	KindScreenshot, KindClick, KindDoubleClick, KindType, KindKey,
	KindMouseMove, KindScroll, KindDrag, KindWait, KindOpenURL, KindOpenFile,
}

// Kinds returns every supported kind in schema order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Point is a screen coordinate in display pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Button is a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Modifier is a keyboard modifier held during a key press.
type Modifier string

const (
	ModCtrl  Modifier = "ctrl"
	ModAlt   Modifier = "alt"
	ModShift Modifier = "shift"
	ModMeta  Modifier = "meta"
)

// Direction is a scroll direction.
type Direction string

const (
	ScrollUp    Direction = "up"
	ScrollDown  Direction = "down"
	ScrollLeft  Direction = "left"
	ScrollRight Direction = "right"
)

// Action is one requested input action. The interface is sealed; the
// concrete types below are the only implementations.
type Action interface {
	Kind() Kind
	// Params returns the wire parameters, keyed as in the tool schema.
	Params() map[string]any
	sealed()
}

// Screenshot captures the display.
type Screenshot struct{}

// Click presses and releases a button at a point.
type Click struct {
	At     Point
	Button Button
}

// DoubleClick double-clicks the left button at a point.
type DoubleClick struct {
	At Point
}

// Type enters literal text at the current focus.
type Type struct {
	Text string
}

// Key presses a named key with optional modifiers held.
type Key struct {
	Name      string
	Modifiers []Modifier
}

// MouseMove moves the pointer.
type MouseMove struct {
	To Point
}

// Scroll scrolls Amount notches in Direction, optionally after moving to At.
type Scroll struct {
	At        *Point
	Direction Direction
	Amount    int
}

// Drag presses the left button at From and releases it at To.
type Drag struct {
	From Point
	To   Point
}

// Wait pauses for Duration.
type Wait struct {
	Duration time.Duration
}

// OpenURL opens a URL in the default browser of the display.
type OpenURL struct {
	URL string
}

// OpenFile opens a local file with its default application.
type OpenFile struct {
	Path string
}

func (Screenshot) Kind() Kind  { return KindScreenshot }
func (Click) Kind() Kind       { return KindClick }
func (DoubleClick) Kind() Kind { return KindDoubleClick }
func (Type) Kind() Kind        { return KindType }
func (Key) Kind() Kind         { return KindKey }
func (MouseMove) Kind() Kind   { return KindMouseMove }
func (Scroll) Kind() Kind      { return KindScroll }
func (Drag) Kind() Kind        { return KindDrag }
func (Wait) Kind() Kind        { return KindWait }
func (OpenURL) Kind() Kind     { return KindOpenURL }
func (OpenFile) Kind() Kind    { return KindOpenFile }

func (Screenshot) sealed()  {}
func (Click) sealed()       {}
func (DoubleClick) sealed() {}
func (Type) sealed()        {}
func (Key) sealed()         {}
func (MouseMove) sealed()   {}
func (Scroll) sealed()      {}
func (Drag) sealed()        {}
func (Wait) sealed()        {}
func (OpenURL) sealed()     {}
func (OpenFile) sealed()    {}

func (Screenshot) Params() map[string]any { return map[string]any{} }

func (a Click) Params() map[string]any {
	return map[string]any{"x": a.At.X, "y": a.At.Y, "button": string(a.Button)}
}

func (a DoubleClick) Params() map[string]any {
	return map[string]any{"x": a.At.X, "y": a.At.Y}
}

func (a Type) Params() map[string]any { return map[string]any{"text": a.Text} }

func (a Key) Params() map[string]any {
	mods := make([]string, 0, len(a.Modifiers))
	for _, m := range a.Modifiers {
		mods = append(mods, string(m))
	}
	return map[string]any{"key": a.Name, "modifiers": mods}
}

func (a MouseMove) Params() map[string]any {
	return map[string]any{"x": a.To.X, "y": a.To.Y}
}

func (a Scroll) Params() map[string]any {
	p := map[string]any{"direction": string(a.Direction), "amount": a.Amount}
	if a.At != nil {
		p["x"] = a.At.X
		p["y"] = a.At.Y
	}
	return p
}

func (a Drag) Params() map[string]any {
	return map[string]any{"from_x": a.From.X, "from_y": a.From.Y, "to_x": a.To.X, "to_y": a.To.Y}
}

func (a Wait) Params() map[string]any {
	return map[string]any{"duration_ms": a.Duration.Milliseconds()}
}

func (a OpenURL) Params() map[string]any  { return map[string]any{"url": a.URL} }
func (a OpenFile) Params() map[string]any { return map[string]any{"path": a.Path} }

// Points returns every coordinate an action targets, for bounds checks.
func Points(a Action) []Point {
	switch v := a.(type) {
	case Click:
		return []Point{v.At}
	case DoubleClick:
		return []Point{v.At}
	case MouseMove:
		return []Point{v.To}
	case Scroll:
		if v.At != nil {
			return []Point{*v.At}
		}
	case Drag:
		return []Point{v.From, v.To}
	}
	return nil
}

// Result is the outcome of executing (or refusing) one action.
type Result struct {
	Success bool
	Content string
	IsError bool
	// MediaType is set when Content holds base64-encoded image bytes.
	MediaType string
}

// OK returns a successful text result.
func OK(format string, args ...any) Result {
	return Result{Success: true, Content: fmt.Sprintf(format, args...)}
}

// Fail returns a failed result with IsError set.
func Fail(format string, args ...any) Result {
	return Result{Success: false, IsError: true, Content: fmt.Sprintf(format, args...)}
}
