package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/ankittk/deskpilot/internal/action"
)

// BrowserOpts configures a Browser.
type BrowserOpts struct {
	Headless bool
	Display  Display
	// ControlURL connects to a running browser instead of launching one.
	ControlURL string
	StartURL   string
	// ScrollStep is the pixel distance of one scroll unit (default 100).
	ScrollStep float64
	Logger     *slog.Logger
}

// Browser uses a single browser page as the display. Pointer and keyboard
// actions go through CDP input events; coordinates are viewport pixels.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	opts    BrowserOpts
	log     *slog.Logger
}

// NewBrowser launches (or connects to) a browser and opens a stealth page
// sized to opts.Display.
func NewBrowser(ctx context.Context, opts BrowserOpts) (*Browser, error) {
	if opts.Display.Width <= 0 || opts.Display.Height <= 0 {
		opts.Display = Display{Width: 1280, Height: 800}
	}
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = 100
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	controlURL := opts.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Leakless(true).Headless(opts.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	scale := 1.0
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Display.Width,
		Height:            opts.Display.Height,
		DeviceScaleFactor: 1,
		Scale:             &scale,
		Mobile:            false,
	}); err != nil {
		log.Warn("set viewport failed", "err", err)
	}
	b := &Browser{browser: browser, page: page, opts: opts, log: log}
	if opts.StartURL != "" {
		if err := b.navigate(ctx, opts.StartURL); err != nil {
			_ = browser.Close()
			return nil, err
		}
	}
	return b, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	if b.browser == nil {
		return nil
	}
	return b.browser.Close()
}

// Execute performs a on the page.
func (b *Browser) Execute(ctx context.Context, a action.Action) action.Result {
	if err := b.opts.Display.CheckBounds(a); err != nil {
		return action.Fail("%v", err)
	}
	var err error
	m := b.page.Mouse
	switch v := a.(type) {
	case action.Screenshot:
		return screenshot(ctx, b)
	case action.Wait:
		return wait(ctx, v.Duration)
	case action.Click:
		if err = m.MoveTo(toProto(v.At)); err == nil {
			err = m.Click(mouseButton(v.Button), 1)
		}
	case action.DoubleClick:
		if err = m.MoveTo(toProto(v.At)); err == nil {
			err = m.Click(proto.InputMouseButtonLeft, 2)
		}
	case action.MouseMove:
		err = m.MoveTo(toProto(v.To))
	case action.Drag:
		err = b.drag(v.From, v.To)
	case action.Scroll:
		if v.At != nil {
			if err = m.MoveTo(toProto(*v.At)); err != nil {
				break
			}
		}
		dx, dy := scrollDelta(v.Direction, v.Amount, b.opts.ScrollStep)
		err = m.Scroll(dx, dy, max(v.Amount, 1))
	case action.Type:
		err = b.page.InsertText(v.Text)
	case action.Key:
		err = b.pressKey(v)
	case action.OpenURL:
		err = b.navigate(ctx, v.URL)
	case action.OpenFile:
		err = b.navigate(ctx, fileURL(v.Path))
	default:
		return action.Fail("%s is not supported by the browser executor", a.Kind())
	}
	if err != nil {
		return action.Fail("%s failed: %v", a.Kind(), err)
	}
	return action.OK("%s done", a.Kind())
}

// Capture screenshots the viewport.
func (b *Browser) Capture(ctx context.Context) (Capture, error) {
	data, err := b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return Capture{}, err
	}
	return Capture{Bytes: data, MimeType: "image/png"}, nil
}

func (b *Browser) drag(from, to action.Point) error {
	m := b.page.Mouse
	if err := m.MoveTo(toProto(from)); err != nil {
		return err
	}
	if err := m.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := m.MoveLinear(toProto(to), 10); err != nil {
		_ = m.Up(proto.InputMouseButtonLeft, 1)
		return err
	}
	return m.Up(proto.InputMouseButtonLeft, 1)
}

func (b *Browser) pressKey(k action.Key) error {
	key, err := keyFor(k.Name)
	if err != nil {
		return err
	}
	kb := b.page.Keyboard
	var held []input.Key
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = kb.Release(held[i])
		}
	}()
	for _, mod := range k.Modifiers {
		mk := modifierKey(mod)
		if err := kb.Press(mk); err != nil {
			return err
		}
		held = append(held, mk)
	}
	return kb.Type(key)
}

func (b *Browser) navigate(ctx context.Context, u string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(u); err != nil {
		return fmt.Errorf("navigate %s: %w", u, err)
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.page.Context(wctx).WaitLoad(); err != nil {
		b.log.Warn("page load incomplete", "url", u, "err", err)
	}
	return nil
}

func toProto(p action.Point) proto.Point {
	return proto.Point{X: float64(p.X), Y: float64(p.Y)}
}

func mouseButton(b action.Button) proto.InputMouseButton {
	switch b {
	case action.ButtonRight:
		return proto.InputMouseButtonRight
	case action.ButtonMiddle:
		return proto.InputMouseButtonMiddle
	}
	return proto.InputMouseButtonLeft
}

func modifierKey(m action.Modifier) input.Key {
	switch m {
	case action.ModAlt:
		return input.AltLeft
	case action.ModShift:
		return input.ShiftLeft
	case action.ModMeta:
		return input.MetaLeft
	}
	return input.ControlLeft
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"up":         input.ArrowUp,
	"arrowup":    input.ArrowUp,
	"down":       input.ArrowDown,
	"arrowdown":  input.ArrowDown,
	"left":       input.ArrowLeft,
	"arrowleft":  input.ArrowLeft,
	"right":      input.ArrowRight,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"f1":         input.F1,
	"f2":         input.F2,
	"f3":         input.F3,
	"f4":         input.F4,
	"f5":         input.F5,
	"f6":         input.F6,
	"f7":         input.F7,
	"f8":         input.F8,
	"f9":         input.F9,
	"f10":        input.F10,
	"f11":        input.F11,
	"f12":        input.F12,
}

// keyFor maps a key name ("Enter", "arrow_down", "a") to a CDP key.
func keyFor(name string) (input.Key, error) {
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), nil
	}
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(name))
	if k, ok := namedKeys[norm]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unsupported key: %s", name)
}

func scrollDelta(d action.Direction, amount int, step float64) (dx, dy float64) {
	px := float64(amount) * step
	switch d {
	case action.ScrollUp:
		return 0, -px
	case action.ScrollLeft:
		return -px, 0
	case action.ScrollRight:
		return px, 0
	}
	return 0, px
}

func fileURL(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
