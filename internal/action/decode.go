package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Limits bounds parameter values the engine may request.
type Limits struct {
	MaxWait   time.Duration // wait is clamped to this
	MaxScroll int           // scroll amount is clamped to this
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxWait: 10 * time.Second, MaxScroll: 20}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxWait <= 0 {
		l.MaxWait = d.MaxWait
	}
	if l.MaxScroll <= 0 {
		l.MaxScroll = d.MaxScroll
	}
	return l
}

// ErrUnknownKind is returned by Decode for a tool name that is not an action.
var ErrUnknownKind = errors.New("unknown action")

type pointParams struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (p pointParams) point() (Point, error) {
	if p.X == nil || p.Y == nil {
		return Point{}, errors.New("x and y are required")
	}
	return Point{X: *p.X, Y: *p.Y}, nil
}

// Decode builds an Action from a tool name and its JSON input. Errors are
// meant to be fed back to the engine as a failed result.
func Decode(name string, input json.RawMessage, lim Limits) (Action, error) {
	lim = lim.withDefaults()
	kind := Kind(name)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, name)
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	switch kind {
	case KindScreenshot:
		return Screenshot{}, nil

	case KindClick:
		var p struct {
			pointParams
			Button string `json:"button"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		at, err := p.point()
		if err != nil {
			return nil, fieldErr(kind, err)
		}
		btn := Button(strings.ToLower(p.Button))
		switch btn {
		case "":
			btn = ButtonLeft
		case ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return nil, fieldErr(kind, fmt.Errorf("invalid button %q", p.Button))
		}
		return Click{At: at, Button: btn}, nil

	case KindDoubleClick:
		var p pointParams
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		at, err := p.point()
		if err != nil {
			return nil, fieldErr(kind, err)
		}
		return DoubleClick{At: at}, nil

	case KindType:
		var p struct {
			Text string `json:"text"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, fieldErr(kind, errors.New("text is required"))
		}
		return Type{Text: p.Text}, nil

	case KindKey:
		var p struct {
			Key       string   `json:"key"`
			Modifiers []string `json:"modifiers"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Key) == "" {
			return nil, fieldErr(kind, errors.New("key is required"))
		}
		mods := make([]Modifier, 0, len(p.Modifiers))
		for _, m := range p.Modifiers {
			mod := Modifier(strings.ToLower(m))
			switch mod {
			case ModCtrl, ModAlt, ModShift, ModMeta:
				mods = append(mods, mod)
			default:
				return nil, fieldErr(kind, fmt.Errorf("invalid modifier %q", m))
			}
		}
		return Key{Name: p.Key, Modifiers: mods}, nil

	case KindMouseMove:
		var p pointParams
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		to, err := p.point()
		if err != nil {
			return nil, fieldErr(kind, err)
		}
		return MouseMove{To: to}, nil

	case KindScroll:
		var p struct {
			pointParams
			Direction string `json:"direction"`
			Amount    int    `json:"amount"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		dir := Direction(strings.ToLower(p.Direction))
		switch dir {
		case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		default:
			return nil, fieldErr(kind, fmt.Errorf("invalid direction %q", p.Direction))
		}
		amount := p.Amount
		if amount <= 0 {
			amount = 3
		}
		if amount > lim.MaxScroll {
			amount = lim.MaxScroll
		}
		s := Scroll{Direction: dir, Amount: amount}
		if p.X != nil || p.Y != nil {
			at, err := p.point()
			if err != nil {
				return nil, fieldErr(kind, err)
			}
			s.At = &at
		}
		return s, nil

	case KindDrag:
		var p struct {
			FromX *int `json:"from_x"`
			FromY *int `json:"from_y"`
			ToX   *int `json:"to_x"`
			ToY   *int `json:"to_y"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if p.FromX == nil || p.FromY == nil || p.ToX == nil || p.ToY == nil {
			return nil, fieldErr(kind, errors.New("from_x, from_y, to_x and to_y are required"))
		}
		return Drag{From: Point{*p.FromX, *p.FromY}, To: Point{*p.ToX, *p.ToY}}, nil

	case KindWait:
		var p struct {
			DurationMs int64 `json:"duration_ms"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if p.DurationMs < 0 {
			return nil, fieldErr(kind, errors.New("duration_ms must not be negative"))
		}
		d := time.Duration(p.DurationMs) * time.Millisecond
		if d > lim.MaxWait {
			d = lim.MaxWait
		}
		return Wait{Duration: d}, nil

	case KindOpenURL:
		var p struct {
			URL string `json:"url"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.URL) == "" {
			return nil, fieldErr(kind, errors.New("url is required"))
		}
		return OpenURL{URL: strings.TrimSpace(p.URL)}, nil

	case KindOpenFile:
		var p struct {
			Path string `json:"path"`
		}
		if err := unmarshal(kind, input, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Path) == "" {
			return nil, fieldErr(kind, errors.New("path is required"))
		}
		return OpenFile{Path: p.Path}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, name)
}

func unmarshal(kind Kind, input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%s: invalid input: %w", kind, err)
	}
	return nil
}

func fieldErr(kind Kind, err error) error {
	return fmt.Errorf("%s: %w", kind, err)
}

// RawParams parses a tool input into a generic map, for audit records of
// inputs that failed to decode. Unparseable input is kept as a string.
func RawParams(input json.RawMessage) map[string]any {
	if len(bytes.TrimSpace(input)) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return map[string]any{"raw": string(input)}
	}
	return m
}
