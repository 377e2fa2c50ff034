package executor

import (
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ankittk/deskpilot/internal/action"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name string
		want input.Key
	}{
		{"Enter", input.Enter},
		{"return", input.Enter},
		{"arrow_down", input.ArrowDown},
		{"Page-Up", input.PageUp},
		{"F5", input.F5},
		{"a", input.Key('a')},
	}
	for _, tt := range tests {
		got, err := keyFor(tt.name)
		if err != nil {
			t.Errorf("keyFor(%q): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("keyFor(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, err := keyFor("hyper"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestScrollDelta(t *testing.T) {
	tests := []struct {
		dir    action.Direction
		dx, dy float64
	}{
		{action.ScrollDown, 0, 300},
		{action.ScrollUp, 0, -300},
		{action.ScrollLeft, -300, 0},
		{action.ScrollRight, 300, 0},
	}
	for _, tt := range tests {
		dx, dy := scrollDelta(tt.dir, 3, 100)
		if dx != tt.dx || dy != tt.dy {
			t.Errorf("scrollDelta(%s) = (%v,%v), want (%v,%v)", tt.dir, dx, dy, tt.dx, tt.dy)
		}
	}
}

func TestMouseButton(t *testing.T) {
	if mouseButton(action.ButtonRight) != proto.InputMouseButtonRight {
		t.Error("right button")
	}
	if mouseButton("") != proto.InputMouseButtonLeft {
		t.Error("default button")
	}
}

func TestFileURL(t *testing.T) {
	got := fileURL("/tmp/report.pdf")
	if got != "file:///tmp/report.pdf" {
		t.Errorf("fileURL: got %q", got)
	}
	if u := fileURL("~/notes.txt"); !strings.HasPrefix(u, "file:///") || strings.Contains(u, "~") {
		t.Errorf("fileURL(~): got %q", u)
	}
}
