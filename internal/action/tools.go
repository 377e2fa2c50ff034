package action

import (
	"fmt"

	"github.com/ankittk/deskpilot/internal/engine"
)

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tools returns the tool schema exposed to the engine, one tool per kind.
func Tools(lim Limits) []engine.Tool {
	lim = lim.withDefaults()
	return []engine.Tool{
		{
			Name:        string(KindScreenshot),
			Description: "Capture the screen and return it as an image. Take one before acting and after each step to verify.",
			InputSchema: object(map[string]any{}),
		},
		{
			Name:        string(KindClick),
			Description: "Click a mouse button at a screen coordinate.",
			InputSchema: object(map[string]any{
				"x":      intProp("Horizontal pixel coordinate"),
				"y":      intProp("Vertical pixel coordinate"),
				"button": map[string]any{"type": "string", "enum": []string{"left", "right", "middle"}, "description": "Defaults to left"},
			}, "x", "y"),
		},
		{
			Name:        string(KindDoubleClick),
			Description: "Double-click the left mouse button at a screen coordinate.",
			InputSchema: object(map[string]any{
				"x": intProp("Horizontal pixel coordinate"),
				"y": intProp("Vertical pixel coordinate"),
			}, "x", "y"),
		},
		{
			Name:        string(KindType),
			Description: "Type literal text at the current keyboard focus.",
			InputSchema: object(map[string]any{
				"text": map[string]any{"type": "string", "description": "Text to type"},
			}, "text"),
		},
		{
			Name:        string(KindKey),
			Description: "Press a named key (e.g. Enter, Tab, Escape, a) with optional modifiers held.",
			InputSchema: object(map[string]any{
				"key": map[string]any{"type": "string", "description": "Key name"},
				"modifiers": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string", "enum": []string{"ctrl", "alt", "shift", "meta"}},
				},
			}, "key"),
		},
		{
			Name:        string(KindMouseMove),
			Description: "Move the pointer to a screen coordinate.",
			InputSchema: object(map[string]any{
				"x": intProp("Horizontal pixel coordinate"),
				"y": intProp("Vertical pixel coordinate"),
			}, "x", "y"),
		},
		{
			Name:        string(KindScroll),
			Description: "Scroll in a direction, optionally at a coordinate.",
			InputSchema: object(map[string]any{
				"x":         intProp("Optional horizontal coordinate to scroll at"),
				"y":         intProp("Optional vertical coordinate to scroll at"),
				"direction": map[string]any{"type": "string", "enum": []string{"up", "down", "left", "right"}},
				"amount":    intProp(fmt.Sprintf("Number of notches, 1 to %d (default 3)", lim.MaxScroll)),
			}, "direction"),
		},
		{
			Name:        string(KindDrag),
			Description: "Press the left button at one coordinate and release it at another.",
			InputSchema: object(map[string]any{
				"from_x": intProp("Start x"),
				"from_y": intProp("Start y"),
				"to_x":   intProp("End x"),
				"to_y":   intProp("End y"),
			}, "from_x", "from_y", "to_x", "to_y"),
		},
		{
			Name:        string(KindWait),
			Description: fmt.Sprintf("Wait before the next action. Capped at %d ms.", lim.MaxWait.Milliseconds()),
			InputSchema: object(map[string]any{
				"duration_ms": intProp("Milliseconds to wait"),
			}, "duration_ms"),
		},
		{
			Name:        string(KindOpenURL),
			Description: "Open an http or https URL in the browser. Subject to the network policy.",
			InputSchema: object(map[string]any{
				"url": map[string]any{"type": "string"},
			}, "url"),
		},
		{
			Name:        string(KindOpenFile),
			Description: "Open a local file with its default application. Subject to the filesystem policy.",
			InputSchema: object(map[string]any{
				"path": map[string]any{"type": "string"},
			}, "path"),
		},
	}
}
