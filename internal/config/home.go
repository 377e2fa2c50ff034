package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the deskpilot home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the deskpilot home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("deskpilot home missing from context")
}

// EnvFile is the per-home env file loaded after the working-directory one.
// `deskpilot apikey generate --save` appends to it.
func EnvFile(home string) string {
	return filepath.Join(home, ".env")
}

// EnsureHome creates the home directory owner-only. An existing directory is
// left as is.
func EnsureHome(home string) error {
	if home == "" {
		return errors.New("deskpilot home is empty")
	}
	return os.MkdirAll(home, 0o700)
}

// ResolveHome returns the deskpilot home directory (override, DESKPILOT_HOME, or default ~/.deskpilot).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("DESKPILOT_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".deskpilot"), nil
}
