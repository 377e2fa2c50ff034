package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/deskpilot/internal/config"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
	if err := StartForeground(ctx, StartOptions{Home: t.TempDir()}); err == nil {
		t.Fatal("StartForeground without config: expected error")
	}
}

func TestStatus_notRunning(t *testing.T) {
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Error("expected not running without pid file")
	}
}

func TestStatus_livePID(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(runDir(home), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidPath(home), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(addrPath(home), []byte("127.0.0.1:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Status(context.Background(), home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Running || st.PID != os.Getpid() || st.Addr != "127.0.0.1:9999" {
		t.Errorf("Status: %+v", st)
	}
}

func TestStatus_garbagePID(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(runDir(home), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidPath(home), []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if st, _ := Status(context.Background(), home); st.Running {
		t.Error("garbage pid should report not running")
	}
}

func TestPaths(t *testing.T) {
	home := "/h"
	if got := pidPath(home); got != filepath.Join("/h", "run", "deskpilot.pid") {
		t.Errorf("pidPath: %s", got)
	}
	if got := addrPath(home); got != filepath.Join("/h", "run", "deskpilot.addr") {
		t.Errorf("addrPath: %s", got)
	}
	if got := lockPath(home); got != filepath.Join("/h", "run", "deskpilot.lock") {
		t.Errorf("lockPath: %s", got)
	}
	if got := logPath(home); got != filepath.Join("/h", "run", "daemon.log") {
		t.Errorf("logPath: %s", got)
	}
}

func TestBackgroundArgs(t *testing.T) {
	got := backgroundArgs(StartOptions{Home: "/h", Addr: "127.0.0.1:1", MaxConcurrentRuns: 2, Dev: true, EnableOtel: true, PprofAddr: ":6060"})
	want := "daemon --home /h --addr 127.0.0.1:1 --max-concurrent 2 --dev --otel --pprof :6060"
	if strings.Join(got, " ") != want {
		t.Errorf("backgroundArgs: got %q", strings.Join(got, " "))
	}
}

func TestStartForeground_servesAndStops(t *testing.T) {
	home := t.TempDir()
	script := filepath.Join(home, "script.json")
	if err := os.WriteFile(script, []byte(`[{"content":[{"type":"text","text":"Task complete"}]}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Engine: config.EngineConfig{Provider: config.EngineScript, ScriptPath: script},
		Driver: config.DriverConfig{Kind: config.DriverStub},
		Store:  config.StoreConfig{Driver: "sqlite"},
		HTTP:   config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- StartForeground(ctx, StartOptions{
			Home:   home,
			Config: cfg,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}()

	var st StatusInfo
	for i := 0; i < 200; i++ {
		st, _ = Status(ctx, home)
		if st.Running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !st.Running {
		cancel()
		t.Fatalf("daemon did not start: %v", <-errCh)
	}

	resp, err := http.Get("http://" + st.Addr + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	if body["ok"] != true {
		t.Errorf("/health: %v", body)
	}

	// A second daemon on the same home must not start.
	if err := StartForeground(context.Background(), StartOptions{Home: home, Config: cfg}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second daemon: got %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("StartForeground: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(pidPath(home)); !os.IsNotExist(err) {
		t.Errorf("pid file not removed: %v", err)
	}
}
