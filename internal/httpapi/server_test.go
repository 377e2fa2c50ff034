package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/deskpilot/internal/agent"
	"github.com/ankittk/deskpilot/internal/engine"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/journal"
	"github.com/ankittk/deskpilot/internal/notify"
	"github.com/ankittk/deskpilot/internal/policy"
	"github.com/ankittk/deskpilot/internal/sandbox"
	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/pkg/client"
	"github.com/ankittk/deskpilot/pkg/models"
)

// screenshotThenDone asks for one screenshot and then reports completion.
var screenshotThenDone = engine.Func(func(_ context.Context, req engine.Request) (*engine.Response, error) {
	if len(req.Messages) == 1 {
		return &engine.Response{Content: []engine.ContentBlock{
			engine.ToolUseBlock("t1", "screenshot", json.RawMessage(`{}`)),
		}}, nil
	}
	return &engine.Response{Content: []engine.ContentBlock{engine.TextBlock("Task complete.")}}, nil
})

type testApp struct {
	*App
	ts      *httptest.Server
	journal string
}

func newTestApp(t *testing.T, eng engine.Engine, mod func(*ServerOptions)) *testApp {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := policy.Default()
	cfg.HomeDir = home
	p, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := ServerOptions{
		Addr: "127.0.0.1:0",
		Agent: agent.Options{
			Engine:  eng,
			Sandbox: sandbox.New(p, sandbox.Options{Logger: logger}),
		},
		Executor: &executor.Stub{},
		Store:    st,
		Journal:  &journal.Journal{Path: journal.Path(home)},
		Logger:   logger,
	}
	if mod != nil {
		mod(&opts)
	}
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return &testApp{App: app, ts: ts, journal: journal.Path(home)}
}

func (a *testApp) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func (a *testApp) startRun(t *testing.T, body string) string {
	t.Helper()
	resp, err := http.Post(a.ts.URL+"/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /runs: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /runs status=%d", resp.StatusCode)
	}
	var acc models.RunAccepted
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode RunAccepted: %v", err)
	}
	if acc.ID == "" {
		t.Fatal("expected run id")
	}
	return acc.ID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestNewApp_requires(t *testing.T) {
	if _, err := NewApp(ServerOptions{}); err == nil {
		t.Error("expected error without store")
	}
}

func TestServerSmoke(t *testing.T) {
	app := newTestApp(t, screenshotThenDone, nil)

	var health map[string]any
	if code := getJSON(t, app.ts.URL+"/health", &health); code != http.StatusOK || health["ok"] != true {
		t.Fatalf("/health: code=%d body=%v", code, health)
	}

	var pol models.Policy
	if code := getJSON(t, app.ts.URL+"/policy", &pol); code != http.StatusOK {
		t.Fatalf("/policy status=%d", code)
	}
	if pol.EnableInternet {
		t.Error("default policy should disable internet")
	}

	id := app.startRun(t, `{"task":"take a screenshot"}`)
	app.wait(t)

	var run models.RunResult
	if code := getJSON(t, app.ts.URL+"/runs/"+id, &run); code != http.StatusOK {
		t.Fatalf("GET /runs/%s status=%d", id, code)
	}
	if !run.Success || run.Steps != 2 || len(run.Actions) != 1 {
		t.Fatalf("run: success=%v steps=%d actions=%d", run.Success, run.Steps, len(run.Actions))
	}
	if run.StopReason != models.StopCompleted {
		t.Errorf("stop_reason=%q", run.StopReason)
	}

	var list []models.RunSummary
	getJSON(t, app.ts.URL+"/runs", &list)
	if len(list) != 1 || list[0].ID != id || list[0].ActionCount != 1 {
		t.Fatalf("list: %+v", list)
	}

	b, err := os.ReadFile(app.journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(b), id) {
		t.Errorf("journal does not mention run %s", id)
	}
}

func TestRuns_errors(t *testing.T) {
	app := newTestApp(t, screenshotThenDone, nil)

	var errBody struct{ Error string }
	if code := getJSON(t, app.ts.URL+"/runs/nope", &errBody); code != http.StatusNotFound || errBody.Error == "" {
		t.Fatalf("missing run: code=%d body=%+v", code, errBody)
	}
	if code := getJSON(t, app.ts.URL+"/runs?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status=%d", code)
	}
	if code := getJSON(t, app.ts.URL+"/nowhere", nil); code != http.StatusNotFound {
		t.Errorf("unknown route status=%d", code)
	}

	for _, body := range []string{`{`, `{"task":"   "}`} {
		resp, err := http.Post(app.ts.URL+"/runs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %q status=%d", body, resp.StatusCode)
		}
	}
}

func TestRuns_violationsListed(t *testing.T) {
	eng := engine.Func(func(_ context.Context, req engine.Request) (*engine.Response, error) {
		if len(req.Messages) == 1 {
			return &engine.Response{Content: []engine.ContentBlock{
				engine.ToolUseBlock("t1", "open_url", json.RawMessage(`{"url":"http://169.254.169.254/latest/meta-data"}`)),
			}}, nil
		}
		return &engine.Response{Content: []engine.ContentBlock{engine.TextBlock("could not continue")}}, nil
	})
	app := newTestApp(t, eng, nil)
	id := app.startRun(t, `{"task":"read the instance metadata"}`)
	app.wait(t)

	var vs []store.Violation
	if code := getJSON(t, app.ts.URL+"/violations", &vs); code != http.StatusOK {
		t.Fatalf("/violations status=%d", code)
	}
	if len(vs) != 1 || vs[0].RunID != id {
		t.Fatalf("violations: %+v", vs)
	}
	if vs[0].Record.Tool != "open_url" || vs[0].Record.Outcome.Success {
		t.Errorf("record: %+v", vs[0].Record)
	}
}

func TestRuns_pendingWhileRunning(t *testing.T) {
	release := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, req engine.Request) (*engine.Response, error) {
		if len(req.Messages) == 1 {
			return &engine.Response{Content: []engine.ContentBlock{
				engine.ToolUseBlock("t1", "screenshot", json.RawMessage(`{}`)),
			}}, nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &engine.Response{Content: []engine.ContentBlock{engine.TextBlock("Task complete")}}, nil
	})
	app := newTestApp(t, eng, nil)
	id := app.startRun(t, `{"task":"wait for me"}`)

	// The second engine call blocks, so the record settles at two steps and
	// one screenshot action.
	var partial models.RunResult
	deadline := time.Now().Add(5 * time.Second)
	for {
		partial = models.RunResult{}
		if code := getJSON(t, app.ts.URL+"/runs/"+id, &partial); code != http.StatusAccepted {
			t.Fatalf("in-flight status=%d", code)
		}
		if len(partial.Actions) == 1 && partial.Steps == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("partial never showed progress: %+v", partial)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if partial.ID != id || partial.Task != "wait for me" || partial.Actions[0].Tool != "screenshot" {
		t.Errorf("partial: %+v", partial)
	}
	close(release)
	app.wait(t)
	var final models.RunResult
	if code := getJSON(t, app.ts.URL+"/runs/"+id, &final); code != http.StatusOK {
		t.Fatalf("finished status=%d", code)
	}
	if !final.Success || final.Steps != 2 || len(final.Actions) != 1 {
		t.Errorf("final: %+v", final)
	}
}

func TestAPIKey(t *testing.T) {
	app := newTestApp(t, screenshotThenDone, func(o *ServerOptions) { o.APIKey = "s3cret" })

	if code := getJSON(t, app.ts.URL+"/health", nil); code != http.StatusOK {
		t.Errorf("/health should not need a key, status=%d", code)
	}
	if code := getJSON(t, app.ts.URL+"/runs", nil); code != http.StatusUnauthorized {
		t.Errorf("no key status=%d", code)
	}
	req, _ := http.NewRequest(http.MethodGet, app.ts.URL+"/runs", nil)
	req.Header.Set("X-API-Key", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with key status=%d", resp.StatusCode)
	}
	if code := getJSON(t, app.ts.URL+"/runs?api_key=s3cret", nil); code != http.StatusOK {
		t.Errorf("query key status=%d", code)
	}
}

func TestBodyLimit(t *testing.T) {
	app := newTestApp(t, screenshotThenDone, func(o *ServerOptions) { o.MaxBodyBytes = 16 })
	body := `{"task":"` + strings.Repeat("a", 64) + `"}`
	resp, err := http.Post(app.ts.URL+"/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status=%d", resp.StatusCode)
	}
}

func TestMetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "deskpilot_runs_total 0\n")
	})
	app := newTestApp(t, screenshotThenDone, func(o *ServerOptions) {
		o.MetricsHandler = metrics
		o.APIKey = "k"
	})
	resp, err := http.Get(app.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "deskpilot_runs_total") {
		t.Errorf("/metrics: status=%d body=%q", resp.StatusCode, b)
	}
}

func TestShutdown_persistsCancelledRun(t *testing.T) {
	eng := engine.Func(func(ctx context.Context, _ engine.Request) (*engine.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	app := newTestApp(t, eng, nil)
	id := app.startRun(t, `{"task":"block forever"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	run, err := app.Store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Success {
		t.Error("cancelled run should not succeed")
	}
	if _, err := os.Stat(filepath.Clean(app.journal)); err != nil {
		t.Errorf("journal: %v", err)
	}
}

func TestRuns_notifiesWebhook(t *testing.T) {
	got := make(chan models.RunSummary, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s models.RunSummary
		_ = json.NewDecoder(r.Body).Decode(&s)
		got <- s
	}))
	defer hook.Close()

	app := newTestApp(t, screenshotThenDone, func(o *ServerOptions) {
		reg := notify.NewRegistry(false, o.Logger)
		reg.Register(notify.Webhook{URL: hook.URL})
		o.Notifier = reg
	})
	id := app.startRun(t, `{"task":"take a screenshot"}`)
	app.wait(t)

	select {
	case s := <-got:
		if s.ID != id || !s.Success || s.ActionCount != 1 {
			t.Errorf("summary: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestClientSDK(t *testing.T) {
	app := newTestApp(t, screenshotThenDone, nil)
	c := client.New(app.ts.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if ok, err := c.Health(ctx); err != nil || !ok {
		t.Fatalf("Health: %v %v", ok, err)
	}
	p, err := c.Policy(ctx)
	if err != nil || p.MaxFileSize <= 0 {
		t.Fatalf("Policy: %+v %v", p, err)
	}
	id, err := c.StartRun(ctx, models.RunRequest{Task: "take a screenshot"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run, err := c.WaitRun(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if !run.Success || run.StopReason != models.StopCompleted || len(run.Actions) != 1 {
		t.Errorf("run: %+v", run)
	}
	runs, err := c.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 || runs[0].ID != id {
		t.Errorf("ListRuns: %+v %v", runs, err)
	}
	if _, _, err := c.GetRun(ctx, "missing"); !client.IsNotFound(err) {
		t.Errorf("GetRun(missing): %v", err)
	}
}
