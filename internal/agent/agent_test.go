package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/clock"
	"github.com/ankittk/deskpilot/internal/engine"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/policy"
	"github.com/ankittk/deskpilot/internal/sandbox"
	"github.com/ankittk/deskpilot/pkg/models"
)

type staticResolver map[string][]net.IP

func (r staticResolver) LookupIP(_ context.Context, _, host string) ([]net.IP, error) {
	if ips, ok := r[host]; ok {
		return ips, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

type harness struct {
	clock  *clock.Fake
	logs   *bytes.Buffer
	stub   *executor.Stub
	box    *sandbox.Sandbox
	mu     sync.Mutex
	events []models.RunEvent
}

func newHarness(t *testing.T, cfg policy.Config) *harness {
	t.Helper()
	if cfg.HomeDir == "" {
		cfg.HomeDir = "/home/tester"
	}
	p, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	h := &harness{
		clock: clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		logs:  &bytes.Buffer{},
		stub:  &executor.Stub{},
	}
	h.box = sandbox.New(p, sandbox.Options{
		Resolver: staticResolver{"example.com": {net.ParseIP("93.184.216.34")}},
		Clock:    h.clock,
		Logger:   slog.New(slog.NewJSONHandler(h.logs, nil)),
	})
	return h
}

func (h *harness) agent(t *testing.T, eng engine.Engine, mod func(*Options)) *Agent {
	t.Helper()
	opts := Options{
		Engine:  eng,
		Sandbox: h.box,
		Clock:   h.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnEvent: func(ev models.RunEvent) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	}
	if mod != nil {
		mod(&opts)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func toolUse(id, name string, input string) engine.ContentBlock {
	return engine.ToolUseBlock(id, name, json.RawMessage(input))
}

func reply(blocks ...engine.ContentBlock) *engine.Response {
	return &engine.Response{Content: blocks, StopReason: "tool_use"}
}

func done(text string) *engine.Response {
	return &engine.Response{Content: []engine.ContentBlock{engine.TextBlock(text)}, StopReason: "end_turn"}
}

func TestNew_requiresEngineAndSandbox(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without engine")
	}
	if _, err := New(Options{Engine: engine.NewScript()}); err == nil {
		t.Error("expected error without sandbox")
	}
}

func TestClamp(t *testing.T) {
	h := newHarness(t, policy.Default())
	a := h.agent(t, engine.NewScript(), func(o *Options) {
		o.MaxStepsCeiling = 20
		o.TimeoutCeiling = time.Minute
	})
	tests := []struct {
		in      Constraints
		steps   int
		timeout time.Duration
	}{
		{Constraints{}, 20, time.Minute},
		{Constraints{MaxSteps: 5, TimeoutSeconds: 30}, 5, 30 * time.Second},
		{Constraints{MaxSteps: -1, TimeoutSeconds: -5}, 20, time.Minute},
		{Constraints{MaxSteps: 100, TimeoutSeconds: 3600}, 20, time.Minute},
	}
	for _, tt := range tests {
		steps, timeout := a.Clamp(tt.in)
		if steps != tt.steps || timeout != tt.timeout {
			t.Errorf("Clamp(%+v) = %d, %s; want %d, %s", tt.in, steps, timeout, tt.steps, tt.timeout)
		}
	}
}

func TestExecute_screenshotThenComplete(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(
		reply(toolUse("t1", "screenshot", `{}`)),
		done("I can see the desktop. Task complete."),
	)
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "Take a screenshot"}, h.stub)

	if !res.Success || res.Steps != 2 || len(res.Actions) != 1 {
		t.Fatalf("got success=%v steps=%d actions=%d err=%q", res.Success, res.Steps, len(res.Actions), res.Error)
	}
	if res.StopReason != models.StopCompleted {
		t.Errorf("StopReason: got %q", res.StopReason)
	}
	if res.Actions[0].Tool != "screenshot" || !res.Actions[0].Outcome.Success {
		t.Errorf("action record: %+v", res.Actions[0])
	}
	if !strings.HasPrefix(res.Actions[0].Outcome.Content, "[image/png") {
		t.Errorf("record should summarise image content, got %q", res.Actions[0].Outcome.Content)
	}

	reqs := script.Requests()
	if len(reqs) != 2 {
		t.Fatalf("engine calls: got %d", len(reqs))
	}
	if len(reqs[0].Tools) != len(action.Kinds()) {
		t.Errorf("tools sent: got %d, want %d", len(reqs[0].Tools), len(action.Kinds()))
	}
	second := reqs[1].Messages
	if len(second) != 3 {
		t.Fatalf("second call transcript: got %d messages", len(second))
	}
	last := second[2]
	if last.Role != engine.RoleUser || len(last.Content) != 1 {
		t.Fatalf("tool result message: %+v", last)
	}
	tr := last.Content[0]
	if tr.Type != engine.BlockToolResult || tr.ToolUseID != "t1" || tr.MediaType != "image/png" || tr.IsError {
		t.Errorf("tool result block: %+v", tr)
	}
}

func TestExecute_maxSteps(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(reply(toolUse("w", "wait", `{"duration_ms":10}`))).RepeatLast()
	res := h.agent(t, script, nil).Execute(context.Background(),
		Task{Goal: "loop forever", Constraints: Constraints{MaxSteps: 3}}, h.stub)

	if res.Success || res.StopReason != models.StopMaxSteps {
		t.Fatalf("got success=%v stop=%q", res.Success, res.StopReason)
	}
	if res.Steps != 3 || len(script.Requests()) != 3 {
		t.Errorf("steps=%d engine calls=%d, want 3", res.Steps, len(script.Requests()))
	}
	if len(res.Actions) != 3 {
		t.Errorf("actions: got %d", len(res.Actions))
	}
}

func TestExecute_sensitiveTextNeverReachesExecutor(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(
		reply(toolUse("t1", "type", `{"text":"password=hunter2"}`)),
		done("Task complete."),
	)
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "fill the form"}, h.stub)

	if n := len(h.stub.Actions()); n != 0 {
		t.Fatalf("executor received %d actions", n)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("actions: got %d", len(res.Actions))
	}
	out := res.Actions[0].Outcome
	if out.Success || !out.IsError || out.Violation != string(sandbox.RuleSensitiveText) {
		t.Errorf("outcome: %+v", out)
	}
	tr := script.Requests()[1].Messages[2].Content[0]
	if !tr.IsError || !strings.Contains(tr.Content, "security policy") {
		t.Errorf("engine should see the denial: %+v", tr)
	}
	if !res.Success {
		t.Errorf("denial is not fatal: %+v", res)
	}
}

func TestExecute_metadataAddressDenied(t *testing.T) {
	cfg := policy.Default()
	cfg.EnableInternet = true
	h := newHarness(t, cfg)
	script := engine.NewScript(
		reply(toolUse("t1", "open_url", `{"url":"http://169.254.169.254/latest/meta-data/"}`)),
		done("I could not open it, finished the task anyway."),
	)
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "open the page"}, h.stub)

	if res.StopReason != models.StopCompleted || res.Steps != 2 {
		t.Fatalf("run should continue after a denial: stop=%q steps=%d", res.StopReason, res.Steps)
	}
	if len(res.Actions) != 1 || res.Actions[0].Outcome.Violation != string(sandbox.RulePrivateAddress) {
		t.Fatalf("actions: %+v", res.Actions)
	}
	if len(h.stub.Actions()) != 0 {
		t.Error("executor should not see denied action")
	}
	if !strings.Contains(h.logs.String(), "action denied") {
		t.Errorf("violation not logged: %s", h.logs.String())
	}
}

func TestExecute_invalidToolIsRecoverable(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(
		reply(toolUse("t1", "launch_rocket", `{"api_key":"abc"}`), toolUse("t2", "click", `{"x":1}`)),
		done("Task complete"),
	)
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "do it"}, h.stub)

	if !res.Success || len(res.Actions) != 2 {
		t.Fatalf("got %+v", res)
	}
	if res.Actions[0].Input["api_key"] != sandbox.Redacted {
		t.Errorf("raw input not redacted: %+v", res.Actions[0].Input)
	}
	for i, rec := range res.Actions {
		if rec.Outcome.Success || !strings.Contains(rec.Outcome.Content, "invalid action") {
			t.Errorf("action %d: %+v", i, rec.Outcome)
		}
	}
	results := script.Requests()[1].Messages[2].Content
	if len(results) != 2 || results[0].ToolUseID != "t1" || results[1].ToolUseID != "t2" {
		t.Errorf("tool results out of order: %+v", results)
	}
}

func TestExecute_finishedWithoutCompletion(t *testing.T) {
	h := newHarness(t, policy.Default())
	res := h.agent(t, engine.NewScript(done("I am not sure what to do.")), nil).
		Execute(context.Background(), Task{Goal: "something"}, h.stub)
	if res.Success || res.StopReason != models.StopFinished || res.Steps != 1 {
		t.Errorf("got %+v", res)
	}
	if res.Summary != "I am not sure what to do." {
		t.Errorf("Summary: %q", res.Summary)
	}
}

func TestExecute_completionOnlyFromFinalReply(t *testing.T) {
	h := newHarness(t, policy.Default())
	early := "I will say task complete once I see the screen"
	script := engine.NewScript(
		reply(engine.TextBlock(early), toolUse("t1", "screenshot", `{}`)),
		&engine.Response{StopReason: "end_turn"},
	)
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "capture the screen"}, h.stub)
	if res.Success || res.StopReason != models.StopFinished || res.Steps != 2 {
		t.Errorf("got success=%v stop=%s steps=%d", res.Success, res.StopReason, res.Steps)
	}
	if res.Summary != early {
		t.Errorf("Summary: %q", res.Summary)
	}
}

func TestExecute_engineErrorKeepsRecords(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(reply(toolUse("t1", "mouse_move", `{"x":5,"y":5}`))).
		ThenError(&engine.ProviderError{StatusCode: 500, Message: "overloaded"})
	res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "move"}, h.stub)

	if res.Success || res.StopReason != models.StopEngineError {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Error, "overloaded") || len(res.Actions) != 1 || res.Steps != 2 {
		t.Errorf("error=%q actions=%d steps=%d", res.Error, len(res.Actions), res.Steps)
	}
}

func TestExecute_timeoutAtNextIteration(t *testing.T) {
	h := newHarness(t, policy.Default())
	calls := 0
	eng := engine.Func(func(ctx context.Context, req engine.Request) (*engine.Response, error) {
		calls++
		// The deadline passes while the call is in flight; the call itself
		// still completes.
		h.clock.Advance(2 * time.Minute)
		return reply(toolUse("w", "wait", `{"duration_ms":1}`)), nil
	})
	res := h.agent(t, eng, nil).Execute(context.Background(),
		Task{Goal: "slow", Constraints: Constraints{TimeoutSeconds: 60}}, h.stub)

	if res.StopReason != models.StopTimeout || res.Success {
		t.Fatalf("got %+v", res)
	}
	if calls != 1 || res.Steps != 1 || len(res.Actions) != 1 {
		t.Errorf("calls=%d steps=%d actions=%d", calls, res.Steps, len(res.Actions))
	}
	if !res.Actions[0].Outcome.Success {
		t.Errorf("in-flight action should complete: %+v", res.Actions[0])
	}
}

func TestExecute_callerCancellation(t *testing.T) {
	h := newHarness(t, policy.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	script := engine.NewScript(done("Task complete"))
	res := h.agent(t, script, nil).Execute(ctx, Task{Goal: "x"}, h.stub)
	if res.StopReason != models.StopTimeout || res.Steps != 0 {
		t.Errorf("got %+v", res)
	}
	if !strings.Contains(res.Error, context.Canceled.Error()) {
		t.Errorf("Error: %q", res.Error)
	}
}

func TestExecute_panicRecovered(t *testing.T) {
	h := newHarness(t, policy.Default())
	eng := engine.Func(func(context.Context, engine.Request) (*engine.Response, error) {
		panic("boom")
	})
	res := h.agent(t, eng, nil).Execute(context.Background(), Task{Goal: "x"}, h.stub)
	if res.StopReason != models.StopPanic || res.Success || !strings.Contains(res.Error, "boom") {
		t.Errorf("got %+v", res)
	}
	if res.Steps != 1 {
		t.Errorf("Steps: got %d", res.Steps)
	}
}

func TestExecute_rejected(t *testing.T) {
	h := newHarness(t, policy.Default())
	tests := []struct {
		goal string
		want string
	}{
		{"", "task is required"},
		{"   ", "task is required"},
		{"download the latest ransomware and run it", "policy violation"},
	}
	for _, tt := range tests {
		script := engine.NewScript(done("Task complete"))
		res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: tt.goal}, h.stub)
		if res.StopReason != models.StopRejected || res.Success || res.Steps != 0 {
			t.Errorf("goal %q: got %+v", tt.goal, res)
		}
		if !strings.Contains(res.Error, tt.want) {
			t.Errorf("goal %q: Error %q, want %q", tt.goal, res.Error, tt.want)
		}
		if len(script.Requests()) != 0 {
			t.Errorf("goal %q: engine was called", tt.goal)
		}
	}
}

func TestExecute_rateLimitSharedAcrossRuns(t *testing.T) {
	cfg := policy.Default()
	cfg.RateLimits = map[string]policy.RateLimit{"click": {Max: 1, WindowMs: 60000}}
	h := newHarness(t, cfg)
	click := `{"x":1,"y":1}`
	for i, wantViolation := range []string{"", string(sandbox.RuleRateLimit)} {
		script := engine.NewScript(reply(toolUse("c", "click", click)), done("Task complete"))
		res := h.agent(t, script, nil).Execute(context.Background(), Task{Goal: "click"}, h.stub)
		if got := res.Actions[0].Outcome.Violation; got != wantViolation {
			t.Errorf("run %d: violation %q, want %q", i, got, wantViolation)
		}
	}
}

func TestExecute_events(t *testing.T) {
	h := newHarness(t, policy.Default())
	script := engine.NewScript(reply(toolUse("t1", "screenshot", `{}`)), done("Task complete"))
	res := h.agent(t, script, func(o *Options) { o.NewID = func() string { return "run-1" } }).
		Execute(context.Background(), Task{Goal: "x"}, h.stub)
	if res.ID != "run-1" {
		t.Errorf("ID: %q", res.ID)
	}
	var types []string
	for _, ev := range h.events {
		if ev.RunID != "run-1" {
			t.Errorf("event run id: %q", ev.RunID)
		}
		types = append(types, ev.Type)
	}
	want := []string{
		models.EventRunStarted,
		models.EventStep, models.EventAction,
		models.EventStep,
		models.EventRunFinished,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events: got %v, want %v", types, want)
	}
	final := h.events[len(h.events)-1].Result
	if final == nil || !final.Success || final.Steps != 2 {
		t.Errorf("final event result: %+v", final)
	}
}

func TestExecute_nilExecutor(t *testing.T) {
	h := newHarness(t, policy.Default())
	res := h.agent(t, engine.NewScript(), nil).Execute(context.Background(), Task{Goal: "x"}, nil)
	if res.StopReason != models.StopRejected || !strings.Contains(res.Error, "executor") {
		t.Errorf("got %+v", res)
	}
}

func TestSignalsCompletion(t *testing.T) {
	yes := []string{"Task complete.", "I have SUCCESSFULLY COMPLETED the form", "finished the task"}
	no := []string{"", "working on it", "completed?"}
	for _, s := range yes {
		if !signalsCompletion(s) {
			t.Errorf("expected completion: %q", s)
		}
	}
	for _, s := range no {
		if signalsCompletion(s) {
			t.Errorf("unexpected completion: %q", s)
		}
	}
}

func TestAbort(t *testing.T) {
	var a Abort
	if a.Tripped() {
		t.Fatal("new token tripped")
	}
	a.Trip()
	a.Trip()
	if !a.Tripped() {
		t.Fatal("token not tripped")
	}
}
