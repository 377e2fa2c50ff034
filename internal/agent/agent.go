// Package agent runs the perceive-reason-act loop: it asks an engine for
// the next actions, vets each one through the sandbox, executes the
// allowed ones and feeds every outcome back until the task completes or a
// limit is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/clock"
	"github.com/ankittk/deskpilot/internal/engine"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/otel"
	"github.com/ankittk/deskpilot/internal/sandbox"
	"github.com/ankittk/deskpilot/pkg/models"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxStepsCeiling = models.DefaultMaxSteps
	DefaultTimeoutCeiling  = models.DefaultTimeoutSeconds * time.Second
	DefaultMaxOutputTokens = 4096
)

// Constraints bound one run. Zero or out-of-range values are clamped to the
// agent's ceilings.
type Constraints struct {
	MaxSteps       int `json:"max_steps,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Task is what a run tries to accomplish.
type Task struct {
	Goal        string      `json:"goal"`
	Constraints Constraints `json:"constraints"`
}

// Options configures an Agent. Engine and Sandbox are required.
type Options struct {
	Engine  engine.Engine
	Sandbox *sandbox.Sandbox

	MaxStepsCeiling int
	TimeoutCeiling  time.Duration
	Limits          action.Limits
	MaxOutputTokens int
	System          string

	Clock  clock.Clock
	Logger *slog.Logger
	// OnEvent receives run events synchronously; it must not block.
	OnEvent func(models.RunEvent)
	// NewID returns run IDs; defaults to random UUIDs.
	NewID func() string
}

// Agent executes tasks. It holds no per-run state and is safe for
// concurrent use; concurrent runs share the sandbox's rate ledger.
type Agent struct {
	opts  Options
	tools []engine.Tool
}

// New validates opts and returns an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Engine == nil {
		return nil, errors.New("agent: engine is required")
	}
	if opts.Sandbox == nil {
		return nil, errors.New("agent: sandbox is required")
	}
	if opts.MaxStepsCeiling <= 0 {
		opts.MaxStepsCeiling = DefaultMaxStepsCeiling
	}
	if opts.TimeoutCeiling <= 0 {
		opts.TimeoutCeiling = DefaultTimeoutCeiling
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if opts.System == "" {
		opts.System = DefaultSystem
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Agent{opts: opts, tools: action.Tools(opts.Limits)}, nil
}

// Sandbox returns the sandbox every action is vetted by.
func (a *Agent) Sandbox() *sandbox.Sandbox { return a.opts.Sandbox }

// NewID returns a fresh run ID.
func (a *Agent) NewID() string { return a.opts.NewID() }

// Clamp applies the agent's ceilings to c.
func (a *Agent) Clamp(c Constraints) (maxSteps int, timeout time.Duration) {
	maxSteps = c.MaxSteps
	if maxSteps <= 0 || maxSteps > a.opts.MaxStepsCeiling {
		maxSteps = a.opts.MaxStepsCeiling
	}
	timeout = time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > a.opts.TimeoutCeiling {
		timeout = a.opts.TimeoutCeiling
	}
	return maxSteps, timeout
}

// run is the mutable state of one Execute call.
type run struct {
	ctx     context.Context
	res     *models.RunResult
	exec    executor.Executor
	log     *slog.Logger
	maxStep int
	timeout time.Duration
	abort   *Abort
}

// Execute runs task against exec and returns the complete record. It never
// panics and never returns a partial record; failures are described by
// Success, StopReason and Error.
func (a *Agent) Execute(ctx context.Context, task Task, exec executor.Executor) models.RunResult {
	return a.ExecuteWithID(ctx, a.opts.NewID(), task, exec)
}

// ExecuteWithID is Execute with a caller-chosen run ID.
func (a *Agent) ExecuteWithID(ctx context.Context, id string, task Task, exec executor.Executor) (res models.RunResult) {
	start := a.opts.Clock.Now()
	res = models.RunResult{
		ID:        id,
		Task:      task.Goal,
		StartedAt: start.UTC(),
		Actions:   []models.ActionRecord{},
	}
	log := a.opts.Logger.With("run_id", id)
	defer func() {
		res.Duration = a.opts.Clock.Now().Sub(start)
		otel.RecordRun(ctx, res.StopReason, res.Success, res.Duration)
		log.InfoContext(ctx, "run finished",
			"success", res.Success,
			"stop_reason", res.StopReason,
			"steps", res.Steps,
			"actions", len(res.Actions),
			"error", res.Error)
		final := res
		a.emit(models.RunEvent{RunID: id, Type: models.EventRunFinished, Step: res.Steps, Result: &final})
	}()

	a.emit(models.RunEvent{RunID: id, Type: models.EventRunStarted})
	if strings.TrimSpace(task.Goal) == "" {
		reject(&res, "task is required")
		return res
	}
	if exec == nil {
		reject(&res, "executor is required")
		return res
	}
	if err := a.opts.Sandbox.ScreenInstruction(ctx, task.Goal); err != nil {
		reject(&res, err.Error())
		return res
	}

	maxSteps, timeout := a.Clamp(task.Constraints)
	abort := &Abort{}
	stop := a.opts.Clock.AfterFunc(timeout, abort.Trip)
	defer stop()

	log.InfoContext(ctx, "run started", "max_steps", maxSteps, "timeout", timeout)
	r := &run{ctx: ctx, res: &res, exec: exec, log: log, maxStep: maxSteps, timeout: timeout, abort: abort}
	a.loop(r, task)
	return res
}

func reject(res *models.RunResult, msg string) {
	res.Success = false
	res.StopReason = models.StopRejected
	res.Error = msg
}

// loop drives the transcript until a stop condition. A panic anywhere in
// the body ends the run with StopPanic; records collected so far are kept.
func (a *Agent) loop(r *run, task Task) {
	defer func() {
		if p := recover(); p != nil {
			r.res.Success = false
			r.res.StopReason = models.StopPanic
			r.res.Error = fmt.Sprintf("panic: %v", p)
			r.log.ErrorContext(r.ctx, "run panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	transcript := []engine.Message{{
		Role:    engine.RoleUser,
		Content: []engine.ContentBlock{engine.TextBlock(taskPrompt(task.Goal))},
	}}
	var lastText string
	for {
		if r.abort.Tripped() {
			r.res.StopReason = models.StopTimeout
			r.res.Error = fmt.Sprintf("run exceeded timeout of %s", r.timeout)
			r.res.Summary = lastText
			return
		}
		if err := r.ctx.Err(); err != nil {
			r.res.StopReason = models.StopTimeout
			r.res.Error = err.Error()
			r.res.Summary = lastText
			return
		}
		if r.res.Steps >= r.maxStep {
			r.res.StopReason = models.StopMaxSteps
			r.res.Error = fmt.Sprintf("reached maximum of %d steps", r.maxStep)
			r.res.Summary = lastText
			return
		}

		r.res.Steps++
		a.emit(models.RunEvent{RunID: r.res.ID, Type: models.EventStep, Step: r.res.Steps})
		resp, err := a.opts.Engine.Complete(r.ctx, engine.Request{
			System:          a.opts.System,
			Messages:        transcript,
			Tools:           a.tools,
			MaxOutputTokens: a.opts.MaxOutputTokens,
		})
		if err == nil && resp == nil {
			err = errors.New("empty response")
		}
		if err != nil {
			r.res.StopReason = models.StopEngineError
			r.res.Error = fmt.Sprintf("engine: %v", err)
			r.res.Summary = lastText
			r.log.ErrorContext(r.ctx, "engine call failed", "step", r.res.Steps, "err", err)
			return
		}
		transcript = append(transcript, engine.Message{Role: engine.RoleAssistant, Content: resp.Content})
		text := resp.Text()
		if text != "" {
			lastText = text
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			// Only the finishing reply can signal completion; Summary falls
			// back to the last text seen.
			r.res.Summary = lastText
			if signalsCompletion(text) {
				r.res.Success = true
				r.res.StopReason = models.StopCompleted
			} else {
				r.res.StopReason = models.StopFinished
			}
			return
		}

		results := make([]engine.ContentBlock, 0, len(uses))
		for _, u := range uses {
			out := a.act(r, u)
			results = append(results, engine.ContentBlock{
				Type:      engine.BlockToolResult,
				ToolUseID: u.ID,
				Content:   out.Content,
				IsError:   out.IsError || !out.Success,
				MediaType: out.MediaType,
			})
		}
		transcript = append(transcript, engine.Message{Role: engine.RoleUser, Content: results})
	}
}

// act decodes, vets and executes one tool call and appends its record.
func (a *Agent) act(r *run, u engine.ContentBlock) action.Result {
	rec := models.ActionRecord{Tool: u.Name, Timestamp: a.opts.Clock.Now().UTC()}
	var out action.Result
	outcome := "executed"

	act, err := action.Decode(u.Name, u.Input, a.opts.Limits)
	switch {
	case err != nil:
		rec.Input = sandbox.Redact(action.RawParams(u.Input))
		out = action.Fail("invalid action: %v", err)
		outcome = "invalid"
		r.log.WarnContext(r.ctx, "invalid action", "tool", u.Name, "err", err)
	default:
		rec.Input = sandbox.Redact(act.Params())
		if verr := a.opts.Sandbox.ValidateAction(r.ctx, act); verr != nil {
			reason := verr.Error()
			if v, ok := sandbox.AsViolation(verr); ok {
				reason = v.Reason
				rec.Outcome.Violation = string(v.Rule)
			}
			out = action.Result{Success: false, IsError: true, Content: "Action blocked by security policy: " + reason}
			outcome = "denied"
		} else {
			out = r.exec.Execute(r.ctx, act)
			if !out.Success {
				outcome = "failed"
			}
		}
	}
	otel.RecordAction(r.ctx, u.Name, outcome)

	rec.Outcome.Success = out.Success
	rec.Outcome.IsError = out.IsError || !out.Success
	rec.Outcome.Content = recordContent(out)
	r.res.Actions = append(r.res.Actions, rec)
	recCopy := rec
	a.emit(models.RunEvent{RunID: r.res.ID, Type: models.EventAction, Step: r.res.Steps, Action: &recCopy})
	return out
}

// recordContent keeps image payloads out of the audit record.
func recordContent(out action.Result) string {
	if out.MediaType != "" {
		return fmt.Sprintf("[%s, %d base64 bytes]", out.MediaType, len(out.Content))
	}
	return out.Content
}

func (a *Agent) emit(ev models.RunEvent) {
	if a.opts.OnEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = a.opts.Clock.Now().UTC()
	}
	a.opts.OnEvent(ev)
}
