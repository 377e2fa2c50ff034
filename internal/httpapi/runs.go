package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/ankittk/deskpilot/internal/agent"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/journal"
	"github.com/ankittk/deskpilot/internal/notify"
	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/pkg/models"
)

type runManagerOptions struct {
	Agent    *agent.Agent
	Executor executor.Executor
	Store    store.Store
	Journal  *journal.Journal
	Notifier *notify.Registry
	Slots    int
	Logger   *slog.Logger
}

// runManager executes accepted runs on goroutines and persists each result
// once it is produced.
type runManager struct {
	agent   *agent.Agent
	exec    executor.Executor
	store   store.Store
	journal *journal.Journal
	notify  *notify.Registry
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64

	mu      sync.Mutex
	pending map[string]models.RunResult
}

func newRunManager(opts runManagerOptions) *runManager {
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &runManager{
		agent:   opts.Agent,
		exec:    opts.Executor,
		store:   opts.Store,
		journal: opts.Journal,
		notify:  opts.Notifier,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(chan struct{}, opts.Slots),
		pending: make(map[string]models.RunResult),
	}
}

// Active returns the number of accepted runs not yet persisted.
func (m *runManager) Active() int64 { return m.active.Load() }

// Start accepts task and returns its run ID. The run proceeds in the background.
func (m *runManager) Start(task agent.Task) string {
	id := m.agent.NewID()
	m.mu.Lock()
	m.pending[id] = models.RunResult{ID: id, Task: task.Goal, Actions: []models.ActionRecord{}}
	m.mu.Unlock()
	m.active.Add(1)
	m.wg.Add(1)
	go m.run(id, task)
	return id
}

func (m *runManager) run(id string, task agent.Task) {
	defer m.wg.Done()
	defer m.active.Add(-1)

	acquired := false
	select {
	case m.slots <- struct{}{}:
		acquired = true
	case <-m.ctx.Done():
	}
	// A cancelled manager still produces a (timed out) record for the run.
	res := m.agent.ExecuteWithID(m.ctx, id, task, m.exec)
	if acquired {
		<-m.slots
	}
	m.persist(res)

	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// persist saves with a fresh context so a cancelled run is still recorded.
func (m *runManager) persist(res models.RunResult) {
	ctx := context.WithoutCancel(m.ctx)
	if err := m.store.SaveRun(ctx, res); err != nil {
		m.log.Error("save run failed", "run_id", res.ID, "error", err)
	}
	if m.journal != nil {
		if err := m.journal.Append(ctx, res); err != nil {
			m.log.Warn("journal append failed", "run_id", res.ID, "error", err)
		}
	}
	_ = m.notify.Notify(ctx, res)
}

// observe folds step and action events into the pending record so GET
// shows progress while the run is in flight.
func (m *runManager) observe(ev models.RunEvent) {
	if m == nil || (ev.Type != models.EventStep && ev.Type != models.EventAction) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[ev.RunID]
	if !ok {
		return
	}
	if ev.Step > p.Steps {
		p.Steps = ev.Step
	}
	if ev.Type == models.EventAction && ev.Action != nil {
		p.Actions = append(p.Actions, *ev.Action)
	}
	m.pending[ev.RunID] = p
}

func (m *runManager) lookupPending(id string) (models.RunResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pending[id]
	if ok {
		r.Actions = append([]models.ActionRecord(nil), r.Actions...)
	}
	return r, ok
}

// Close cancels in-flight runs.
func (m *runManager) Close() { m.cancel() }

// Wait blocks until every run has been persisted or ctx is done.
func (m *runManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *runManager) handleStart(w http.ResponseWriter, r *http.Request) {
	var body models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Task) == "" {
		writeJSONError(w, http.StatusBadRequest, "task required")
		return
	}
	id := m.Start(agent.Task{
		Goal: body.Task,
		Constraints: agent.Constraints{
			MaxSteps:       body.MaxSteps,
			TimeoutSeconds: body.TimeoutSeconds,
		},
	})
	writeJSONStatus(w, http.StatusAccepted, models.RunAccepted{ID: id})
}

func (m *runManager) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := m.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	writeJSON(w, runs)
}

// handleGet returns the stored run, or 202 with the partial record while the
// run is still in flight.
func (m *runManager) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if p, ok := m.lookupPending(id); ok {
		writeJSONStatus(w, http.StatusAccepted, p)
		return
	}
	run, err := m.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, run)
}

func (m *runManager) handleViolations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	vs, err := m.store.ListViolations(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if vs == nil {
		vs = []store.Violation{}
	}
	writeJSON(w, vs)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}
