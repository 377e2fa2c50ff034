package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/deskpilot/internal/agent"
	"github.com/ankittk/deskpilot/internal/executor"
	"github.com/ankittk/deskpilot/internal/journal"
	"github.com/ankittk/deskpilot/internal/notify"
	"github.com/ankittk/deskpilot/internal/otel"
	"github.com/ankittk/deskpilot/internal/store"
	"github.com/ankittk/deskpilot/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				limitBody(w, r, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware sets CORS headers for dev mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	MaxBodyBytes   int64        // 0 uses models.DefaultMaxRequestBodyBytes
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics

	// Agent options for runs started over the API. OnEvent is chained after
	// the SSE hub.
	Agent agent.Options
	// Executor is shared by all runs; MaxConcurrentRuns bounds how many use
	// it at once (default 1: runs share one display).
	Executor          executor.Executor
	MaxConcurrentRuns int

	Store    store.Store
	Journal  *journal.Journal // optional
	Notifier *notify.Registry // optional; told about every finished run
	Logger   *slog.Logger
}

// App holds the HTTP server, SSE hub, store and the run manager.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Agent  *agent.Agent

	runs *runManager
}

// NewApp creates the HTTP app and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("httpapi: store is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("httpapi: executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = models.DefaultMaxRequestBodyBytes
	}
	hub := NewSSEHub()

	// runs is assigned below, before any run can emit.
	var runs *runManager
	agentOpts := opts.Agent
	next := agentOpts.OnEvent
	agentOpts.OnEvent = func(ev models.RunEvent) {
		runs.observe(ev)
		hub.Publish(ev)
		if next != nil {
			next(ev)
		}
	}
	if agentOpts.Logger == nil {
		agentOpts.Logger = opts.Logger
	}
	ag, err := agent.New(agentOpts)
	if err != nil {
		return nil, err
	}

	runs = newRunManager(runManagerOptions{
		Agent:    ag,
		Executor: opts.Executor,
		Store:    opts.Store,
		Journal:  opts.Journal,
		Notifier: opts.Notifier,
		Slots:    opts.MaxConcurrentRuns,
		Logger:   opts.Logger,
	})
	if err := otel.InitMetricsWithActiveRuns(context.Background(), runs.Active); err != nil {
		opts.Logger.Warn("metrics init failed", "error", err)
	}

	app := &App{Hub: hub, Store: opts.Store, Agent: ag, runs: runs}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogMiddleware(opts.Logger))
	if opts.Dev {
		r.Use(corsMiddleware)
	}
	if opts.APIKey != "" {
		r.Use(apiKeyMiddleware(opts.APIKey))
	}
	r.Use(bodyLimitMiddleware(opts.MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}
	r.Get("/policy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ag.Sandbox().Policy().Model())
	})
	r.Get("/stream", hub.Handler())
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", runs.handleStart)
		r.Get("/", runs.handleList)
		r.Get("/{id}", runs.handleGet)
	})
	r.Get("/violations", runs.handleViolations)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var handler http.Handler = r
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "deskpilot")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Shutdown stops the HTTP server, cancels in-flight runs and waits for them
// to be persisted.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	a.runs.Close()
	if werr := a.runs.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Wait blocks until every accepted run has finished and been saved.
func (a *App) Wait(ctx context.Context) error { return a.runs.Wait(ctx) }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != apiKey {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			log.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", rec.status,
				"request_id", chiMiddleware.GetReqID(req.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
