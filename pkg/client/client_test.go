package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ankittk/deskpilot/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8787/", "")
	if c.BaseURL != "http://localhost:8787" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:8787", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Health(context.Background())
	if err == nil {
		t.Fatal("expected error from 503")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "down" {
		t.Errorf("error: %#v", err)
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, _ = New(srv.URL, "mykey").Health(context.Background())
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

// fakeRuns serves a run that is pending for the first `pending` polls.
func fakeRuns(t *testing.T, pending int32) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", func(w http.ResponseWriter, r *http.Request) {
		var req models.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"task required"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(models.RunAccepted{ID: "run-1"})
	})
	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "run-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"run not found"}`))
			return
		}
		if polls.Add(1) <= pending {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(models.RunResult{ID: "run-1", Task: "t"})
			return
		}
		_ = json.NewEncoder(w).Encode(models.RunResult{ID: "run-1", Task: "t", Success: true, Steps: 2, StopReason: models.StopCompleted})
	})
	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit query: %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]models.RunSummary{{ID: "run-1"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStartAndWaitRun(t *testing.T) {
	srv := fakeRuns(t, 2)
	c := New(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.StartRun(ctx, models.RunRequest{Task: "t", MaxSteps: 3})
	if err != nil || id != "run-1" {
		t.Fatalf("StartRun: id=%q err=%v", id, err)
	}
	_, done, err := c.GetRun(ctx, id)
	if err != nil || done {
		t.Fatalf("GetRun pending: done=%v err=%v", done, err)
	}
	run, err := c.WaitRun(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if !run.Success || run.Steps != 2 {
		t.Errorf("run: %+v", run)
	}

	runs, err := c.ListRuns(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns: %v %v", runs, err)
	}
}

func TestStartRun_validationError(t *testing.T) {
	srv := fakeRuns(t, 0)
	_, err := New(srv.URL, "").StartRun(context.Background(), models.RunRequest{})
	if err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestGetRun_notFound(t *testing.T) {
	srv := fakeRuns(t, 0)
	_, _, err := New(srv.URL, "").GetRun(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Errorf("IsNotFound: %v", err)
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("run_id") != "r" {
			t.Errorf("run_id query: %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		_, _ = fmt.Fprint(w, ": keepalive\n\n")
		_, _ = fmt.Fprint(w, "id: 1\nevent: run_started\ndata: {\"run_id\":\"r\",\"type\":\"run_started\"}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"run_id\":\"r\",\"type\":\"run_finished\",\"result\":{\"success\":true,\"steps\":1,\"actions\":[],\"stop_reason\":\"completed\"}}\n\n")
	}))
	defer srv.Close()

	var got []string
	err := New(srv.URL, "").Stream(context.Background(), "r", func(ev models.RunEvent) error {
		got = append(got, ev.Type)
		if ev.Type == models.EventRunFinished {
			if ev.Result == nil || !ev.Result.Success {
				t.Errorf("result: %+v", ev.Result)
			}
			return ErrStopStream
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0] != models.EventRunStarted {
		t.Errorf("events: %v", got)
	}
}

func TestListViolations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/violations" {
			t.Errorf("path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"run_id":"r1","record":{"tool":"open_url","outcome":{"success":false,"is_error":true,"violation":"domain_not_allowed"},"timestamp":"2026-01-02T03:04:05Z"}}]`))
	}))
	defer srv.Close()

	vs, err := New(srv.URL, "").ListViolations(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListViolations: %v", err)
	}
	if len(vs) != 1 || vs[0].RunID != "r1" || vs[0].Record.Outcome.Violation != "domain_not_allowed" {
		t.Errorf("violations: %+v", vs)
	}
}
