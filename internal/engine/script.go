package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrScriptExhausted is returned once a Script has no responses left.
var ErrScriptExhausted = errors.New("engine/script: no responses left")

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *Response
	Err      error
}

// Script replays a fixed sequence of responses. It records every request so
// tests can inspect what the loop sent.
type Script struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	repeat   bool
	requests []Request
}

// NewScript returns a Script that replies with responses in order.
func NewScript(responses ...*Response) *Script {
	s := &Script{}
	for _, r := range responses {
		s.steps = append(s.steps, Step{Response: r})
	}
	return s
}

// ThenError appends a step that fails with err.
func (s *Script) ThenError(err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Err: err})
	return s
}

// RepeatLast makes the final step repeat forever instead of exhausting.
func (s *Script) RepeatLast() *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = true
	return s
}

// Complete returns the next scripted step.
func (s *Script) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.steps) {
		if !s.repeat || len(s.steps) == 0 {
			return nil, ErrScriptExhausted
		}
		s.next = len(s.steps) - 1
	}
	step := s.steps[s.next]
	s.next++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns the requests received so far.
func (s *Script) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LoadScript reads a JSON array of responses from path, for dry runs
// against a real executor without a model.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var responses []*Response
	if err := json.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("engine/script: parse %s: %w", path, err)
	}
	return NewScript(responses...), nil
}

// Func adapts a function to Engine.
type Func func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
