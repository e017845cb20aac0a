package llm

import (
	"context"
	"sync"
)

// Func adapts a function to Agent. Handy for CLI dry runs and tests.
type Func func(ctx context.Context, prompt, sessionID string, history ...Message) (*RunResult, error)

func (f Func) Run(ctx context.Context, prompt, sessionID string, history ...Message) (*RunResult, error) {
	return f(ctx, prompt, sessionID, history...)
}

// Recorder wraps an Agent and keeps every prompt it was given.
type Recorder struct {
	Agent Agent

	mu      sync.Mutex
	prompts []string
}

func (r *Recorder) Run(ctx context.Context, prompt, sessionID string, history ...Message) (*RunResult, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return r.Agent.Run(ctx, prompt, sessionID, history...)
}

func (r *Recorder) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}
