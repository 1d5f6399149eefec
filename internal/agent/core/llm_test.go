package core

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeLLM scripts reasoning behaviour per prompt. Safe for concurrent workers.
type fakeLLM struct {
	mu    sync.Mutex
	fn    func(system, user string) (string, error)
	calls int
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Generate(ctx context.Context, system, user, model string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(system, user)
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, system, user, model string, out any) error {
	raw, err := f.Generate(ctx, system, user, model)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
