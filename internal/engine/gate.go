package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ModelLoader is the part of Engine the gate needs.
type ModelLoader interface {
	LoadModels(ctx context.Context) (bool, error)
}

// Gate is the process-wide model initialization gate. Once loading has
// succeeded it never runs again; a failed load is retried on the next
// Ensure.
type Gate struct {
	loader ModelLoader

	loadMu sync.Mutex // serializes LoadModels calls

	mu     sync.Mutex
	loaded bool
	last   error
}

// NewGate wraps loader.
func NewGate(loader ModelLoader) *Gate {
	return &Gate{loader: loader}
}

// Ensure loads the models if needed. It returns an error wrapping
// ErrModelsNotLoaded when the engine reports failure.
func (g *Gate) Ensure(ctx context.Context) error {
	if g.Ready() {
		return nil
	}

	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if g.Ready() {
		return nil
	}

	var last error
	ok, err := g.loader.LoadModels(ctx)
	switch {
	case err != nil:
		last = fmt.Errorf("%w: %v", ErrModelsNotLoaded, err)
	case !ok:
		last = ErrModelsNotLoaded
	}

	g.mu.Lock()
	g.loaded = last == nil
	g.last = last
	g.mu.Unlock()

	if last != nil {
		slog.Warn("engine: model loading failed", "error", last)
		return last
	}
	slog.Info("engine: models loaded")
	return nil
}

// Ready reports whether models are loaded.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

// Err returns the last loading failure, or nil.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
