package xray

import (
	"sync"

	"github.com/rs/zerolog"

	"lungai/internal/graph"
)

// Loader owns the process-wide model handle. The artifact is loaded at most
// once; concurrent first calls block on the mutex so the model is never
// loaded twice or observed half-initialized.
type Loader struct {
	path string
	log  zerolog.Logger

	mu    sync.Mutex
	done  bool
	model *graph.Model
}

// NewLoader builds a loader for the artifact at path. Nothing is read until
// the first Ensure call.
func NewLoader(path string, log zerolog.Logger) *Loader {
	return &Loader{path: path, log: log.With().Str("component", "loader").Logger()}
}

// Ensure returns the cached model handle, loading it on first use. A missing
// or unreadable artifact is cached as a null handle: every later call answers
// from the cache without touching disk, and the process stays in demo mode
// until restart. Operators dropping an artifact in place must restart.
func (l *Loader) Ensure() (*graph.Model, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.model, l.model != nil
	}
	l.done = true

	m, err := graph.Load(l.path)
	if err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("model artifact unavailable, running in demo mode")
		return nil, false
	}
	l.model = m
	l.log.Info().Str("path", l.path).Int("version", m.Version).Msg("model artifact loaded")
	return m, true
}

// Available reports whether a real model handle exists (or would exist after
// a first load).
func (l *Loader) Available() bool {
	_, ok := l.Ensure()
	return ok
}
