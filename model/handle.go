// Package model manages the lifecycle of externally supplied ML models
// and the retrieval of their artifacts.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a model.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNotLoaded is returned when a model is used before its load completed.
	ErrNotLoaded = errors.New("model: not loaded")
	// ErrLoading is returned when a load is requested while another one is running.
	ErrLoading = errors.New("model: load in progress")
)

// Handle owns a loaded model value. A value is only handed out once
// the load function, including any warm-up it performs, has returned.
type Handle[T any] struct {
	mu    sync.RWMutex
	state State
	value T
	err   error

	// inuse is held for reading by every Acquire until its release.
	inuse sync.RWMutex
}

// Load runs fn unless the model is already loaded or loading.
// A failed handle can be loaded again.
func (h *Handle[T]) Load(ctx context.Context, fn func(context.Context) (T, error)) error {
	h.mu.Lock()
	switch h.state {
	case Ready:
		h.mu.Unlock()
		return nil
	case Loading:
		h.mu.Unlock()
		return ErrLoading
	}
	h.state = Loading
	h.err = nil
	h.mu.Unlock()

	v, err := fn(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.state = Failed
		h.err = err
		return err
	}
	h.value = v
	h.state = Ready

	return nil
}

// Get returns the loaded value, or ErrNotLoaded.
func (h *Handle[T]) Get() (T, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.state != Ready {
		var zero T
		if h.state == Failed {
			return zero, fmt.Errorf("%w: %v", ErrNotLoaded, h.err)
		}
		return zero, ErrNotLoaded
	}
	return h.value, nil
}

// Acquire returns the loaded value together with a function releasing it.
// Release blocks until every acquired value has been released, so the
// value stays valid in between.
func (h *Handle[T]) Acquire() (T, func(), error) {
	h.inuse.RLock()

	v, err := h.Get()
	if err != nil {
		h.inuse.RUnlock()
		return v, func() {}, err
	}
	return v, h.inuse.RUnlock, nil
}

// State returns the current lifecycle state.
func (h *Handle[T]) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.state
}

// Err returns the error of the last failed load.
func (h *Handle[T]) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.err
}

// Release resets the handle to Unloaded and returns the value it held,
// so the caller can free it. ok is false when nothing was loaded.
// It waits for the values handed out by Acquire to be released.
func (h *Handle[T]) Release() (v T, ok bool) {
	h.inuse.Lock()
	defer h.inuse.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Ready {
		h.state = Unloaded
		return v, false
	}
	v = h.value

	var zero T
	h.value = zero
	h.state = Unloaded

	return v, true
}
