// Package framework provides small building blocks shared by the engine's
// background workers (the notification retry drain, the recovery loop).
package framework

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ServiceState represents the current state of a background worker.
type ServiceState int32

const (
	StateUninitialized ServiceState = iota
	StateInitializing
	StateReady
	StateNotReady
	StateStopping
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s ServiceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not-ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServiceBase provides a thread-safe ready/not-ready toggle for the engine's
// background loops. Embed this into a worker to avoid hand-rolled readiness
// tracking.
type ServiceBase struct {
	state     atomic.Int32
	name      atomic.Value // string
	startedAt atomic.Value // time.Time
	stoppedAt atomic.Value // time.Time

	mu       sync.RWMutex
	lastErr  error
	metadata map[string]string
}

// NewServiceBase creates a new ServiceBase with the given name.
func NewServiceBase(name string) *ServiceBase {
	b := &ServiceBase{metadata: make(map[string]string)}
	b.name.Store(name)
	return b
}

// Name returns the worker's display name.
func (b *ServiceBase) Name() string {
	if v := b.name.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// SetName lets callers set a display name used in error messages.
func (b *ServiceBase) SetName(name string) {
	b.name.Store(strings.TrimSpace(name))
}

// State returns the current worker state.
func (b *ServiceBase) State() ServiceState {
	return ServiceState(b.state.Load())
}

// MarkReady is a helper to set readiness without an error message.
func (b *ServiceBase) MarkReady(ready bool) {
	if ready {
		b.state.Store(int32(StateReady))
	} else {
		b.state.Store(int32(StateNotReady))
	}
}

// MarkStarted records that the worker has started.
func (b *ServiceBase) MarkStarted() {
	b.startedAt.Store(time.Now())
	b.state.Store(int32(StateReady))
}

// MarkStopped records that the worker has stopped.
func (b *ServiceBase) MarkStopped() {
	b.stoppedAt.Store(time.Now())
	b.state.Store(int32(StateStopped))
}

// MarkFailed records that the worker has failed with an error.
func (b *ServiceBase) MarkFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.state.Store(int32(StateFailed))
}

// LastError returns the last recorded error.
func (b *ServiceBase) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Uptime returns how long the worker has been running, or 0 if not started.
func (b *ServiceBase) Uptime() time.Duration {
	v := b.startedAt.Load()
	if v == nil {
		return 0
	}
	started := v.(time.Time)
	if stoppedV := b.stoppedAt.Load(); stoppedV != nil {
		return stoppedV.(time.Time).Sub(started)
	}
	return time.Since(started)
}

// IsReady returns true if the worker is in ready state.
func (b *ServiceBase) IsReady() bool {
	return b.State() == StateReady
}

// Ready reports whether the worker is ready. When not ready, it returns a
// consistent error that includes the worker's name when available.
func (b *ServiceBase) Ready(ctx context.Context) error {
	_ = ctx
	if b.State() == StateReady {
		return nil
	}
	name := b.Name()
	if lastErr := b.LastError(); lastErr != nil {
		if name != "" {
			return fmt.Errorf("%s: %w", name, lastErr)
		}
		return lastErr
	}
	if name != "" {
		return fmt.Errorf("%s: %s", name, b.State())
	}
	return fmt.Errorf("worker %s", b.State())
}

// SetMetadata stores a key-value pair in the worker's metadata.
func (b *ServiceBase) SetMetadata(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metadata == nil {
		b.metadata = make(map[string]string)
	}
	b.metadata[key] = value
}

// GetMetadata retrieves a metadata value by key.
func (b *ServiceBase) GetMetadata(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.metadata[key]
	return v, ok
}
