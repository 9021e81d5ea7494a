package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/workflow-engine/pkg/logger"
	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

const (
	enhancedRetryBase  = time.Second
	enhancedMaxRetries = 3
)

// Operation is one staged write inside an EnhancedManager transaction.
type Operation func(ctx context.Context, m *Manager) error

// EnhancedManager layers a two-phase begin/add/commit/rollback API over
// Manager: operations are staged, then applied in order on commit, retrying
// each one on a transient error with exponential backoff.
type EnhancedManager struct {
	base *Manager
	log  *logger.Logger

	mu   sync.Mutex
	txns map[string]*enhancedTxn
}

type enhancedTxn struct {
	ops []Operation
}

// NewEnhanced wraps base with two-phase transaction staging.
func NewEnhanced(base *Manager, log *logger.Logger) *EnhancedManager {
	if log == nil {
		log = logger.NewDefault("state-manager")
	}
	return &EnhancedManager{base: base, log: log, txns: make(map[string]*enhancedTxn)}
}

// BeginTransaction opens a new staging area and returns its handle.
func (e *EnhancedManager) BeginTransaction() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := fmt.Sprintf("etx-%d-%d", time.Now().UnixNano(), len(e.txns))
	e.txns[id] = &enhancedTxn{}
	return id
}

// AddOperation stages op against txnID without executing it.
func (e *EnhancedManager) AddOperation(txnID string, op Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.txns[txnID]
	if !ok {
		return wferrors.System("unknown transaction handle", nil)
	}
	t.ops = append(t.ops, op)
	return nil
}

// CommitTransaction runs every staged operation in order, retrying each on
// a transient error with exponential backoff (base 1s, cap 3 attempts). The
// first non-transient failure, or exhaustion of retries, aborts the
// transaction and discards its staging area.
func (e *EnhancedManager) CommitTransaction(ctx context.Context, txnID string) error {
	e.mu.Lock()
	t, ok := e.txns[txnID]
	if ok {
		delete(e.txns, txnID)
	}
	e.mu.Unlock()
	if !ok {
		return wferrors.System("unknown transaction handle", nil)
	}

	for i, op := range t.ops {
		if err := e.runWithRetry(ctx, op); err != nil {
			return fmt.Errorf("operation %d of transaction %s: %w", i, txnID, err)
		}
	}
	return nil
}

// RollbackTransaction discards a staging area without applying any of its
// operations.
func (e *EnhancedManager) RollbackTransaction(txnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.txns, txnID)
}

// ActiveTransactionCount reports how many two-phase transactions are
// currently staged but not yet committed or rolled back. It is
// process-local and resets to zero on restart, per the engine's
// single-process concurrency model: a crash abandons any in-flight
// two-phase transaction rather than recovering it.
func (e *EnhancedManager) ActiveTransactionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.txns)
}

func (e *EnhancedManager) runWithRetry(ctx context.Context, op Operation) error {
	var lastErr error
	delay := enhancedRetryBase
	for attempt := 1; attempt <= enhancedMaxRetries; attempt++ {
		err := op(ctx, e.base)
		if err == nil {
			return nil
		}
		lastErr = err
		if !wferrors.IsTransient(err) {
			return err
		}
		e.log.WithField("attempt", attempt).WithError(err).Warn("retrying transient state write")
		if attempt == enhancedMaxRetries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("exhausted %d attempts: %w", enhancedMaxRetries, lastErr)
}
