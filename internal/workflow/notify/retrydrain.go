package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/framework"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

var errNoTransport = errors.New("no transport configured")

const (
	retryBase        = 30 * time.Second
	retryFactor      = 2
	retryCap         = 30 * time.Minute
	retryMaxAttempts = 10
	drainInterval    = 15 * time.Second
)

// RetryDrain periodically dequeues due notification retry entries and
// re-attempts delivery, escalating the backoff on each further failure
// and flagging exhausted entries for manual review.
type RetryDrain struct {
	framework.ServiceBase
	store     store.Store
	transport Transport
	interval  time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRetryDrain constructs a drain loop over s, re-delivering through t.
func NewRetryDrain(s store.Store, t Transport, log *logger.Logger) *RetryDrain {
	if log == nil {
		log = logger.NewDefault("notify-retry-drain")
	}
	d := &RetryDrain{store: s, transport: t, interval: drainInterval, log: log}
	d.SetName("notify-retry-drain")
	return d
}

// Start begins the periodic drain loop.
func (d *RetryDrain) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("notification retry drain started")
	d.MarkStarted()
	d.MarkReady(true)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (d *RetryDrain) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.MarkStopped()
	d.MarkReady(false)
	return nil
}

func (d *RetryDrain) tick(ctx context.Context) {
	entries, err := d.store.DequeueDueNotificationRetries(ctx, time.Now().UTC())
	if err != nil {
		d.log.WithError(err).Warn("failed to list due notification retries")
		return
	}

	for _, entry := range entries {
		msg := Message{RequestID: entry.RequestID, RecipientRole: entry.IntendedRecipientRole}
		var sendErr error
		if d.transport == nil {
			sendErr = errNoTransport
		} else {
			sendErr = d.transport.Send(ctx, msg)
		}
		if sendErr == nil {
			if err := d.store.DeleteNotificationRetry(ctx, entry.ID); err != nil {
				d.log.WithError(err).Warn("failed to clear delivered notification retry")
			}
			continue
		}

		entry.RetryCount++
		entry.LastError = sendErr.Error()
		if entry.RetryCount >= retryMaxAttempts {
			entry.ManualReview = true
			d.log.WithField("request_id", entry.RequestID).Warn("notification retry exhausted, flagged for manual review")
		} else {
			entry.NextRetryAt = time.Now().UTC().Add(backoffFor(entry.RetryCount))
		}
		if err := d.store.UpdateNotificationRetry(ctx, entry); err != nil {
			d.log.WithError(err).Warn("failed to persist notification retry state")
		}
	}
}

func backoffFor(attempt int) time.Duration {
	delay := retryBase
	for i := 0; i < attempt; i++ {
		delay *= retryFactor
		if delay >= retryCap {
			return retryCap
		}
	}
	return delay
}
