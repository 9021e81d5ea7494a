package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/fieldops/workflow-engine/internal/metrics"
	"github.com/fieldops/workflow-engine/pkg/framework"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

const loopInterval = 60 * time.Second

// Loop periodically runs stuck-request detection and health reporting,
// publishing both to internal/metrics and logging a warning whenever
// health degrades, mirroring notify.RetryDrain's ticker shape.
type Loop struct {
	framework.ServiceBase
	detector  *Detector
	health    *HealthReporter
	threshold time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLoop constructs a recovery Loop. The Detector's own per-workflow-type
// thresholds govern what counts as stuck; threshold (DefaultStuckThreshold
// when zero) is stored on the Loop and not otherwise used.
func NewLoop(d *Detector, h *HealthReporter, log *logger.Logger, threshold time.Duration) *Loop {
	if log == nil {
		log = logger.NewDefault("recovery-loop")
	}
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	l := &Loop{detector: d, health: h, threshold: threshold, log: log}
	l.SetName("recovery-loop")
	return l
}

// Start begins the periodic detection/reporting loop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(loopInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.tick(runCtx)
			}
		}
	}()

	l.log.Info("recovery loop started")
	l.MarkStarted()
	l.MarkReady(true)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.MarkStopped()
	l.MarkReady(false)
	return nil
}

func (l *Loop) tick(ctx context.Context) {
	now := time.Now().UTC()

	stuck, err := l.detector.DetectStuck(ctx, now)
	if err != nil {
		l.log.WithError(err).Warn("stuck-request detection failed")
	} else {
		metrics.SetStuckRequests(len(stuck))
		if len(stuck) > 0 {
			l.log.WithField("count", len(stuck)).Warn("stuck requests detected")
		}
	}

	report, err := l.health.Report(ctx, now)
	if err != nil {
		l.log.WithError(err).Warn("health report failed")
		return
	}
	metrics.SetActiveTransactions(report.ActiveTransactions)
	if report.Status != HealthHealthy {
		l.log.WithField("status", report.Status).
			WithField("active_transactions", report.ActiveTransactions).
			WithField("pending_retries", report.PendingNotificationRetries).
			WithField("critical_errors_last_hour", report.CriticalErrorsLastHour).
			Warn("engine health degraded")
	}
}
