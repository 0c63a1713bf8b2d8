package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"emails-sync/internal/logging"
	"emails-sync/internal/models"
	"emails-sync/internal/syncerr"
)

const (
	failureThreshold     = 5
	failureBackoffBase   = 5 * time.Minute
	failureSleepDuration = 30 * time.Minute
)

// Runner runs one synchronization pass
type Runner interface {
	RunSyncPass(ctx context.Context) (*models.SyncPassResult, error)
}

// Watcher runs a pass every refresh interval and backs off while the mailbox is unreachable
type Watcher struct {
	runner      Runner
	refresh     time.Duration
	passTimeout time.Duration
	failures    atomic.Int32
	sleep       func(ctx context.Context, d time.Duration) bool
}

func NewWatcher(runner Runner, refresh, passTimeout time.Duration) *Watcher {
	return &Watcher{
		runner:      runner,
		refresh:     refresh,
		passTimeout: passTimeout,
		sleep:       sleepCtx,
	}
}

// Run loops until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	logging.Log.Infof("Starting email synchronization, refresh every %s", w.refresh)

	for {
		wait := w.refresh + w.runOnce(ctx)
		if !w.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// runOnce runs one pass and returns the extra delay to apply before the next one
func (w *Watcher) runOnce(ctx context.Context) time.Duration {
	passCtx := ctx
	if w.passTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, w.passTimeout)
		defer cancel()
	}

	_, err := w.runner.RunSyncPass(passCtx)

	var trErr *syncerr.TransportError
	switch {
	case err == nil:
		w.failures.Store(0)
	case errors.Is(err, syncerr.ErrPassInProgress):
		logging.Log.Debug("A pass is already running, skipping this tick")
	case errors.As(err, &trErr) && ctx.Err() == nil:
		return w.handleTransportFailure(err)
	default:
		logging.Log.WithError(err).Error("Sync pass failed")
	}
	return 0
}

// handleTransportFailure counts consecutive failures and implements an exponential backoff strategy
func (w *Watcher) handleTransportFailure(err error) time.Duration {
	failures := w.failures.Add(1)
	logging.Log.Errorf("Mailbox connection error: %v", err)

	backoff := backoffFor(failures)
	if backoff > 0 {
		logging.Log.Warnf("Mailbox failed %d times, waiting %s before next attempt", failures, backoff)
	}
	return backoff
}

func backoffFor(failures int32) time.Duration {
	if failures < failureThreshold {
		return 0
	}

	maxSteps := int32(10)
	n := failures - failureThreshold
	if n > maxSteps {
		n = maxSteps
	}

	backoff := failureBackoffBase * time.Duration(1<<n)
	if backoff > failureSleepDuration {
		backoff = failureSleepDuration
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
