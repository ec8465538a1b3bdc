package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/metrics"
)

// OnRemoteChange coalesces realtime change events: each call resets the
// debounce timer, and one refetch of projects plus notifications fires
// when the window closes. Safe to call from any goroutine; a no-op in
// demo mode.
func (e *Engine) OnRemoteChange(ctx context.Context) {
	if e.demoMode() {
		return
	}

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	select {
	case <-e.stopCh:
		return
	default:
	}

	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(e.debounce, func() {
		e.refetchNow(ctx)
	})
}

// refetchNow replaces the project tree and notification list wholesale
// from the remote store. A failed refetch leaves the current state in
// place; the next change event retries.
func (e *Engine) refetchNow(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteTimeout)
	defer cancel()

	projects, err := e.gw.GetProjects(fetchCtx, e.user.ID)
	if err != nil {
		e.logger.Warn("refetching projects", zap.Error(err))
		return
	}
	notifications, err := e.gw.GetNotifications(fetchCtx, e.user.ID)
	if err != nil {
		e.logger.Warn("refetching notifications", zap.Error(err))
		return
	}

	metrics.RefetchCount.Inc()

	e.mu.Lock()
	e.swapLocked(normalizeProjects(projects))
	e.notifications = notifications
	for key := range seedDedup(notifications) {
		e.notified[key] = true
	}
	e.mu.Unlock()

	e.ScanOverdue(ctx)
}
