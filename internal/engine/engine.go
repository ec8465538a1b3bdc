// Package engine implements the reconciliation core: it owns the
// in-memory project tree and keeps it consistent across optimistic local
// mutations, background persistence to the remote store, realtime change
// events from collaborators, and the local-first daily checklist.
//
// The tree is single-owner. Every mutation clones the affected structure,
// applies the change, and swaps the whole tree; observers only ever see
// immutable snapshots.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/localstore"
	"github.com/nhle/research-tracker/internal/metrics"
	"github.com/nhle/research-tracker/internal/model"
	"github.com/nhle/research-tracker/internal/remote"
)

// remoteTimeout bounds a single remote persistence call.
const remoteTimeout = 30 * time.Second

// journalRetention bounds how many settled journal entries stay around
// for inspection. Pending entries are never trimmed.
const journalRetention = 64

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// Notice is a transient user-facing message: validation context, remote
// failures, duplicate-add rejections. Notices never imply a state change.
type Notice struct {
	Level   string
	Message string
}

// OpStatus tracks a journal entry through its lifecycle.
type OpStatus int

const (
	OpQueued OpStatus = iota
	OpInFlight
	OpCommitted
	OpFailed
)

// Op is one pending remote persistence operation. The journal holds the
// pre-mutation snapshot until the op settles, so a terminal failure can
// restore it under the rollback policy.
type Op struct {
	ID     string
	Name   string
	Status OpStatus
	Err    error

	seq   uint64
	prior []model.Project
}

// Options configures a new Engine.
type Options struct {
	// Local is the durable snapshot store. Required.
	Local *localstore.Store

	// Gateway is the remote store. Nil selects demo mode: all
	// persistence goes to the local store synchronously.
	Gateway remote.Gateway

	// User is the acting identity stamped into audit fields.
	User model.User

	Logger *zap.Logger

	// ScanInterval is the overdue-scan period. Defaults to 30s.
	ScanInterval time.Duration

	// DebounceWindow coalesces realtime change events. Defaults to 500ms.
	DebounceWindow time.Duration

	// RollbackOnFailure restores the pre-mutation snapshot when a remote
	// call terminally fails. Default false: keep the optimistic state
	// and surface a notice only.
	RollbackOnFailure bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the reconciliation core. All exported methods are safe for
// concurrent use; mutations serialize on an internal lock.
type Engine struct {
	local  *localstore.Store
	gw     remote.Gateway
	user   model.User
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	projects      []model.Project
	notifications []model.Notification
	today         []model.TodayItem
	todayDate     string
	notified      map[string]bool
	journal       []*Op
	mutSeq        uint64
	remap         map[string]string
	opTail        chan struct{}

	scanEvery time.Duration
	debounce  time.Duration
	rollback  bool

	notices chan Notice

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	sub     remote.Subscription
	stopCh  chan struct{}
	stopped bool
	loopWG  sync.WaitGroup
	opWG    sync.WaitGroup
}

// New creates an Engine. Call Load to populate state and Start to begin
// the background scan and realtime feed.
func New(opts Options) (*Engine, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("engine requires a local store")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	head := make(chan struct{})
	close(head)

	return &Engine{
		local:     opts.Local,
		gw:        opts.Gateway,
		user:      opts.User,
		logger:    opts.Logger,
		now:       opts.Now,
		notified:  make(map[string]bool),
		remap:     make(map[string]string),
		opTail:    head,
		scanEvery: opts.ScanInterval,
		debounce:  opts.DebounceWindow,
		rollback:  opts.RollbackOnFailure,
		notices:   make(chan Notice, 32),
		stopCh:    make(chan struct{}),
	}, nil
}

// demoMode reports whether the engine persists locally only.
func (e *Engine) demoMode() bool {
	return e.gw == nil
}

// Load populates the engine from the remote store (remote mode) or the
// local snapshot (demo mode) and seeds the overdue dedup set from the
// persisted notifications.
func (e *Engine) Load(ctx context.Context) error {
	var (
		projects      []model.Project
		notifications []model.Notification
		err           error
	)

	if e.demoMode() {
		projects, err = e.local.LoadProjects(ctx)
		if err != nil {
			return fmt.Errorf("loading local projects: %w", err)
		}
		notifications, err = e.local.LoadNotifications(ctx)
		if err != nil {
			return fmt.Errorf("loading local notifications: %w", err)
		}
	} else {
		projects, err = e.gw.GetProjects(ctx, e.user.ID)
		if err != nil {
			return fmt.Errorf("loading remote projects: %w", err)
		}
		notifications, err = e.gw.GetNotifications(ctx, e.user.ID)
		if err != nil {
			return fmt.Errorf("loading remote notifications: %w", err)
		}
	}

	e.mu.Lock()
	e.projects = normalizeProjects(projects)
	e.notifications = notifications
	e.notified = seedDedup(notifications)
	e.mu.Unlock()

	e.ScanOverdue(ctx)
	return nil
}

// Start launches the overdue-scan ticker and, in remote mode, the
// realtime subscription.
func (e *Engine) Start(ctx context.Context) error {
	e.loopWG.Add(1)
	go e.scanLoop(ctx)

	if !e.demoMode() {
		e.mu.Lock()
		ids := make([]string, len(e.projects))
		for i, p := range e.projects {
			ids[i] = p.ID
		}
		e.mu.Unlock()

		sub, err := e.gw.Subscribe(ctx, e.user.ID, ids, func(remote.ChangeEvent) {
			e.OnRemoteChange(ctx)
		})
		if err != nil {
			// Degraded but functional: the scan ticker still runs and
			// mutations still persist, the view just goes stale until
			// the next reload.
			e.logger.Warn("realtime feed unavailable", zap.Error(err))
		} else {
			e.sub = sub
		}
	}
	return nil
}

// Close tears down the ticker, the debounce timer, and the subscription,
// then waits for in-flight background work.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.debounceMu.Lock()
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
	e.debounceMu.Unlock()
	if e.sub != nil {
		e.sub.Close()
	}
	e.loopWG.Wait()
	e.opWG.Wait()
}

// Flush blocks until all in-flight background persistence has settled.
// Intended for tests and orderly shutdown.
func (e *Engine) Flush() {
	e.opWG.Wait()
}

// Projects returns the current project tree snapshot. Callers must treat
// it as read-only; it is replaced wholesale on every mutation.
func (e *Engine) Projects() []model.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projects
}

// Notifications returns the current notification list, most recent first.
func (e *Engine) Notifications() []model.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifications
}

// TodayItems returns the loaded daily checklist.
func (e *Engine) TodayItems() []model.TodayItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.today
}

// Notices returns the transient message feed. The channel is never
// closed; messages are dropped when no one is listening.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// Journal returns a copy of the pending-operation journal.
func (e *Engine) Journal() []Op {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Op, len(e.journal))
	for i, op := range e.journal {
		out[i] = *op
	}
	return out
}

// notify sends a notice without blocking; a full channel drops it.
func (e *Engine) notify(level, format string, args ...interface{}) {
	select {
	case e.notices <- Notice{Level: level, Message: fmt.Sprintf(format, args...)}:
	default:
	}
}

func (e *Engine) newID() string {
	return uuid.New().String()
}

// chain enqueues fn behind every previously enqueued background call.
// Remote persistence runs strictly in enqueue order, so a child entity
// is never sent to the server before the op that creates its parent has
// settled and adopted the server identity.
func (e *Engine) chain(fn func()) {
	e.mu.Lock()
	prev := e.opTail
	done := make(chan struct{})
	e.opTail = done
	e.mu.Unlock()

	e.opWG.Add(1)
	go func() {
		defer e.opWG.Done()
		defer close(done)
		<-prev
		fn()
	}()
}

// remapLocked resolves an identity through the adoption map. Must be
// called with e.mu held.
func (e *Engine) remapLocked(id string) string {
	if mapped, ok := e.remap[id]; ok {
		return mapped
	}
	return id
}

// remoteID translates an optimistic identity into its server-assigned
// replacement once the create that issued it has committed. Identities
// the server assigned itself pass through unchanged. Remote closures
// call this at send time, not at enqueue time: the parent's create may
// still be in flight when a dependent op is queued.
func (e *Engine) remoteID(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remapLocked(id)
}

// trimJournalLocked drops the oldest settled entries beyond the
// retention cap. Must be called with e.mu held.
func (e *Engine) trimJournalLocked() {
	settled := 0
	for _, op := range e.journal {
		if op.Status == OpCommitted || op.Status == OpFailed {
			settled++
		}
	}
	if settled <= journalRetention {
		return
	}
	drop := settled - journalRetention
	kept := make([]*Op, 0, len(e.journal)-drop)
	for _, op := range e.journal {
		if drop > 0 && (op.Status == OpCommitted || op.Status == OpFailed) {
			drop--
			continue
		}
		kept = append(kept, op)
	}
	e.journal = kept
}

// swap installs a new project tree under the lock, bumping the mutation
// sequence, and returns the pre-mutation snapshot for the journal.
// Must be called with e.mu held.
func (e *Engine) swapLocked(projects []model.Project) []model.Project {
	prior := e.projects
	e.projects = projects
	e.mutSeq++
	return prior
}

// persistLocalProjects writes the whole project list to the local store.
// Failures are logged and swallowed: the in-memory state stays the
// source of truth for the session.
func (e *Engine) persistLocalProjects(ctx context.Context, projects []model.Project) {
	if err := e.local.SaveProjects(ctx, projects); err != nil {
		e.logger.Warn("persisting project snapshot", zap.Error(err))
	}
}

// persistLocalNotifications writes the notification list to the local
// store (demo mode only).
func (e *Engine) persistLocalNotifications(ctx context.Context, notifications []model.Notification) {
	if err := e.local.SaveNotifications(ctx, notifications); err != nil {
		e.logger.Warn("persisting notification snapshot", zap.Error(err))
	}
}

// asyncRemote journals and enqueues one remote persistence call on the
// ordered chain. The optimistic state is already installed; the call
// reconciles server-assigned identities afterwards. A terminal failure
// surfaces a notice and, under the rollback policy, restores the prior
// snapshot when no later mutation has landed, otherwise schedules a
// refetch. The pre-mutation snapshot is released once the op settles.
func (e *Engine) asyncRemote(name string, prior []model.Project, call func(ctx context.Context) error) {
	e.mu.Lock()
	op := &Op{
		ID:     e.newID(),
		Name:   name,
		Status: OpQueued,
		seq:    e.mutSeq,
		prior:  prior,
	}
	e.journal = append(e.journal, op)
	e.mu.Unlock()

	e.chain(func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()

		e.mu.Lock()
		op.Status = OpInFlight
		e.mu.Unlock()

		err := call(ctx)

		e.mu.Lock()
		if err == nil {
			op.Status = OpCommitted
			op.prior = nil
			e.trimJournalLocked()
			e.mu.Unlock()
			return
		}
		op.Status = OpFailed
		op.Err = err
		rolledBack := false
		if e.rollback && op.prior != nil && e.mutSeq == op.seq {
			e.projects = op.prior
			e.mutSeq++
			rolledBack = true
		}
		op.prior = nil
		needRefetch := e.rollback && !rolledBack
		e.trimJournalLocked()
		e.mu.Unlock()

		metrics.IncrementRemoteFailure(name)
		e.logger.Warn("remote persistence failed",
			zap.String("op", name),
			zap.Bool("rolled_back", rolledBack),
			zap.Error(err),
		)
		e.notify(NoticeError, "Couldn't save changes (%s): %v", name, err)

		if rolledBack {
			metrics.RollbackCount.Inc()
		}
		if needRefetch {
			e.OnRemoteChange(context.Background())
		}
	})
}

// background runs a fire-and-forget side effect on the ordered chain.
// Failures are logged and counted, never surfaced, never retried.
func (e *Engine) background(name string, run func(ctx context.Context) error) {
	e.chain(func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			e.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	})
}

// normalizeProjects clamps stage indexes and sorts by priority rank.
func normalizeProjects(projects []model.Project) []model.Project {
	for i := range projects {
		projects[i].CurrentStageIndex = projects[i].ClampStageIndex()
	}
	model.SortProjects(projects)
	return projects
}
