package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/research-tracker/internal/metrics"
	"github.com/nhle/research-tracker/internal/model"
)

// Dedup keys identify one overdue task or subtask across scans.
func taskDedupKey(taskID string) string {
	return "task-" + taskID
}

func subtaskDedupKey(taskID, subtaskID string) string {
	return "subtask-" + taskID + "-" + subtaskID
}

// seedDedup rebuilds the notified-key set from persisted overdue
// notifications, so a restart does not re-notify for items the user has
// already been told about.
func seedDedup(notifications []model.Notification) map[string]bool {
	seen := make(map[string]bool)
	for _, n := range notifications {
		switch n.Type {
		case model.NotificationTaskOverdue:
			if n.TaskID != "" {
				seen[taskDedupKey(n.TaskID)] = true
			}
		case model.NotificationSubtaskOverdue:
			if n.TaskID != "" && n.SubtaskID != "" {
				seen[subtaskDedupKey(n.TaskID, n.SubtaskID)] = true
			}
		}
	}
	return seen
}

// adoptTaskDedupKeys renames notified-set keys that embed an optimistic
// task identity, so a scan that ran before the server identity landed
// does not re-notify afterwards. Must be called with e.mu held.
func (e *Engine) adoptTaskDedupKeys(optimisticID, serverID string) {
	old := taskDedupKey(optimisticID)
	if e.notified[old] {
		delete(e.notified, old)
		e.notified[taskDedupKey(serverID)] = true
	}
	prefix := "subtask-" + optimisticID + "-"
	for key := range e.notified {
		if strings.HasPrefix(key, prefix) {
			delete(e.notified, key)
			e.notified[subtaskDedupKey(serverID, strings.TrimPrefix(key, prefix))] = true
		}
	}
}

// adoptSubtaskDedupKey is adoptTaskDedupKeys one level down. Must be
// called with e.mu held.
func (e *Engine) adoptSubtaskDedupKey(taskID, optimisticID, serverID string) {
	tid := e.remapLocked(taskID)
	for _, parent := range []string{taskID, tid} {
		old := subtaskDedupKey(parent, optimisticID)
		if e.notified[old] {
			delete(e.notified, old)
			e.notified[subtaskDedupKey(tid, serverID)] = true
		}
	}
}

// overdueItem is one task or subtask the scan found past its reminder.
type overdueItem struct {
	key          string
	notification model.Notification
	kind         string
}

// ScanOverdue walks every task and subtask of every project and creates
// one overdue notification per newly-overdue item. The notified-key set
// is pruned first, so an item that stops being overdue (completed,
// reminder cleared, deleted) and later re-arms notifies exactly once
// more. Running the scan repeatedly with no intervening change is a
// no-op.
func (e *Engine) ScanOverdue(ctx context.Context) {
	now := e.now()

	e.mu.Lock()

	current := make(map[string]bool)
	var fresh []overdueItem
	for _, p := range e.projects {
		for _, s := range p.Stages {
			for _, t := range s.Tasks {
				if t.OverdueAt(now) {
					key := taskDedupKey(t.ID)
					current[key] = true
					if !e.notified[key] {
						fresh = append(fresh, overdueItem{
							key:  key,
							kind: "task",
							notification: model.Notification{
								ID:           e.newID(),
								Type:         model.NotificationTaskOverdue,
								Title:        "Task overdue",
								Message:      fmt.Sprintf("%q in %s is past its reminder", t.Title, p.Title),
								ProjectID:    p.ID,
								TaskID:       t.ID,
								CreatedAt:    now,
								ReminderDate: t.ReminderDate,
							},
						})
					}
				}
				for _, st := range t.Subtasks {
					if !st.OverdueAt(now) {
						continue
					}
					key := subtaskDedupKey(t.ID, st.ID)
					current[key] = true
					if !e.notified[key] {
						fresh = append(fresh, overdueItem{
							key:  key,
							kind: "subtask",
							notification: model.Notification{
								ID:           e.newID(),
								Type:         model.NotificationSubtaskOverdue,
								Title:        "Subtask overdue",
								Message:      fmt.Sprintf("%q under %q is past its reminder", st.Title, t.Title),
								ProjectID:    p.ID,
								TaskID:       t.ID,
								SubtaskID:    st.ID,
								CreatedAt:    now,
								ReminderDate: st.ReminderDate,
							},
						})
					}
				}
			}
		}
	}

	// Prune keys whose item is no longer overdue so a re-armed reminder
	// can notify again.
	for key := range e.notified {
		if !current[key] {
			delete(e.notified, key)
		}
	}

	if len(fresh) == 0 {
		e.mu.Unlock()
		return
	}

	// Prepend newest-first and record the keys.
	prepend := make([]model.Notification, 0, len(fresh))
	for _, item := range fresh {
		e.notified[item.key] = true
		prepend = append(prepend, item.notification)
	}
	e.notifications = append(prepend, e.notifications...)
	snapshot := e.notifications
	e.mu.Unlock()

	for _, item := range fresh {
		metrics.IncrementOverdue(item.kind)
	}

	if e.demoMode() {
		e.persistLocalNotifications(ctx, snapshot)
		return
	}
	for _, item := range fresh {
		n := item.notification
		e.background("create overdue notification", func(ctx context.Context) error {
			n.ProjectID = e.remoteID(n.ProjectID)
			n.TaskID = e.remoteID(n.TaskID)
			n.SubtaskID = e.remoteID(n.SubtaskID)
			_, err := e.gw.CreateNotification(ctx, e.user.ID, n)
			return err
		})
	}
}

// scanLoop re-runs the overdue scan on a fixed period until Close.
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.scanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScanOverdue(ctx)
		}
	}
}
