package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/metrics"
	"github.com/nhle/research-tracker/internal/model"
)

// MarkNotificationRead marks one notification read.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	return e.setNotificationRead(ctx, id, true)
}

// MarkNotificationUnread marks one notification unread.
func (e *Engine) MarkNotificationUnread(ctx context.Context, id string) error {
	return e.setNotificationRead(ctx, id, false)
}

func (e *Engine) setNotificationRead(ctx context.Context, id string, read bool) error {
	e.mu.Lock()
	next := make([]model.Notification, len(e.notifications))
	copy(next, e.notifications)
	found := false
	for i := range next {
		if next[i].ID == id {
			next[i].IsRead = read
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("notification %s not found", id)
	}
	e.notifications = next
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalNotifications(ctx, next)
		return nil
	}
	name := "mark notification read"
	call := e.gw.MarkNotificationRead
	if !read {
		name = "mark notification unread"
		call = e.gw.MarkNotificationUnread
	}
	e.background(name, func(ctx context.Context) error {
		return call(ctx, id)
	})
	return nil
}

// MarkAllNotificationsRead marks the whole list read.
func (e *Engine) MarkAllNotificationsRead(ctx context.Context) error {
	e.mu.Lock()
	next := make([]model.Notification, len(e.notifications))
	copy(next, e.notifications)
	for i := range next {
		next[i].IsRead = true
	}
	e.notifications = next
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalNotifications(ctx, next)
		return nil
	}
	e.background("mark all notifications read", func(ctx context.Context) error {
		return e.gw.MarkAllNotificationsRead(ctx, e.user.ID)
	})
	return nil
}

// DeleteNotification removes one notification.
func (e *Engine) DeleteNotification(ctx context.Context, id string) error {
	e.mu.Lock()
	next := make([]model.Notification, 0, len(e.notifications))
	found := false
	for _, n := range e.notifications {
		if n.ID == id {
			found = true
			continue
		}
		next = append(next, n)
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("notification %s not found", id)
	}
	e.notifications = next
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalNotifications(ctx, next)
		return nil
	}
	e.background("delete notification", func(ctx context.Context) error {
		return e.gw.DeleteNotification(ctx, id)
	})
	return nil
}

// ClearAllNotifications empties the notification list.
func (e *Engine) ClearAllNotifications(ctx context.Context) error {
	e.mu.Lock()
	e.notifications = []model.Notification{}
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalNotifications(ctx, []model.Notification{})
		return nil
	}
	e.background("clear all notifications", func(ctx context.Context) error {
		return e.gw.ClearAllNotifications(ctx, e.user.ID)
	})
	return nil
}

// fanOut sends a notification to the project's collaborators, excluding
// the acting user, when the project is shared. Fire-and-forget: a
// failure is logged and counted, never surfaced, never retried.
func (e *Engine) fanOut(projectID string, n model.Notification) {
	if e.demoMode() {
		return
	}

	e.mu.Lock()
	i := findProject(e.projects, projectID)
	shared := i >= 0 && e.projects[i].IsShared(e.user.ID)
	e.mu.Unlock()
	if !shared {
		return
	}

	e.chain(func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()

		id := e.remoteID(projectID)
		n.ProjectID = e.remoteID(n.ProjectID)
		n.TaskID = e.remoteID(n.TaskID)
		n.SubtaskID = e.remoteID(n.SubtaskID)
		if err := e.gw.NotifyCollaborators(ctx, id, e.user.ID, n); err != nil {
			metrics.FanoutFailureCount.Inc()
			e.logger.Warn("collaborator fan-out failed",
				zap.String("project_id", id),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	})
}
