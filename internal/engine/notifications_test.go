package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/model"
)

func seedOverdueNotification(t *testing.T, e *Engine) model.Notification {
	t.Helper()
	ctx := context.Background()

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", &past)
	require.NoError(t, err)

	notifications := e.Notifications()
	require.NotEmpty(t, notifications)
	return notifications[0]
}

func TestMarkNotificationReadUnread(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)
	n := seedOverdueNotification(t, e)
	assert.False(t, n.IsRead)

	require.NoError(t, e.MarkNotificationRead(ctx, n.ID))
	assert.True(t, e.Notifications()[0].IsRead)

	require.NoError(t, e.MarkNotificationUnread(ctx, n.ID))
	assert.False(t, e.Notifications()[0].IsRead)

	assert.Error(t, e.MarkNotificationRead(ctx, "missing"))
}

func TestMarkAllNotificationsRead(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)
	seedOverdueNotification(t, e)

	require.NoError(t, e.MarkAllNotificationsRead(ctx))
	for _, n := range e.Notifications() {
		assert.True(t, n.IsRead)
	}
}

func TestDeleteAndClearNotifications(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)
	n := seedOverdueNotification(t, e)

	require.NoError(t, e.DeleteNotification(ctx, n.ID))
	assert.Empty(t, e.Notifications())
	assert.Error(t, e.DeleteNotification(ctx, n.ID))

	require.NoError(t, e.ClearAllNotifications(ctx))
	assert.Empty(t, e.Notifications())
}

func TestClearedNotificationsStayCleared(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)
	seedOverdueNotification(t, e)

	require.NoError(t, e.ClearAllNotifications(ctx))

	// Clearing does not reset the dedup set: the still-overdue task must
	// not re-notify on the next scan.
	e.ScanOverdue(ctx)
	assert.Empty(t, e.Notifications())
}
