package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/model"
	"github.com/nhle/research-tracker/internal/remote"
)

func countByType(notifications []model.Notification, typ model.NotificationType) int {
	n := 0
	for _, notif := range notifications {
		if notif.Type == typ {
			n++
		}
	}
	return n
}

func TestOverdueScanNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", &past)
	require.NoError(t, err)

	// Creating the task already triggered a scan; more scans with no
	// intervening change add nothing.
	e.ScanOverdue(ctx)
	e.ScanOverdue(ctx)
	e.ScanOverdue(ctx)

	assert.Equal(t, 1, countByType(e.Notifications(), model.NotificationTaskOverdue))
}

func TestOverdueScanSubtask(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	sub, err := e.CreateSubtask(ctx, p.ID, task.ID, "Outline")
	require.NoError(t, err)

	past := testNow.Add(-time.Minute)
	require.NoError(t, e.SetSubtaskReminder(ctx, p.ID, task.ID, sub.ID, &past, ScopeOnlyMe))
	e.ScanOverdue(ctx)

	notifications := e.Notifications()
	assert.Equal(t, 1, countByType(notifications, model.NotificationSubtaskOverdue))
	assert.Equal(t, 0, countByType(notifications, model.NotificationTaskOverdue))
}

func TestOverdueRearm(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", &past)
	require.NoError(t, err)
	assert.Equal(t, 1, countByType(e.Notifications(), model.NotificationTaskOverdue))

	// Clearing the reminder prunes the dedup key; setting it overdue
	// again notifies exactly once more.
	require.NoError(t, e.SetTaskReminder(ctx, p.ID, task.ID, nil, ScopeOnlyMe))
	require.NoError(t, e.SetTaskReminder(ctx, p.ID, task.ID, &past, ScopeOnlyMe))
	e.ScanOverdue(ctx)
	e.ScanOverdue(ctx)

	assert.Equal(t, 2, countByType(e.Notifications(), model.NotificationTaskOverdue))
}

func TestOverdueSubtaskUnderCompletedTask(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.SetTaskCompleted(ctx, p.ID, task.ID, true))

	// A subtask added after the task was completed starts incomplete;
	// its reminder still counts.
	sub, err := e.CreateSubtask(ctx, p.ID, task.ID, "Archive notes")
	require.NoError(t, err)
	past := testNow.Add(-time.Minute)
	require.NoError(t, e.SetSubtaskReminder(ctx, p.ID, task.ID, sub.ID, &past, ScopeOnlyMe))
	e.ScanOverdue(ctx)

	notifications := e.Notifications()
	assert.Equal(t, 1, countByType(notifications, model.NotificationSubtaskOverdue))
	assert.Equal(t, 0, countByType(notifications, model.NotificationTaskOverdue))
}

func TestOverdueDedupSurvivesIdentityAdoption(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", &past)
	require.NoError(t, err)
	e.Flush()

	// The scan at create time recorded the optimistic identity; after
	// adoption the same task must not notify again.
	e.ScanOverdue(ctx)
	e.Flush()

	assert.Equal(t, 1, countByType(e.Notifications(), model.NotificationTaskOverdue))
	stored := gw.NotificationsFor(testUser.ID)
	require.Equal(t, 1, countByType(stored, model.NotificationTaskOverdue))

	// The persisted notification references the server identity.
	remoteProjects, err := gw.GetProjects(ctx, testUser.ID)
	require.NoError(t, err)
	assert.Equal(t, remoteProjects[0].Stages[0].Tasks[0].ID, stored[0].TaskID)
}

func TestOverdueCompletedTaskNeverNotifies(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.SetTaskCompleted(ctx, p.ID, task.ID, true))

	past := testNow.Add(-time.Hour)
	require.NoError(t, e.SetTaskReminder(ctx, p.ID, task.ID, &past, ScopeOnlyMe))
	e.ScanOverdue(ctx)

	assert.Equal(t, 0, countByType(e.Notifications(), model.NotificationTaskOverdue))
}

func TestOverdueNotificationsPrepend(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "First", "", &past)
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Second", "", &past)
	require.NoError(t, err)

	notifications := e.Notifications()
	require.Len(t, notifications, 2)
	assert.Contains(t, notifications[0].Message, "Second")
}

func TestDedupSeededFromPersistedNotifications(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()

	past := testNow.Add(-time.Hour)
	project := model.Project{
		ID:      "p1",
		Title:   "Thesis",
		OwnerID: testUser.ID,
		Stages: []model.Stage{{
			ID:    "s1",
			Name:  "Ideation",
			Tasks: []model.Task{{ID: "t1", Title: "Write draft", ReminderDate: &past}},
		}},
	}
	gw.SeedProject(project)
	_, err := gw.CreateNotification(ctx, testUser.ID, model.Notification{
		Type:   model.NotificationTaskOverdue,
		TaskID: "t1",
	})
	require.NoError(t, err)

	e := newRemoteEngine(t, gw)
	require.NoError(t, e.Load(ctx))
	e.ScanOverdue(ctx)
	e.Flush()

	// The persisted notification already covers t1; no new one appears.
	assert.Equal(t, 1, countByType(e.Notifications(), model.NotificationTaskOverdue))
}

func TestOverdueScanPersistsRemotely(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()

	past := testNow.Add(-time.Hour)
	gw.SeedProject(model.Project{
		ID:      "p1",
		Title:   "Thesis",
		OwnerID: testUser.ID,
		Stages: []model.Stage{{
			ID:    "s1",
			Name:  "Ideation",
			Tasks: []model.Task{{ID: "t1", Title: "Write draft", ReminderDate: &past}},
		}},
	})

	e := newRemoteEngine(t, gw)
	require.NoError(t, e.Load(ctx))
	e.Flush()

	stored := gw.NotificationsFor(testUser.ID)
	assert.Equal(t, 1, countByType(stored, model.NotificationTaskOverdue))
}

func TestSeedDedupKeys(t *testing.T) {
	seen := seedDedup([]model.Notification{
		{Type: model.NotificationTaskOverdue, TaskID: "t1"},
		{Type: model.NotificationSubtaskOverdue, TaskID: "t1", SubtaskID: "s1"},
		{Type: model.NotificationTaskCreated, TaskID: "t2"},
	})

	assert.True(t, seen[taskDedupKey("t1")])
	assert.True(t, seen[subtaskDedupKey("t1", "s1")])
	assert.False(t, seen[taskDedupKey("t2")])
}
