package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/model"
	"github.com/nhle/research-tracker/internal/remote"
)

func TestMergeToday(t *testing.T) {
	t.Run("empty local leaves remote unchanged", func(t *testing.T) {
		remoteItems := []model.TodayItem{{ID: "r1", Title: "Read paper"}}
		merged, changed := mergeToday(remoteItems, nil)
		assert.False(t, changed)
		assert.Equal(t, remoteItems, merged)
	})

	t.Run("full provenance overlap adds nothing", func(t *testing.T) {
		remoteItems := []model.TodayItem{{ID: "r1", SourceTaskID: "t1", Title: "Read paper"}}
		local := []model.TodayItem{{ID: "l1", SourceTaskID: "t1", Title: "Read the paper"}}
		merged, changed := mergeToday(remoteItems, local)
		assert.False(t, changed)
		assert.Len(t, merged, 1)
	})

	t.Run("legacy reference matches provenance", func(t *testing.T) {
		remoteItems := []model.TodayItem{{ID: "r1", TaskID: "t1", Title: "Read paper"}}
		local := []model.TodayItem{{ID: "l1", SourceTaskID: "t1", Title: "Read the paper"}}
		_, changed := mergeToday(remoteItems, local)
		assert.False(t, changed)
	})

	t.Run("exact title match is a duplicate", func(t *testing.T) {
		remoteItems := []model.TodayItem{{ID: "r1", Title: "Buy supplies", IsLocal: true}}
		local := []model.TodayItem{{ID: "l1", Title: "Buy supplies", IsLocal: true}}
		_, changed := mergeToday(remoteItems, local)
		assert.False(t, changed)
	})

	t.Run("new local items append", func(t *testing.T) {
		remoteItems := []model.TodayItem{{ID: "r1", Title: "Read paper"}}
		local := []model.TodayItem{{ID: "l1", Title: "Buy supplies", IsLocal: true}}
		merged, changed := mergeToday(remoteItems, local)
		assert.True(t, changed)
		require.Len(t, merged, 2)
		assert.Equal(t, "Read paper", merged[0].Title)
		assert.Equal(t, "Buy supplies", merged[1].Title)
	})
}

func TestLoadTodayPushesLocalWhenRemoteEmpty(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	date := e.todayDateNow()
	local := []model.TodayItem{{ID: "l1", Title: "Buy supplies", IsLocal: true}}
	require.NoError(t, e.local.SaveToday(ctx, testUser.ID, date, local))

	require.NoError(t, e.LoadToday(ctx))
	e.Flush()

	items := e.TodayItems()
	require.Len(t, items, 1)
	assert.Equal(t, "Buy supplies", items[0].Title)

	stored, err := gw.GetTodayItems(ctx, testUser.ID, date)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Buy supplies", stored[0].Title)
}

func TestLoadTodayFallsBackToCacheOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	gw.Fail = func(op string) error {
		if op == "GetTodayItems" {
			return context.DeadlineExceeded
		}
		return nil
	}
	e := newRemoteEngine(t, gw)

	date := e.todayDateNow()
	local := []model.TodayItem{{ID: "l1", Title: "Buy supplies", IsLocal: true}}
	require.NoError(t, e.local.SaveToday(ctx, testUser.ID, date, local))

	require.NoError(t, e.LoadToday(ctx))
	require.Len(t, e.TodayItems(), 1)
}

func TestLoadTodayFetchFailureLeavesRemoteUntouched(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	date := e.todayDateNow()
	require.NoError(t, gw.SaveTodayItems(ctx, testUser.ID, date, []model.TodayItem{{ID: "r1", Title: "Read paper"}}))
	require.NoError(t, e.local.SaveToday(ctx, testUser.ID, date, []model.TodayItem{{ID: "l1", Title: "Buy supplies", IsLocal: true}}))

	gw.Fail = func(op string) error {
		if op == "GetTodayItems" {
			return context.DeadlineExceeded
		}
		return nil
	}
	require.NoError(t, e.LoadToday(ctx))
	e.Flush()
	require.Len(t, e.TodayItems(), 1)

	// The unseen remote list survives the outage untouched.
	gw.Fail = nil
	stored, err := gw.GetTodayItems(ctx, testUser.ID, date)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Read paper", stored[0].Title)

	// The next successful load merges both sides and pushes.
	require.NoError(t, e.LoadToday(ctx))
	e.Flush()
	stored, err = gw.GetTodayItems(ctx, testUser.ID, date)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestLoadTodayMigratesLegacySlot(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	date := e.todayDateNow()
	legacy := []model.TodayItem{{ID: "old1", Title: "Old entry"}}
	require.NoError(t, e.local.SaveLegacyToday(ctx, date, legacy))

	require.NoError(t, e.LoadToday(ctx))
	items := e.TodayItems()
	require.Len(t, items, 1)
	assert.Equal(t, "Old entry", items[0].Title)

	// The legacy slot is gone after migration.
	_, ok, err := e.local.LoadLegacyToday(ctx, date)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddTaskToTodayCopiesAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.LoadToday(ctx))
	drainNotices(e)

	item, err := e.AddTaskToToday(ctx, p.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Write draft", item.Title)
	assert.Equal(t, task.ID, item.SourceTaskID)
	assert.NotEqual(t, task.ID, item.ID)

	// Editing the source task does not touch the checklist copy.
	require.NoError(t, e.UpdateTask(ctx, p.ID, task.ID, "Write final draft", ""))
	require.Len(t, e.TodayItems(), 1)
	assert.Equal(t, "Write draft", e.TodayItems()[0].Title)

	// The second add is rejected with a notice, not an error.
	_, err = e.AddTaskToToday(ctx, p.ID, task.ID)
	require.NoError(t, err)
	assert.Len(t, e.TodayItems(), 1)

	notices := drainNotices(e)
	require.NotEmpty(t, notices)
	assert.Equal(t, NoticeInfo, notices[len(notices)-1].Level)
}

func TestAddSubtaskToTodayRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	sub, err := e.CreateSubtask(ctx, p.ID, task.ID, "Outline")
	require.NoError(t, err)
	require.NoError(t, e.LoadToday(ctx))

	item, err := e.AddSubtaskToToday(ctx, p.ID, task.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, item.SourceSubtaskID)

	_, err = e.AddSubtaskToToday(ctx, p.ID, task.ID, sub.ID)
	require.NoError(t, err)
	assert.Len(t, e.TodayItems(), 1)
}

func TestToggleTodayItemPropagatesToTask(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.LoadToday(ctx))

	item, err := e.AddTaskToToday(ctx, p.ID, task.ID)
	require.NoError(t, err)

	require.NoError(t, e.ToggleTodayItem(ctx, item.ID))

	assert.True(t, e.TodayItems()[0].IsDone)
	assert.True(t, e.Projects()[0].Stages[0].Tasks[0].IsCompleted)
}

func TestToggleFreeTypedItemDoesNotTouchTree(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.LoadToday(ctx))

	item, err := e.AddTodayItem(ctx, "Buy supplies")
	require.NoError(t, err)
	require.NoError(t, e.ToggleTodayItem(ctx, item.ID))

	assert.True(t, e.TodayItems()[0].IsDone)
	assert.False(t, e.Projects()[0].Stages[0].Tasks[0].IsCompleted)
}

func TestToggleSurvivesDeletedSource(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	require.NoError(t, e.LoadToday(ctx))

	item, err := e.AddTaskToToday(ctx, p.ID, task.ID)
	require.NoError(t, err)
	require.NoError(t, e.DeleteTask(ctx, p.ID, task.ID))

	// The checklist entry outlives its source.
	require.NoError(t, e.ToggleTodayItem(ctx, item.ID))
	require.Len(t, e.TodayItems(), 1)
	assert.True(t, e.TodayItems()[0].IsDone)
}

func TestRemoveTodayItem(t *testing.T) {
	ctx := context.Background()
	e := newDemoEngine(t)
	require.NoError(t, e.LoadToday(ctx))

	item, err := e.AddTodayItem(ctx, "Buy supplies")
	require.NoError(t, err)
	require.NoError(t, e.RemoveTodayItem(ctx, item.ID))
	assert.Empty(t, e.TodayItems())

	assert.Error(t, e.RemoveTodayItem(ctx, item.ID))
}
