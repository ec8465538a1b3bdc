package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskOverdueAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	t.Run("no reminder is never overdue", func(t *testing.T) {
		assert.False(t, Task{}.OverdueAt(now))
	})

	t.Run("past reminder on an open task", func(t *testing.T) {
		assert.True(t, Task{ReminderDate: &past}.OverdueAt(now))
	})

	t.Run("future reminder", func(t *testing.T) {
		assert.False(t, Task{ReminderDate: &future}.OverdueAt(now))
	})

	t.Run("completed task is never overdue", func(t *testing.T) {
		assert.False(t, Task{ReminderDate: &past, IsCompleted: true}.OverdueAt(now))
	})

	t.Run("reminder exactly now is not yet overdue", func(t *testing.T) {
		assert.False(t, Task{ReminderDate: &now}.OverdueAt(now))
	})
}

func TestSubtaskOverdueAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	assert.True(t, Subtask{ReminderDate: &past}.OverdueAt(now))
	assert.False(t, Subtask{ReminderDate: &past, IsCompleted: true}.OverdueAt(now))
}

func TestTodayItemSameSource(t *testing.T) {
	t.Run("matching task provenance", func(t *testing.T) {
		a := TodayItem{SourceTaskID: "t1"}
		b := TodayItem{SourceTaskID: "t1"}
		assert.True(t, a.SameSource(b))
	})

	t.Run("legacy field matches provenance field", func(t *testing.T) {
		a := TodayItem{TaskID: "t1"}
		b := TodayItem{SourceTaskID: "t1"}
		assert.True(t, a.SameSource(b))
	})

	t.Run("subtask provenance takes precedence over task", func(t *testing.T) {
		a := TodayItem{SourceTaskID: "t1", SourceSubtaskID: "s1"}
		b := TodayItem{SourceTaskID: "t1", SourceSubtaskID: "s2"}
		assert.False(t, a.SameSource(b))
	})

	t.Run("free-typed entries never match by source", func(t *testing.T) {
		a := TodayItem{Title: "Buy supplies", IsLocal: true}
		b := TodayItem{Title: "Buy supplies", IsLocal: true}
		assert.False(t, a.SameSource(b))
	})
}
