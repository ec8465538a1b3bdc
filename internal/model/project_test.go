package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectProgress(t *testing.T) {
	t.Run("no stages", func(t *testing.T) {
		assert.Equal(t, 0.0, Project{}.Progress())
	})

	t.Run("first of two stages", func(t *testing.T) {
		p := Project{
			Stages:            []Stage{{Name: "Ideation"}, {Name: "Analysis"}},
			CurrentStageIndex: 0,
		}
		assert.Equal(t, 0.5, p.Progress())
	})

	t.Run("last stage means done", func(t *testing.T) {
		p := Project{
			Stages:            []Stage{{Name: "Ideation"}, {Name: "Analysis"}},
			CurrentStageIndex: 1,
		}
		assert.Equal(t, 1.0, p.Progress())
	})

	t.Run("out-of-range index stays within [0,1]", func(t *testing.T) {
		p := Project{
			Stages:            []Stage{{Name: "Only"}},
			CurrentStageIndex: 5,
		}
		got := p.Progress()
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	})
}

func TestClampStageIndex(t *testing.T) {
	p := Project{
		Stages:            []Stage{{Name: "A"}, {Name: "B"}},
		CurrentStageIndex: 7,
	}
	assert.Equal(t, 0, p.ClampStageIndex())

	p.CurrentStageIndex = 1
	assert.Equal(t, 1, p.ClampStageIndex())

	p.CurrentStageIndex = -1
	assert.Equal(t, 0, p.ClampStageIndex())
}

func TestProjectClone(t *testing.T) {
	reminder := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := Project{
		ID:    "p1",
		Title: "Thesis",
		Stages: []Stage{{
			ID: "s1",
			Tasks: []Task{{
				ID:           "t1",
				Title:        "Write draft",
				ReminderDate: &reminder,
				Subtasks:     []Subtask{{ID: "st1", Title: "Outline"}},
				Comments:     []Comment{{ID: "c1", Content: "looks good"}},
			}},
		}},
		Members: []ProjectMember{{UserID: "u2", Role: RoleEditor}},
	}

	dup := src.Clone()
	dup.Stages[0].Tasks[0].Title = "changed"
	dup.Stages[0].Tasks[0].Subtasks[0].IsCompleted = true
	*dup.Stages[0].Tasks[0].ReminderDate = reminder.Add(time.Hour)
	dup.Members[0].Role = RoleViewer

	assert.Equal(t, "Write draft", src.Stages[0].Tasks[0].Title)
	assert.False(t, src.Stages[0].Tasks[0].Subtasks[0].IsCompleted)
	assert.Equal(t, reminder, *src.Stages[0].Tasks[0].ReminderDate)
	assert.Equal(t, RoleEditor, src.Members[0].Role)
}

func TestSortProjects(t *testing.T) {
	projects := []Project{
		{Title: "Beta", PriorityRank: 2},
		{Title: "Alpha", PriorityRank: 2},
		{Title: "Zeta", PriorityRank: 1},
	}
	SortProjects(projects)

	require.Len(t, projects, 3)
	assert.Equal(t, "Zeta", projects[0].Title)
	assert.Equal(t, "Alpha", projects[1].Title)
	assert.Equal(t, "Beta", projects[2].Title)
}

func TestIsShared(t *testing.T) {
	t.Run("own project without members", func(t *testing.T) {
		p := Project{OwnerID: "me"}
		assert.False(t, p.IsShared("me"))
	})

	t.Run("project with members", func(t *testing.T) {
		p := Project{OwnerID: "me", Members: []ProjectMember{{UserID: "u2"}}}
		assert.True(t, p.IsShared("me"))
	})

	t.Run("someone else's project", func(t *testing.T) {
		p := Project{OwnerID: "them"}
		assert.True(t, p.IsShared("me"))
	})
}

func TestStageByID(t *testing.T) {
	p := Project{Stages: []Stage{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, 1, p.StageByID("b"))
	assert.Equal(t, -1, p.StageByID("missing"))
}
