package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/model"
)

func TestMemoryGatewayServerAssignsIdentities(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	created, err := g.CreateProject(ctx, model.Project{ID: "optimistic", Title: "Thesis", OwnerID: "u1"})
	require.NoError(t, err)
	assert.NotEqual(t, "optimistic", created.ID)

	stage, err := g.CreateStage(ctx, created.ID, model.Stage{ID: "optimistic-stage", Name: "Ideation"})
	require.NoError(t, err)
	assert.NotEqual(t, "optimistic-stage", stage.ID)

	task, err := g.CreateTask(ctx, stage.ID, model.Task{ID: "optimistic-task", Title: "Write draft"})
	require.NoError(t, err)
	assert.NotEqual(t, "optimistic-task", task.ID)
}

func TestMemoryGatewayVisibility(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.SeedProject(model.Project{ID: "p1", Title: "Mine", OwnerID: "u1"})
	g.SeedProject(model.Project{
		ID: "p2", Title: "Shared", OwnerID: "u2",
		Members: []model.ProjectMember{{UserID: "u1", Role: model.RoleEditor}},
	})
	g.SeedProject(model.Project{ID: "p3", Title: "Theirs", OwnerID: "u2"})

	projects, err := g.GetProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, projects, 2)

	titles := []string{projects[0].Title, projects[1].Title}
	assert.Contains(t, titles, "Mine")
	assert.Contains(t, titles, "Shared")
}

func TestNotifyCollaboratorsExcludesActor(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()

	g.SeedProject(model.Project{
		ID: "p1", Title: "Shared", OwnerID: "owner",
		Members: []model.ProjectMember{
			{UserID: "owner", Role: model.RoleOwner},
			{UserID: "editor", Role: model.RoleEditor},
		},
	})

	err := g.NotifyCollaborators(ctx, "p1", "owner", model.Notification{
		Type:  model.NotificationTaskCreated,
		Title: "New task",
	})
	require.NoError(t, err)

	assert.Empty(t, g.NotificationsFor("owner"))
	assert.Len(t, g.NotificationsFor("editor"), 1)
}

func TestMemoryGatewayFailureHook(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.Fail = func(op string) error {
		if op == "CreateProject" {
			return context.DeadlineExceeded
		}
		return nil
	}

	_, err := g.CreateProject(ctx, model.Project{Title: "Thesis"})
	assert.Error(t, err)
	assert.Contains(t, g.Calls, "CreateProject")
}

func TestMemoryGatewaySubscribeDeliversEvents(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	g.SeedProject(model.Project{ID: "p1", Title: "Shared", OwnerID: "u2"})

	events := make(chan ChangeEvent, 4)
	sub, err := g.Subscribe(ctx, "u1", []string{"p1"}, func(ev ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, g.UpdateProject(ctx, model.Project{ID: "p1", Title: "Renamed", OwnerID: "u2"}))

	ev := <-events
	assert.Equal(t, EntityProject, ev.Entity)
	assert.Equal(t, ActionUpdate, ev.Action)
	assert.Equal(t, "p1", ev.ProjectID)
}
