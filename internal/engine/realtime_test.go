package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/model"
	"github.com/nhle/research-tracker/internal/remote"
	"github.com/nhle/research-tracker/tests/testutil"
)

func TestDebounceCoalescesIntoOneRefetch(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	gw.SeedProject(model.Project{ID: "p1", Title: "Thesis", OwnerID: testUser.ID})

	e, err := New(Options{
		Local:          testutil.NewTestStore(t),
		Gateway:        gw,
		User:           testUser,
		Now:            testutil.FixedClock(testNow),
		DebounceWindow: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NoError(t, e.Load(ctx))

	// An external collaborator renames the project; a burst of change
	// events collapses into a single refetch.
	require.NoError(t, gw.UpdateProject(ctx, model.Project{ID: "p1", Title: "Thesis v2", OwnerID: testUser.ID}))
	before := countCalls(gw, "GetProjects")
	for i := 0; i < 5; i++ {
		e.OnRemoteChange(ctx)
	}

	require.Eventually(t, func() bool {
		projects := e.Projects()
		return len(projects) == 1 && projects[0].Title == "Thesis v2"
	}, time.Second, 5*time.Millisecond)

	// Let any stray timer settle before counting.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before+1, countCalls(gw, "GetProjects"))
}

func TestDemoModeIgnoresRemoteChanges(t *testing.T) {
	e := newDemoEngine(t)
	e.OnRemoteChange(context.Background())
	assert.Empty(t, e.Projects())
}

func TestFanOutNotifiesCollaborators(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	gw.SeedProject(model.Project{
		ID: "p1", Title: "Shared", OwnerID: testUser.ID,
		Members: []model.ProjectMember{
			{UserID: testUser.ID, Role: model.RoleOwner},
			{UserID: "u2", Role: model.RoleEditor},
		},
		Stages: []model.Stage{{ID: "s1", Name: "Ideation"}},
	})

	e := newRemoteEngine(t, gw)
	require.NoError(t, e.Load(ctx))

	_, err := e.CreateTask(ctx, "p1", "s1", "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()

	// The acting user never receives their own fan-out.
	for _, n := range gw.NotificationsFor(testUser.ID) {
		assert.NotEqual(t, model.NotificationTaskCreated, n.Type)
	}
	notifications := gw.NotificationsFor("u2")
	require.NotEmpty(t, notifications)
	assert.Equal(t, model.NotificationTaskCreated, notifications[0].Type)
}

func TestFanOutSkipsPrivateProjects(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	_, err := e.CreateProject(ctx, "Private", "", []string{"Ideation"})
	require.NoError(t, err)
	e.Flush()

	_, err = e.CreateTask(ctx, e.Projects()[0].ID, e.Projects()[0].Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()

	assert.NotContains(t, gw.CallsSnapshot(), "NotifyCollaborators")
}

func countCalls(gw *remote.MemoryGateway, op string) int {
	n := 0
	for _, call := range gw.CallsSnapshot() {
		if call == op {
			n++
		}
	}
	return n
}
