package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/research-tracker/internal/remote"
	"github.com/nhle/research-tracker/tests/testutil"
)

var errBackend = errors.New("backend unavailable")

func failOn(op string) func(string) error {
	return func(got string) error {
		if got == op {
			return errBackend
		}
		return nil
	}
}

func TestRemoteFailureKeepsOptimisticState(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	_, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, e.Projects()[0].ID, e.Projects()[0].Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()
	drainNotices(e)

	gw.Fail = failOn("UpdateTask")
	projectID := e.Projects()[0].ID
	taskID := e.Projects()[0].Stages[0].Tasks[0].ID
	require.NoError(t, e.SetTaskCompleted(ctx, projectID, taskID, true))
	e.Flush()

	// Default policy: the optimistic state stays, a notice surfaces, and
	// the journal records the terminal failure.
	assert.True(t, e.Projects()[0].Stages[0].Tasks[0].IsCompleted)

	notices := drainNotices(e)
	require.NotEmpty(t, notices)
	assert.Equal(t, NoticeError, notices[len(notices)-1].Level)

	journal := e.Journal()
	require.NotEmpty(t, journal)
	last := journal[len(journal)-1]
	assert.Equal(t, OpFailed, last.Status)
	assert.ErrorIs(t, last.Err, errBackend)
}

func TestRemoteFailureRollsBackUnderPolicy(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()

	e, err := New(Options{
		Local:             testutil.NewTestStore(t),
		Gateway:           gw,
		User:              testUser,
		Now:               testutil.FixedClock(testNow),
		RollbackOnFailure: true,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	_, err = e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, e.Projects()[0].ID, e.Projects()[0].Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()

	gw.Fail = failOn("UpdateTask")
	projectID := e.Projects()[0].ID
	taskID := e.Projects()[0].Stages[0].Tasks[0].ID
	require.NoError(t, e.SetTaskCompleted(ctx, projectID, taskID, true))
	e.Flush()

	// The pre-mutation snapshot is restored.
	assert.False(t, e.Projects()[0].Stages[0].Tasks[0].IsCompleted)
}

func TestFailedCreateKeepsClientIdentity(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	_, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	e.Flush()

	gw.Fail = failOn("CreateTask")
	task, err := e.CreateTask(ctx, e.Projects()[0].ID, e.Projects()[0].Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()

	// The optimistic entity survives with its client identity, locally
	// valid but unsynced.
	got := e.Projects()[0].Stages[0].Tasks[0]
	assert.Equal(t, task.ID, got.ID)
}

func TestDependentOpsPersistInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	// No Flush between dependent ops: the child ops are queued while the
	// project create is still pending, and must land after it with the
	// server-assigned parent identities.
	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	task, err := e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	_, err = e.CreateSubtask(ctx, p.ID, task.ID, "Outline")
	require.NoError(t, err)
	require.NoError(t, e.SetTaskCompleted(ctx, p.ID, task.ID, true))
	e.Flush()

	for _, op := range e.Journal() {
		assert.Equal(t, OpCommitted, op.Status, op.Name)
	}

	remoteProjects, err := gw.GetProjects(ctx, testUser.ID)
	require.NoError(t, err)
	require.Len(t, remoteProjects, 1)
	require.Len(t, remoteProjects[0].Stages, 1)
	require.Len(t, remoteProjects[0].Stages[0].Tasks, 1)
	got := remoteProjects[0].Stages[0].Tasks[0]
	assert.True(t, got.IsCompleted)
	require.Len(t, got.Subtasks, 1)
	assert.True(t, got.Subtasks[0].IsCompleted)

	// Local and remote agree on identities after adoption.
	assert.Equal(t, got.ID, e.Projects()[0].Stages[0].Tasks[0].ID)
}

func TestRollbackPolicyKeepsChildOfPendingParent(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()

	e, err := New(Options{
		Local:             testutil.NewTestStore(t),
		Gateway:           gw,
		User:              testUser,
		Now:               testutil.FixedClock(testNow),
		RollbackOnFailure: true,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	p, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	_, err = e.CreateTask(ctx, p.ID, p.Stages[0].ID, "Write draft", "", nil)
	require.NoError(t, err)
	e.Flush()

	// Both creates land in order; nothing is rolled back.
	require.Len(t, e.Projects(), 1)
	require.Len(t, e.Projects()[0].Stages[0].Tasks, 1)
	for _, op := range e.Journal() {
		assert.Equal(t, OpCommitted, op.Status, op.Name)
	}
}

func TestJournalLifecycle(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	_, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	e.Flush()

	journal := e.Journal()
	require.Len(t, journal, 1)
	assert.Equal(t, "create project", journal[0].Name)
	assert.Equal(t, OpCommitted, journal[0].Status)
	assert.NoError(t, journal[0].Err)
}

func TestJournalReleasesSnapshotsAndTrims(t *testing.T) {
	ctx := context.Background()
	gw := remote.NewMemoryGateway()
	e := newRemoteEngine(t, gw)

	_, err := e.CreateProject(ctx, "Thesis", "", []string{"Ideation"})
	require.NoError(t, err)
	e.Flush()

	projectID := e.Projects()[0].ID
	for i := 0; i < journalRetention+20; i++ {
		require.NoError(t, e.UpdateProject(ctx, projectID, fmt.Sprintf("Thesis v%d", i), ""))
	}
	e.Flush()

	// Settled entries are capped and carry no tree snapshot.
	journal := e.Journal()
	assert.Len(t, journal, journalRetention)
	for _, op := range journal {
		assert.Equal(t, OpCommitted, op.Status)
		assert.Nil(t, op.prior)
	}
}

func TestNoticeChannelNeverBlocks(t *testing.T) {
	e := newDemoEngine(t)

	// Overfill the buffer; notify must drop rather than block.
	for i := 0; i < 100; i++ {
		e.notify(NoticeInfo, "notice %d", i)
	}
	assert.NotEmpty(t, drainNotices(e))
}
