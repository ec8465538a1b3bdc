package engine

import (
	"context"

	"github.com/nhle/research-tracker/internal/model"
)

// Tree lookup helpers. All operate on a cloned list; indexes are only
// valid until the next swap.

func findProject(projects []model.Project, id string) int {
	for i := range projects {
		if projects[i].ID == id {
			return i
		}
	}
	return -1
}

func findStage(p *model.Project, stageID string) int {
	for i := range p.Stages {
		if p.Stages[i].ID == stageID {
			return i
		}
	}
	return -1
}

// findTask returns the stage and task indexes of a task within a
// project, or (-1, -1).
func findTask(p *model.Project, taskID string) (int, int) {
	for si := range p.Stages {
		for ti := range p.Stages[si].Tasks {
			if p.Stages[si].Tasks[ti].ID == taskID {
				return si, ti
			}
		}
	}
	return -1, -1
}

func findSubtask(t *model.Task, subtaskID string) int {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == subtaskID {
			return i
		}
	}
	return -1
}

// rewrite clones the tree, applies fn, and swaps the result in when fn
// reports a change. Used by server-identity reconciliation, which runs
// after the optimistic swap.
func (e *Engine) rewrite(fn func(projects []model.Project) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := model.CloneProjects(e.projects)
	if fn(list) {
		e.projects = normalizeProjects(list)
		e.mutSeq++
	}
}

// adoptProjectID replaces an optimistic project identity with the
// server-assigned one, mapping stage identities by position. The
// replacement is also recorded so pending ops that captured the
// optimistic identity can resolve the server one at send time, even
// when the local entity is gone by then.
func (e *Engine) adoptProjectID(optimisticID string, created model.Project) {
	e.rewrite(func(projects []model.Project) bool {
		e.remap[optimisticID] = created.ID
		i := findProject(projects, optimisticID)
		if i < 0 {
			return false
		}
		projects[i].ID = created.ID
		for si := range projects[i].Stages {
			if si < len(created.Stages) {
				e.remap[projects[i].Stages[si].ID] = created.Stages[si].ID
				projects[i].Stages[si].ID = created.Stages[si].ID
			}
		}
		return true
	})
}

func (e *Engine) adoptStageID(projectID, optimisticID string, created model.Stage) {
	e.rewrite(func(projects []model.Project) bool {
		e.remap[optimisticID] = created.ID
		i := findProject(projects, e.remapLocked(projectID))
		if i < 0 {
			return false
		}
		si := findStage(&projects[i], optimisticID)
		if si < 0 {
			return false
		}
		projects[i].Stages[si].ID = created.ID
		return true
	})
}

func (e *Engine) adoptTaskID(projectID, optimisticID string, created model.Task) {
	e.rewrite(func(projects []model.Project) bool {
		e.remap[optimisticID] = created.ID
		e.adoptTaskDedupKeys(optimisticID, created.ID)
		i := findProject(projects, e.remapLocked(projectID))
		if i < 0 {
			return false
		}
		si, ti := findTask(&projects[i], optimisticID)
		if si < 0 {
			return false
		}
		projects[i].Stages[si].Tasks[ti].ID = created.ID
		return true
	})
}

func (e *Engine) adoptSubtaskID(projectID, taskID, optimisticID string, created model.Subtask) {
	e.rewrite(func(projects []model.Project) bool {
		e.remap[optimisticID] = created.ID
		e.adoptSubtaskDedupKey(taskID, optimisticID, created.ID)
		i := findProject(projects, e.remapLocked(projectID))
		if i < 0 {
			return false
		}
		si, ti := findTask(&projects[i], e.remapLocked(taskID))
		if si < 0 {
			return false
		}
		t := &projects[i].Stages[si].Tasks[ti]
		sti := findSubtask(t, optimisticID)
		if sti < 0 {
			return false
		}
		t.Subtasks[sti].ID = created.ID
		return true
	})
}

func (e *Engine) adoptCommentID(projectID, taskID, optimisticID string, created model.Comment) {
	e.rewrite(func(projects []model.Project) bool {
		e.remap[optimisticID] = created.ID
		i := findProject(projects, e.remapLocked(projectID))
		if i < 0 {
			return false
		}
		si, ti := findTask(&projects[i], e.remapLocked(taskID))
		if si < 0 {
			return false
		}
		t := &projects[i].Stages[si].Tasks[ti]
		for ci := range t.Comments {
			if t.Comments[ci].ID == optimisticID {
				t.Comments[ci].ID = created.ID
				return true
			}
		}
		return false
	})
}

// commit finishes a tree mutation after the optimistic swap: demo mode
// persists the whole list synchronously, remote mode journals the
// background call. Every tree change also re-runs the overdue scan.
func (e *Engine) commit(ctx context.Context, name string, prior []model.Project, call func(ctx context.Context) error) {
	if e.demoMode() {
		e.persistLocalProjects(ctx, e.Projects())
	} else if call != nil {
		e.asyncRemote(name, prior, call)
	}
	e.ScanOverdue(ctx)
}
