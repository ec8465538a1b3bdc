package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/research-tracker/internal/model"
)

// Reminder visibility scopes. ScopeAll fans a notification out to the
// project's collaborators; ScopeOnlyMe keeps the reminder private.
const (
	ScopeAll    = "all"
	ScopeOnlyMe = "only_me"
)

// CreateTask adds a task to a stage, stamped with the acting user's
// identity. Collaborators of a shared project are notified best-effort.
func (e *Engine) CreateTask(ctx context.Context, projectID, stageID, title, description string, reminder *time.Time) (model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Task{}, fmt.Errorf("task title must not be empty")
	}

	now := e.now()
	t := model.Task{
		ID:             e.newID(),
		Title:          title,
		Description:    description,
		ReminderDate:   reminder,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      e.user.ID,
		CreatedByName:  e.user.Name,
		ModifiedBy:     e.user.ID,
		ModifiedByName: e.user.Name,
	}

	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return model.Task{}, fmt.Errorf("project %s not found", projectID)
	}
	si := findStage(&list[i], stageID)
	if si < 0 {
		e.mu.Unlock()
		return model.Task{}, fmt.Errorf("stage %s not found", stageID)
	}
	list[i].Stages[si].Tasks = append(list[i].Stages[si].Tasks, t)
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	optimisticID := t.ID
	e.commit(ctx, "create task", prior, func(ctx context.Context) error {
		created, err := e.gw.CreateTask(ctx, e.remoteID(stageID), t)
		if err != nil {
			return err
		}
		e.adoptTaskID(projectID, optimisticID, created)
		return nil
	})

	e.fanOut(projectID, model.Notification{
		ID:        e.newID(),
		Type:      model.NotificationTaskCreated,
		Title:     "New task",
		Message:   fmt.Sprintf("%s added %q", e.user.Name, title),
		ProjectID: projectID,
		TaskID:    t.ID,
		CreatedAt: now,
	})
	return t, nil
}

// UpdateTask changes a task's title and description.
func (e *Engine) UpdateTask(ctx context.Context, projectID, taskID, title, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("task title must not be empty")
	}

	var updated model.Task
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		t.Title = title
		t.Description = description
		updated = *t
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "update task", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateTask(ctx, updated)
	})
	return nil
}

// SetTaskCompleted flips a task's completion state. Completing cascades
// onto every subtask in the same change; un-completing leaves subtasks
// alone. Remote mode issues one update per previously-incomplete
// subtask in addition to the task's own.
func (e *Engine) SetTaskCompleted(ctx context.Context, projectID, taskID string, completed bool) error {
	var (
		updated  model.Task
		cascaded []model.Subtask
	)
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		t.IsCompleted = completed
		if completed {
			for i := range t.Subtasks {
				if !t.Subtasks[i].IsCompleted {
					t.Subtasks[i].IsCompleted = true
					t.Subtasks[i].ModifiedBy = e.user.ID
					t.Subtasks[i].ModifiedByName = e.user.Name
					cascaded = append(cascaded, t.Subtasks[i])
				}
			}
		}
		updated = *t
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "set task completed", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		if err := e.gw.UpdateTask(ctx, updated); err != nil {
			return err
		}
		for _, st := range cascaded {
			st.ID = e.remoteID(st.ID)
			if err := e.gw.UpdateSubtask(ctx, e.remoteID(taskID), st); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// SetTaskReminder sets or clears a task's reminder. Scope ScopeAll on a
// shared project notifies collaborators best-effort.
func (e *Engine) SetTaskReminder(ctx context.Context, projectID, taskID string, reminder *time.Time, scope string) error {
	var updated model.Task
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		t.ReminderDate = reminder
		updated = *t
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "set task reminder", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateTask(ctx, updated)
	})

	if reminder != nil && scope == ScopeAll {
		e.fanOut(projectID, model.Notification{
			ID:           e.newID(),
			Type:         model.NotificationTaskReminderSet,
			Title:        "Reminder set",
			Message:      fmt.Sprintf("%s set a reminder on %q", e.user.Name, updated.Title),
			ProjectID:    projectID,
			TaskID:       taskID,
			CreatedAt:    e.now(),
			ReminderDate: reminder,
		})
	}
	return nil
}

// DeleteTask removes a task; its subtasks and comments go with it by
// tree removal, and cascade server-side on the single remote delete.
func (e *Engine) DeleteTask(ctx context.Context, projectID, taskID string) error {
	var removed model.Task
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	si, ti := findTask(&list[i], taskID)
	if si < 0 {
		e.mu.Unlock()
		return fmt.Errorf("task %s not found", taskID)
	}
	removed = list[i].Stages[si].Tasks[ti]
	tasks := list[i].Stages[si].Tasks
	list[i].Stages[si].Tasks = append(tasks[:ti], tasks[ti+1:]...)
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "delete task", prior, func(ctx context.Context) error {
		return e.gw.DeleteTask(ctx, e.remoteID(taskID))
	})

	e.fanOut(projectID, model.Notification{
		ID:        e.newID(),
		Type:      model.NotificationTaskDeleted,
		Title:     "Task deleted",
		Message:   fmt.Sprintf("%s deleted %q", e.user.Name, removed.Title),
		ProjectID: projectID,
		CreatedAt: e.now(),
	})
	return nil
}

// DuplicateTask deep-copies a task within its stage: fresh identities,
// emptied comments, " (Copy)" title suffix. Remote mode creates the
// task first, then its subtasks, then refetches once.
func (e *Engine) DuplicateTask(ctx context.Context, projectID, stageID, taskID string) (model.Task, error) {
	now := e.now()
	var dup model.Task

	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return model.Task{}, fmt.Errorf("project %s not found", projectID)
	}
	si := findStage(&list[i], stageID)
	if si < 0 {
		e.mu.Unlock()
		return model.Task{}, fmt.Errorf("stage %s not found", stageID)
	}
	ti := -1
	for idx := range list[i].Stages[si].Tasks {
		if list[i].Stages[si].Tasks[idx].ID == taskID {
			ti = idx
			break
		}
	}
	if ti < 0 {
		e.mu.Unlock()
		return model.Task{}, fmt.Errorf("task %s not found", taskID)
	}

	dup = list[i].Stages[si].Tasks[ti].Clone()
	dup.ID = e.newID()
	dup.Title = dup.Title + " (Copy)"
	dup.Comments = nil
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.CreatedBy = e.user.ID
	dup.CreatedByName = e.user.Name
	dup.ModifiedBy = e.user.ID
	dup.ModifiedByName = e.user.Name
	for sti := range dup.Subtasks {
		dup.Subtasks[sti].ID = e.newID()
	}
	list[i].Stages[si].Tasks = append(list[i].Stages[si].Tasks, dup)
	e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalProjects(ctx, e.Projects())
		e.ScanOverdue(ctx)
		return dup, nil
	}

	pending := dup
	e.background("duplicate task", func(ctx context.Context) error {
		subtasks := pending.Subtasks
		pending.Subtasks = nil
		created, err := e.gw.CreateTask(ctx, e.remoteID(stageID), pending)
		if err != nil {
			return fmt.Errorf("creating task copy: %w", err)
		}
		for _, st := range subtasks {
			if _, err := e.gw.CreateSubtask(ctx, created.ID, st); err != nil {
				return fmt.Errorf("creating subtask copy: %w", err)
			}
		}
		e.OnRemoteChange(ctx)
		return nil
	})
	e.ScanOverdue(ctx)
	return dup, nil
}

// CreateSubtask adds a subtask under a task, stamped with the acting
// user's identity.
func (e *Engine) CreateSubtask(ctx context.Context, projectID, taskID, title string) (model.Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Subtask{}, fmt.Errorf("subtask title must not be empty")
	}

	st := model.Subtask{
		ID:             e.newID(),
		Title:          title,
		CreatedBy:      e.user.ID,
		CreatedByName:  e.user.Name,
		ModifiedBy:     e.user.ID,
		ModifiedByName: e.user.Name,
	}
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		t.Subtasks = append(t.Subtasks, st)
	})
	if err != nil {
		return model.Subtask{}, err
	}

	optimisticID := st.ID
	e.commit(ctx, "create subtask", prior, func(ctx context.Context) error {
		created, err := e.gw.CreateSubtask(ctx, e.remoteID(taskID), st)
		if err != nil {
			return err
		}
		e.adoptSubtaskID(projectID, taskID, optimisticID, created)
		return nil
	})

	e.fanOut(projectID, model.Notification{
		ID:        e.newID(),
		Type:      model.NotificationSubtaskCreated,
		Title:     "New subtask",
		Message:   fmt.Sprintf("%s added %q", e.user.Name, title),
		ProjectID: projectID,
		TaskID:    taskID,
		SubtaskID: st.ID,
		CreatedAt: e.now(),
	})
	return st, nil
}

// RenameSubtask changes a subtask's title.
func (e *Engine) RenameSubtask(ctx context.Context, projectID, taskID, subtaskID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("subtask title must not be empty")
	}

	var updated model.Subtask
	prior, err := e.mutateSubtask(projectID, taskID, subtaskID, func(st *model.Subtask) {
		st.Title = title
		updated = *st
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "update subtask", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateSubtask(ctx, e.remoteID(taskID), updated)
	})
	return nil
}

// SetSubtaskCompleted flips one subtask's completion state. It never
// cascades upward to the task.
func (e *Engine) SetSubtaskCompleted(ctx context.Context, projectID, taskID, subtaskID string, completed bool) error {
	var updated model.Subtask
	prior, err := e.mutateSubtask(projectID, taskID, subtaskID, func(st *model.Subtask) {
		st.IsCompleted = completed
		updated = *st
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "set subtask completed", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateSubtask(ctx, e.remoteID(taskID), updated)
	})
	return nil
}

// SetSubtaskReminder sets or clears a subtask's reminder, with the same
// scope semantics as SetTaskReminder.
func (e *Engine) SetSubtaskReminder(ctx context.Context, projectID, taskID, subtaskID string, reminder *time.Time, scope string) error {
	var updated model.Subtask
	prior, err := e.mutateSubtask(projectID, taskID, subtaskID, func(st *model.Subtask) {
		st.ReminderDate = reminder
		updated = *st
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "set subtask reminder", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateSubtask(ctx, e.remoteID(taskID), updated)
	})

	if reminder != nil && scope == ScopeAll {
		e.fanOut(projectID, model.Notification{
			ID:           e.newID(),
			Type:         model.NotificationSubtaskReminderSet,
			Title:        "Reminder set",
			Message:      fmt.Sprintf("%s set a reminder on %q", e.user.Name, updated.Title),
			ProjectID:    projectID,
			TaskID:       taskID,
			SubtaskID:    subtaskID,
			CreatedAt:    e.now(),
			ReminderDate: reminder,
		})
	}
	return nil
}

// DeleteSubtask removes one subtask.
func (e *Engine) DeleteSubtask(ctx context.Context, projectID, taskID, subtaskID string) error {
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		if i := findSubtask(t, subtaskID); i >= 0 {
			t.Subtasks = append(t.Subtasks[:i], t.Subtasks[i+1:]...)
		}
	})
	if err != nil {
		return err
	}

	e.commit(ctx, "delete subtask", prior, func(ctx context.Context) error {
		return e.gw.DeleteSubtask(ctx, e.remoteID(subtaskID))
	})
	return nil
}

// AddComment appends a comment to a task, authored by the acting user.
func (e *Engine) AddComment(ctx context.Context, projectID, taskID, content string) (model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Comment{}, fmt.Errorf("comment must not be empty")
	}

	c := model.Comment{
		ID:         e.newID(),
		Content:    content,
		AuthorName: e.user.Name,
		CreatedAt:  e.now(),
	}
	prior, err := e.mutateTask(projectID, taskID, func(t *model.Task) {
		t.Comments = append(t.Comments, c)
	})
	if err != nil {
		return model.Comment{}, err
	}

	optimisticID := c.ID
	e.commit(ctx, "create comment", prior, func(ctx context.Context) error {
		created, err := e.gw.CreateComment(ctx, e.remoteID(taskID), c)
		if err != nil {
			return err
		}
		e.adoptCommentID(projectID, taskID, optimisticID, created)
		return nil
	})
	return c, nil
}

// mutateTask clones the tree, applies fn to the addressed task with the
// audit fields refreshed, and swaps the result in. Returns the prior
// snapshot for the journal.
func (e *Engine) mutateTask(projectID, taskID string, fn func(t *model.Task)) ([]model.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	si, ti := findTask(&list[i], taskID)
	if si < 0 {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	t := &list[i].Stages[si].Tasks[ti]
	fn(t)
	t.UpdatedAt = e.now()
	t.ModifiedBy = e.user.ID
	t.ModifiedByName = e.user.Name

	return e.swapLocked(normalizeProjects(list)), nil
}

// mutateSubtask is mutateTask scoped one level down.
func (e *Engine) mutateSubtask(projectID, taskID, subtaskID string, fn func(st *model.Subtask)) ([]model.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	si, ti := findTask(&list[i], taskID)
	if si < 0 {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	t := &list[i].Stages[si].Tasks[ti]
	sti := findSubtask(t, subtaskID)
	if sti < 0 {
		return nil, fmt.Errorf("subtask %s not found", subtaskID)
	}

	st := &t.Subtasks[sti]
	fn(st)
	st.ModifiedBy = e.user.ID
	st.ModifiedByName = e.user.Name
	t.UpdatedAt = e.now()

	return e.swapLocked(normalizeProjects(list)), nil
}
