package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/model"
)

const todayDateFormat = "2006-01-02"

// todayDateNow returns the current calendar date key.
func (e *Engine) todayDateNow() string {
	return e.now().UTC().Format(todayDateFormat)
}

// LoadToday loads the daily checklist for the current calendar date,
// remote-first. The local cache and the remote list are merged with
// duplicates dropped by identity, provenance, or exact title; the merge
// is pushed back to remote only when it changed the remote list, and
// always mirrored into the local cache. A failed remote fetch falls
// back to the cache.
func (e *Engine) LoadToday(ctx context.Context) error {
	date := e.todayDateNow()

	local, err := e.local.LoadToday(ctx, e.user.ID, date)
	if err != nil {
		return fmt.Errorf("loading today cache: %w", err)
	}

	// Forward-migrate the pre-namespacing cache slot when the namespaced
	// one has never been written.
	if hasNamespaced, err := e.local.HasToday(ctx, e.user.ID, date); err == nil && !hasNamespaced {
		if legacy, ok, err := e.local.LoadLegacyToday(ctx, date); err == nil && ok {
			local = legacy
			if err := e.local.SaveToday(ctx, e.user.ID, date, legacy); err == nil {
				if err := e.local.DeleteLegacyToday(ctx, date); err != nil {
					e.logger.Warn("removing legacy today slot", zap.Error(err))
				}
			}
		}
	}

	if e.demoMode() {
		e.installToday(date, local)
		return nil
	}

	remoteItems, err := e.gw.GetTodayItems(ctx, e.user.ID, date)
	if err != nil {
		// Work off the cache, but never write it back remotely here: the
		// remote list was not seen, and a blind save would overwrite
		// entries added from another device. The next successful load
		// merges and pushes.
		e.logger.Warn("fetching today items, using cache", zap.Error(err))
		e.installToday(date, local)
		return nil
	}

	merged, changed := mergeToday(remoteItems, local)
	e.installToday(date, merged)

	if changed {
		e.pushToday(date, merged)
	}
	if err := e.local.SaveToday(ctx, e.user.ID, date, merged); err != nil {
		e.logger.Warn("mirroring today items", zap.Error(err))
	}
	return nil
}

// mergeToday folds local cache entries into the remote list. A local
// item is a duplicate when any remote item matches it by identity, by
// source provenance (including legacy direct references), or by exact
// title; everything else appends. The second result reports whether the
// merge changed the remote list.
func mergeToday(remoteItems, local []model.TodayItem) ([]model.TodayItem, bool) {
	merged := make([]model.TodayItem, len(remoteItems))
	copy(merged, remoteItems)

	changed := false
	for _, item := range local {
		dup := false
		for _, existing := range remoteItems {
			if existing.ID == item.ID || existing.SameSource(item) || existing.Title == item.Title {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, item)
			changed = true
		}
	}
	return merged, changed
}

func (e *Engine) installToday(date string, items []model.TodayItem) {
	e.mu.Lock()
	e.today = items
	e.todayDate = date
	e.mu.Unlock()
}

// pushToday writes the checklist to the remote store in the background.
func (e *Engine) pushToday(date string, items []model.TodayItem) {
	e.background("save today items", func(ctx context.Context) error {
		return e.gw.SaveTodayItems(ctx, e.user.ID, date, items)
	})
}

// persistToday mirrors the current checklist into the local cache and,
// in remote mode, pushes it to the remote store.
func (e *Engine) persistToday(ctx context.Context) {
	e.mu.Lock()
	date := e.todayDate
	items := e.today
	e.mu.Unlock()
	if date == "" {
		date = e.todayDateNow()
	}

	if err := e.local.SaveToday(ctx, e.user.ID, date, items); err != nil {
		e.logger.Warn("saving today cache", zap.Error(err))
	}
	if !e.demoMode() {
		e.pushToday(date, items)
	}
}

// AddTodayItem appends a free-typed checklist entry.
func (e *Engine) AddTodayItem(ctx context.Context, title string) (model.TodayItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.TodayItem{}, fmt.Errorf("checklist entry must not be empty")
	}

	item := model.TodayItem{
		ID:        e.newID(),
		Title:     title,
		IsLocal:   true,
		CreatedAt: e.now(),
	}
	e.mu.Lock()
	e.today = append(append([]model.TodayItem{}, e.today...), item)
	e.mu.Unlock()

	e.persistToday(ctx)
	return item, nil
}

// AddTaskToToday copies a task onto the checklist: new identity, title
// captured at add-time, provenance pointer back to the task. Adding the
// same task twice is rejected with a notice, not an error.
func (e *Engine) AddTaskToToday(ctx context.Context, projectID, taskID string) (model.TodayItem, error) {
	e.mu.Lock()
	i := findProject(e.projects, projectID)
	if i < 0 {
		e.mu.Unlock()
		return model.TodayItem{}, fmt.Errorf("project %s not found", projectID)
	}
	p := e.projects[i]
	si, ti := findTask(&p, taskID)
	if si < 0 {
		e.mu.Unlock()
		return model.TodayItem{}, fmt.Errorf("task %s not found", taskID)
	}
	task := p.Stages[si].Tasks[ti]

	for _, existing := range e.today {
		if existing.SourceTask() == taskID && existing.SourceSubtask() == "" {
			e.mu.Unlock()
			e.notify(NoticeInfo, "%q is already on today's list", task.Title)
			return model.TodayItem{}, nil
		}
	}

	item := model.TodayItem{
		ID:           e.newID(),
		Title:        task.Title,
		ProjectID:    projectID,
		SourceTaskID: taskID,
		CreatedAt:    e.now(),
	}
	e.today = append(append([]model.TodayItem{}, e.today...), item)
	e.mu.Unlock()

	e.persistToday(ctx)
	return item, nil
}

// AddSubtaskToToday copies a subtask onto the checklist, with the same
// duplicate handling as AddTaskToToday.
func (e *Engine) AddSubtaskToToday(ctx context.Context, projectID, taskID, subtaskID string) (model.TodayItem, error) {
	e.mu.Lock()
	i := findProject(e.projects, projectID)
	if i < 0 {
		e.mu.Unlock()
		return model.TodayItem{}, fmt.Errorf("project %s not found", projectID)
	}
	p := e.projects[i]
	si, ti := findTask(&p, taskID)
	if si < 0 {
		e.mu.Unlock()
		return model.TodayItem{}, fmt.Errorf("task %s not found", taskID)
	}
	task := p.Stages[si].Tasks[ti]
	sti := findSubtask(&task, subtaskID)
	if sti < 0 {
		e.mu.Unlock()
		return model.TodayItem{}, fmt.Errorf("subtask %s not found", subtaskID)
	}
	subtask := task.Subtasks[sti]

	for _, existing := range e.today {
		if existing.SourceSubtask() == subtaskID {
			e.mu.Unlock()
			e.notify(NoticeInfo, "%q is already on today's list", subtask.Title)
			return model.TodayItem{}, nil
		}
	}

	item := model.TodayItem{
		ID:              e.newID(),
		Title:           subtask.Title,
		ProjectID:       projectID,
		SourceTaskID:    taskID,
		SourceSubtaskID: subtaskID,
		CreatedAt:       e.now(),
	}
	e.today = append(append([]model.TodayItem{}, e.today...), item)
	e.mu.Unlock()

	e.persistToday(ctx)
	return item, nil
}

// ToggleTodayItem flips a checklist entry's done state. An entry with
// provenance additionally propagates completion to the underlying task
// or subtask, best-effort: the entry's own flag flips regardless, and a
// propagation failure surfaces a notice without reverting the toggle.
func (e *Engine) ToggleTodayItem(ctx context.Context, itemID string) error {
	var toggled model.TodayItem
	e.mu.Lock()
	next := make([]model.TodayItem, len(e.today))
	copy(next, e.today)
	found := false
	for i := range next {
		if next[i].ID == itemID {
			next[i].IsDone = !next[i].IsDone
			toggled = next[i]
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("checklist entry %s not found", itemID)
	}
	e.today = next
	e.mu.Unlock()

	e.persistToday(ctx)

	if toggled.IsLocal {
		return nil
	}
	if err := e.propagateToday(ctx, toggled); err != nil {
		e.notify(NoticeError, "Couldn't update the linked task: %v", err)
	}
	return nil
}

// propagateToday pushes a toggled entry's done state onto its source
// task or subtask, located anywhere in the tree.
func (e *Engine) propagateToday(ctx context.Context, item model.TodayItem) error {
	if subID := item.SourceSubtask(); subID != "" {
		projectID, taskID, ok := e.locateSubtask(subID)
		if !ok {
			return nil // source deleted; the entry survives on its own
		}
		return e.SetSubtaskCompleted(ctx, projectID, taskID, subID, item.IsDone)
	}
	if taskID := item.SourceTask(); taskID != "" {
		projectID, ok := e.locateTask(taskID)
		if !ok {
			return nil
		}
		return e.SetTaskCompleted(ctx, projectID, taskID, item.IsDone)
	}
	return nil
}

// RemoveTodayItem deletes one checklist entry.
func (e *Engine) RemoveTodayItem(ctx context.Context, itemID string) error {
	e.mu.Lock()
	next := make([]model.TodayItem, 0, len(e.today))
	found := false
	for _, item := range e.today {
		if item.ID == itemID {
			found = true
			continue
		}
		next = append(next, item)
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("checklist entry %s not found", itemID)
	}
	e.today = next
	e.mu.Unlock()

	e.persistToday(ctx)
	return nil
}

// locateTask finds the project holding a task, anywhere in the tree.
func (e *Engine) locateTask(taskID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.projects {
		if si, _ := findTask(&p, taskID); si >= 0 {
			return p.ID, true
		}
	}
	return "", false
}

// locateSubtask finds the project and task holding a subtask.
func (e *Engine) locateSubtask(subtaskID string) (string, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.projects {
		for _, s := range p.Stages {
			for _, t := range s.Tasks {
				t := t
				if findSubtask(&t, subtaskID) >= 0 {
					return p.ID, t.ID, true
				}
			}
		}
	}
	return "", "", false
}
