package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/research-tracker/internal/model"
)

// CreateProject adds a project owned by the acting user, with one stage
// per name in order. The optimistic identity is replaced by the
// server-assigned one once the remote create lands.
func (e *Engine) CreateProject(ctx context.Context, title, emoji string, stageNames []string) (model.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Project{}, fmt.Errorf("project title must not be empty")
	}

	now := e.now()
	p := model.Project{
		ID:             e.newID(),
		Title:          title,
		Emoji:          emoji,
		OwnerID:        e.user.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ModifiedBy:     e.user.ID,
		ModifiedByName: e.user.Name,
		Stages:         make([]model.Stage, 0, len(stageNames)),
	}
	for i, name := range stageNames {
		p.Stages = append(p.Stages, model.Stage{
			ID:         e.newID(),
			Name:       name,
			OrderIndex: i,
		})
	}

	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	p.PriorityRank = len(list) + 1
	list = append(list, p)
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	optimisticID := p.ID
	e.commit(ctx, "create project", prior, func(ctx context.Context) error {
		// Stages are created only after the project's server identity is
		// known, then adopted one by one.
		shell := p
		shell.Stages = nil
		created, err := e.gw.CreateProject(ctx, shell)
		if err != nil {
			return err
		}
		e.adoptProjectID(optimisticID, created)
		for _, s := range p.Stages {
			createdStage, err := e.gw.CreateStage(ctx, created.ID, s)
			if err != nil {
				return err
			}
			e.adoptStageID(created.ID, s.ID, createdStage)
		}
		return nil
	})
	return p, nil
}

// UpdateProject renames a project and/or changes its emoji.
func (e *Engine) UpdateProject(ctx context.Context, projectID, title, emoji string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("project title must not be empty")
	}

	var updated model.Project
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	list[i].Title = title
	list[i].Emoji = emoji
	e.stampProject(&list[i])
	updated = list[i]
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "update project", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateProject(ctx, updated)
	})
	return nil
}

// SetCurrentStage moves the project's current-stage pointer.
func (e *Engine) SetCurrentStage(ctx context.Context, projectID string, stageIndex int) error {
	var updated model.Project
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	if stageIndex < 0 || stageIndex >= len(list[i].Stages) {
		e.mu.Unlock()
		return fmt.Errorf("stage index %d out of range", stageIndex)
	}
	list[i].CurrentStageIndex = stageIndex
	e.stampProject(&list[i])
	updated = list[i]
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "set current stage", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateProject(ctx, updated)
	})
	return nil
}

// DeleteProject removes a project and everything under it.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	list = append(list[:i], list[i+1:]...)
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "delete project", prior, func(ctx context.Context) error {
		return e.gw.DeleteProject(ctx, e.remoteID(projectID))
	})
	return nil
}

// ReorderProjects installs a new project order: each project's priority
// rank becomes its position plus one. Remote mode issues one update per
// project, in order.
func (e *Engine) ReorderProjects(ctx context.Context, orderedIDs []string) error {
	var reordered []model.Project
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	if len(orderedIDs) != len(list) {
		e.mu.Unlock()
		return fmt.Errorf("reorder wants %d projects, have %d", len(orderedIDs), len(list))
	}
	byID := make(map[string]model.Project, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	next := make([]model.Project, 0, len(orderedIDs))
	for pos, id := range orderedIDs {
		p, ok := byID[id]
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("project %s not found", id)
		}
		p.PriorityRank = pos + 1
		next = append(next, p)
	}
	reordered = next
	prior := e.swapLocked(normalizeProjects(next))
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalProjects(ctx, e.Projects())
		return nil
	}
	for _, p := range reordered {
		p := p
		e.asyncRemote("reorder project", prior, func(ctx context.Context) error {
			p.ID = e.remoteID(p.ID)
			return e.gw.UpdateProject(ctx, p)
		})
	}
	return nil
}

// AddStage appends a stage to the end of a project's workflow.
func (e *Engine) AddStage(ctx context.Context, projectID, name string) (model.Stage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Stage{}, fmt.Errorf("stage name must not be empty")
	}

	stage := model.Stage{ID: e.newID(), Name: name}
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return model.Stage{}, fmt.Errorf("project %s not found", projectID)
	}
	stage.OrderIndex = len(list[i].Stages)
	list[i].Stages = append(list[i].Stages, stage)
	e.stampProject(&list[i])
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	optimisticID := stage.ID
	e.commit(ctx, "create stage", prior, func(ctx context.Context) error {
		created, err := e.gw.CreateStage(ctx, e.remoteID(projectID), stage)
		if err != nil {
			return err
		}
		e.adoptStageID(projectID, optimisticID, created)
		return nil
	})
	return stage, nil
}

// RenameStage changes a stage's display name.
func (e *Engine) RenameStage(ctx context.Context, projectID, stageID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("stage name must not be empty")
	}

	var updated model.Stage
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	si := findStage(&list[i], stageID)
	if si < 0 {
		e.mu.Unlock()
		return fmt.Errorf("stage %s not found", stageID)
	}
	list[i].Stages[si].Name = name
	e.stampProject(&list[i])
	updated = list[i].Stages[si]
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "update stage", prior, func(ctx context.Context) error {
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateStage(ctx, e.remoteID(projectID), updated)
	})
	return nil
}

// RemoveStage deletes a stage and its tasks. When the current stage is
// removed the pointer falls back to 0; otherwise it follows the stage
// it already pointed at.
func (e *Engine) RemoveStage(ctx context.Context, projectID, stageID string) error {
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p := &list[i]
	si := findStage(p, stageID)
	if si < 0 {
		e.mu.Unlock()
		return fmt.Errorf("stage %s not found", stageID)
	}

	currentID := ""
	if p.CurrentStageIndex >= 0 && p.CurrentStageIndex < len(p.Stages) {
		currentID = p.Stages[p.CurrentStageIndex].ID
	}

	p.Stages = append(p.Stages[:si], p.Stages[si+1:]...)
	for oi := range p.Stages {
		p.Stages[oi].OrderIndex = oi
	}
	p.CurrentStageIndex = 0
	if idx := p.StageByID(currentID); idx >= 0 {
		p.CurrentStageIndex = idx
	}
	e.stampProject(p)
	updated := *p
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "delete stage", prior, func(ctx context.Context) error {
		if err := e.gw.DeleteStage(ctx, e.remoteID(stageID)); err != nil {
			return err
		}
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateProject(ctx, updated)
	})
	return nil
}

// ReorderStages installs a new stage order within a project, rewriting
// every order index and re-identifying the current stage by identity,
// never by position.
func (e *Engine) ReorderStages(ctx context.Context, projectID string, orderedStageIDs []string) error {
	var updated model.Project
	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p := &list[i]
	if len(orderedStageIDs) != len(p.Stages) {
		e.mu.Unlock()
		return fmt.Errorf("reorder wants %d stages, have %d", len(orderedStageIDs), len(p.Stages))
	}

	currentID := ""
	if p.CurrentStageIndex >= 0 && p.CurrentStageIndex < len(p.Stages) {
		currentID = p.Stages[p.CurrentStageIndex].ID
	}

	byID := make(map[string]model.Stage, len(p.Stages))
	for _, s := range p.Stages {
		byID[s.ID] = s
	}
	next := make([]model.Stage, 0, len(orderedStageIDs))
	for pos, id := range orderedStageIDs {
		s, ok := byID[id]
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("stage %s not found", id)
		}
		s.OrderIndex = pos
		next = append(next, s)
	}
	p.Stages = next
	p.CurrentStageIndex = 0
	if idx := p.StageByID(currentID); idx >= 0 {
		p.CurrentStageIndex = idx
	}
	e.stampProject(p)
	updated = *p
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.commit(ctx, "reorder stages", prior, func(ctx context.Context) error {
		for _, s := range updated.Stages {
			s.ID = e.remoteID(s.ID)
			if err := e.gw.UpdateStage(ctx, e.remoteID(projectID), s); err != nil {
				return err
			}
		}
		updated.ID = e.remoteID(updated.ID)
		return e.gw.UpdateProject(ctx, updated)
	})
	return nil
}

// DuplicateProject deep-copies one project with fresh identities at
// every level, an emptied comment list, and a " (Copy)" title suffix.
func (e *Engine) DuplicateProject(ctx context.Context, projectID string) (model.Project, error) {
	copies, err := e.duplicateProjects(ctx, []string{projectID}, true)
	if err != nil {
		return model.Project{}, err
	}
	return copies[0], nil
}

// DuplicateProjects deep-copies several projects at once. Bulk copies
// keep their original titles.
func (e *Engine) DuplicateProjects(ctx context.Context, projectIDs []string) ([]model.Project, error) {
	return e.duplicateProjects(ctx, projectIDs, false)
}

func (e *Engine) duplicateProjects(ctx context.Context, projectIDs []string, suffix bool) ([]model.Project, error) {
	now := e.now()

	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	copies := make([]model.Project, 0, len(projectIDs))
	for _, id := range projectIDs {
		i := findProject(list, id)
		if i < 0 {
			e.mu.Unlock()
			return nil, fmt.Errorf("project %s not found", id)
		}
		dup := e.copyProject(list[i], now, suffix)
		dup.PriorityRank = len(list) + len(copies) + 1
		copies = append(copies, dup)
	}
	list = append(list, copies...)
	e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	if e.demoMode() {
		e.persistLocalProjects(ctx, e.Projects())
		e.ScanOverdue(ctx)
		return copies, nil
	}

	// Children are created only after their parent's remote identity is
	// known: project, then stages, then tasks, then subtasks. One full
	// refetch at the end replaces incremental reconciliation.
	for _, dup := range copies {
		dup := dup
		e.background("duplicate project", func(ctx context.Context) error {
			if err := e.createProjectTree(ctx, dup); err != nil {
				return err
			}
			e.OnRemoteChange(ctx)
			return nil
		})
	}
	e.ScanOverdue(ctx)
	return copies, nil
}

// createProjectTree persists a project and its whole subtree top-down.
func (e *Engine) createProjectTree(ctx context.Context, p model.Project) error {
	stages := p.Stages
	p.Stages = nil
	created, err := e.gw.CreateProject(ctx, p)
	if err != nil {
		return fmt.Errorf("creating project copy: %w", err)
	}
	for _, s := range stages {
		tasks := s.Tasks
		s.Tasks = nil
		createdStage, err := e.gw.CreateStage(ctx, created.ID, s)
		if err != nil {
			return fmt.Errorf("creating stage copy: %w", err)
		}
		for _, t := range tasks {
			subtasks := t.Subtasks
			t.Subtasks = nil
			createdTask, err := e.gw.CreateTask(ctx, createdStage.ID, t)
			if err != nil {
				return fmt.Errorf("creating task copy: %w", err)
			}
			for _, st := range subtasks {
				if _, err := e.gw.CreateSubtask(ctx, createdTask.ID, st); err != nil {
					return fmt.Errorf("creating subtask copy: %w", err)
				}
			}
		}
	}
	return nil
}

// copyProject deep-copies a project with fresh identities and emptied
// comments.
func (e *Engine) copyProject(src model.Project, now time.Time, suffix bool) model.Project {
	dup := src.Clone()
	dup.ID = e.newID()
	if suffix {
		dup.Title = src.Title + " (Copy)"
	}
	dup.OwnerID = e.user.ID
	dup.Members = nil
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.ModifiedBy = e.user.ID
	dup.ModifiedByName = e.user.Name
	for si := range dup.Stages {
		dup.Stages[si].ID = e.newID()
		for ti := range dup.Stages[si].Tasks {
			t := &dup.Stages[si].Tasks[ti]
			t.ID = e.newID()
			t.Comments = nil
			for sti := range t.Subtasks {
				t.Subtasks[sti].ID = e.newID()
			}
		}
	}
	return dup
}

// stampProject refreshes the audit fields as part of the same change.
func (e *Engine) stampProject(p *model.Project) {
	p.UpdatedAt = e.now()
	p.ModifiedBy = e.user.ID
	p.ModifiedByName = e.user.Name
}
