package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/model"
)

// GetProjects loads the full project tree for a user: owned projects plus
// projects where the user appears as a member, with stages, tasks,
// subtasks, and comments attached.
func (g *PostgresGateway) GetProjects(ctx context.Context, userID string) ([]model.Project, error) {
	rows, err := g.db.Query(ctx, `
		SELECT id, title, emoji, priority_rank, current_stage_index,
		       owner_id, created_at, updated_at, modified_by, modified_by_name
		FROM projects p
		WHERE p.owner_id = $1
		   OR EXISTS (
		       SELECT 1 FROM project_members m
		       WHERE m.project_id = p.id AND m.user_id = $1
		   )
		ORDER BY priority_rank, title`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	var projectIDs []string
	for rows.Next() {
		var p model.Project
		err := rows.Scan(
			&p.ID, &p.Title, &p.Emoji, &p.PriorityRank, &p.CurrentStageIndex,
			&p.OwnerID, &p.CreatedAt, &p.UpdatedAt, &p.ModifiedBy, &p.ModifiedByName,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		p.Stages = []model.Stage{}
		projects = append(projects, p)
		projectIDs = append(projectIDs, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return []model.Project{}, nil
	}

	if err := g.attachMembers(ctx, projects, projectIDs); err != nil {
		return nil, err
	}
	if err := g.attachStages(ctx, projects, projectIDs); err != nil {
		return nil, err
	}
	return projects, nil
}

func (g *PostgresGateway) attachMembers(ctx context.Context, projects []model.Project, projectIDs []string) error {
	rows, err := g.db.Query(ctx, `
		SELECT project_id, user_id, name, email, role
		FROM project_members WHERE project_id = ANY($1)`, projectIDs)
	if err != nil {
		return fmt.Errorf("querying project members: %w", err)
	}
	defer rows.Close()

	byProject := make(map[string][]model.ProjectMember)
	for rows.Next() {
		var projectID string
		var m model.ProjectMember
		if err := rows.Scan(&projectID, &m.UserID, &m.Name, &m.Email, &m.Role); err != nil {
			return fmt.Errorf("scanning member row: %w", err)
		}
		byProject[projectID] = append(byProject[projectID], m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range projects {
		projects[i].Members = byProject[projects[i].ID]
	}
	return nil
}

func (g *PostgresGateway) attachStages(ctx context.Context, projects []model.Project, projectIDs []string) error {
	rows, err := g.db.Query(ctx, `
		SELECT id, project_id, name, order_index
		FROM stages WHERE project_id = ANY($1)
		ORDER BY order_index`, projectIDs)
	if err != nil {
		return fmt.Errorf("querying stages: %w", err)
	}
	defer rows.Close()

	stagesByProject := make(map[string][]model.Stage)
	var stageIDs []string
	stageOwner := make(map[string]string)
	for rows.Next() {
		var s model.Stage
		var projectID string
		if err := rows.Scan(&s.ID, &projectID, &s.Name, &s.OrderIndex); err != nil {
			return fmt.Errorf("scanning stage row: %w", err)
		}
		s.Tasks = []model.Task{}
		stagesByProject[projectID] = append(stagesByProject[projectID], s)
		stageIDs = append(stageIDs, s.ID)
		stageOwner[s.ID] = projectID
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tasksByStage, err := g.loadTasks(ctx, stageIDs)
	if err != nil {
		return err
	}
	for projectID := range stagesByProject {
		for i := range stagesByProject[projectID] {
			stage := &stagesByProject[projectID][i]
			if tasks, ok := tasksByStage[stage.ID]; ok {
				stage.Tasks = tasks
			}
		}
	}
	for i := range projects {
		if stages, ok := stagesByProject[projects[i].ID]; ok {
			projects[i].Stages = stages
		}
	}
	return nil
}

func (g *PostgresGateway) loadTasks(ctx context.Context, stageIDs []string) (map[string][]model.Task, error) {
	if len(stageIDs) == 0 {
		return map[string][]model.Task{}, nil
	}

	rows, err := g.db.Query(ctx, `
		SELECT id, stage_id, title, description, is_completed, reminder_date,
		       created_at, updated_at, created_by, created_by_name,
		       modified_by, modified_by_name
		FROM tasks WHERE stage_id = ANY($1)
		ORDER BY created_at`, stageIDs)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	type taskRow struct {
		task    *model.Task
		stageID string
	}
	var ordered []taskRow
	var taskIDs []string
	taskIndex := make(map[string]*model.Task)
	for rows.Next() {
		t := &model.Task{Subtasks: []model.Subtask{}, Comments: []model.Comment{}}
		var stageID string
		err := rows.Scan(
			&t.ID, &stageID, &t.Title, &t.Description, &t.IsCompleted, &t.ReminderDate,
			&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.CreatedByName,
			&t.ModifiedBy, &t.ModifiedByName,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		ordered = append(ordered, taskRow{task: t, stageID: stageID})
		taskIDs = append(taskIDs, t.ID)
		taskIndex[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byStage := make(map[string][]model.Task)
	assemble := func() map[string][]model.Task {
		for _, row := range ordered {
			byStage[row.stageID] = append(byStage[row.stageID], *row.task)
		}
		return byStage
	}
	if len(taskIDs) == 0 {
		return byStage, nil
	}

	subRows, err := g.db.Query(ctx, `
		SELECT id, task_id, title, is_completed, reminder_date,
		       created_by, created_by_name, modified_by, modified_by_name
		FROM subtasks WHERE task_id = ANY($1)`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("querying subtasks: %w", err)
	}
	defer subRows.Close()
	for subRows.Next() {
		var s model.Subtask
		var taskID string
		err := subRows.Scan(
			&s.ID, &taskID, &s.Title, &s.IsCompleted, &s.ReminderDate,
			&s.CreatedBy, &s.CreatedByName, &s.ModifiedBy, &s.ModifiedByName,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subtask row: %w", err)
		}
		if t, ok := taskIndex[taskID]; ok {
			t.Subtasks = append(t.Subtasks, s)
		}
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	commentRows, err := g.db.Query(ctx, `
		SELECT id, task_id, content, author_name, created_at
		FROM comments WHERE task_id = ANY($1)
		ORDER BY created_at`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		var c model.Comment
		var taskID string
		if err := commentRows.Scan(&c.ID, &taskID, &c.Content, &c.AuthorName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning comment row: %w", err)
		}
		if t, ok := taskIndex[taskID]; ok {
			t.Comments = append(t.Comments, c)
		}
	}
	if err := commentRows.Err(); err != nil {
		return nil, err
	}
	return assemble(), nil
}

// CreateProject inserts a project row and returns it with the
// server-assigned identity.
func (g *PostgresGateway) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	created := p.Clone()
	created.Stages = nil

	err := g.db.QueryRow(ctx, `
		INSERT INTO projects (id, title, emoji, priority_rank, current_stage_index,
		                      owner_id, created_at, updated_at, modified_by, modified_by_name)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.Title, p.Emoji, p.PriorityRank, p.CurrentStageIndex,
		p.OwnerID, p.CreatedAt, p.UpdatedAt, p.ModifiedBy, p.ModifiedByName,
	).Scan(&created.ID)
	if err != nil {
		g.logger.Error("creating project", zap.Error(err))
		return model.Project{}, fmt.Errorf("creating project: %w", err)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityProject, Action: ActionCreate, ProjectID: created.ID, ActorID: p.OwnerID})
	return created, nil
}

// UpdateProject rewrites a project's scalar fields. Stage content is
// managed through the stage operations.
func (g *PostgresGateway) UpdateProject(ctx context.Context, p model.Project) error {
	tag, err := g.db.Exec(ctx, `
		UPDATE projects SET
			title = $1, emoji = $2, priority_rank = $3, current_stage_index = $4,
			updated_at = $5, modified_by = $6, modified_by_name = $7
		WHERE id = $8`,
		p.Title, p.Emoji, p.PriorityRank, p.CurrentStageIndex,
		p.UpdatedAt, p.ModifiedBy, p.ModifiedByName, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s not found", p.ID)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityProject, Action: ActionUpdate, ProjectID: p.ID, ActorID: p.ModifiedBy})
	return nil
}

// DeleteProject removes a project; stages, tasks, subtasks, comments, and
// memberships cascade.
func (g *PostgresGateway) DeleteProject(ctx context.Context, id string) error {
	tag, err := g.db.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s not found", id)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityProject, Action: ActionDelete, ProjectID: id})
	return nil
}

// CreateStage inserts a stage row for a project.
func (g *PostgresGateway) CreateStage(ctx context.Context, projectID string, s model.Stage) (model.Stage, error) {
	created := s.Clone()
	created.Tasks = nil

	err := g.db.QueryRow(ctx, `
		INSERT INTO stages (id, project_id, name, order_index)
		VALUES (gen_random_uuid()::text, $1, $2, $3)
		RETURNING id`,
		projectID, s.Name, s.OrderIndex,
	).Scan(&created.ID)
	if err != nil {
		return model.Stage{}, fmt.Errorf("creating stage: %w", err)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityStage, Action: ActionCreate, ProjectID: projectID})
	return created, nil
}

// UpdateStage rewrites a stage's name and order index.
func (g *PostgresGateway) UpdateStage(ctx context.Context, projectID string, s model.Stage) error {
	tag, err := g.db.Exec(ctx,
		"UPDATE stages SET name = $1, order_index = $2 WHERE id = $3",
		s.Name, s.OrderIndex, s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating stage %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stage %s not found", s.ID)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityStage, Action: ActionUpdate, ProjectID: projectID})
	return nil
}

// DeleteStage removes a stage; its tasks cascade.
func (g *PostgresGateway) DeleteStage(ctx context.Context, id string) error {
	projectID, err := g.projectIDForStage(ctx, id)
	if err != nil {
		return err
	}

	tag, err := g.db.Exec(ctx, "DELETE FROM stages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting stage %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stage %s not found", id)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityStage, Action: ActionDelete, ProjectID: projectID})
	return nil
}
