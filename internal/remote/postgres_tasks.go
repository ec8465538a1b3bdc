package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/model"
)

// CreateTask inserts a task row under a stage and returns it with the
// server-assigned identity.
func (g *PostgresGateway) CreateTask(ctx context.Context, stageID string, t model.Task) (model.Task, error) {
	created := t.Clone()
	created.Subtasks = nil
	created.Comments = nil

	err := g.db.QueryRow(ctx, `
		INSERT INTO tasks (id, stage_id, title, description, is_completed, reminder_date,
		                   created_at, updated_at, created_by, created_by_name,
		                   modified_by, modified_by_name)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		stageID, t.Title, t.Description, t.IsCompleted, t.ReminderDate,
		t.CreatedAt, t.UpdatedAt, t.CreatedBy, t.CreatedByName,
		t.ModifiedBy, t.ModifiedByName,
	).Scan(&created.ID)
	if err != nil {
		g.logger.Error("creating task", zap.String("stage_id", stageID), zap.Error(err))
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}

	if projectID, perr := g.projectIDForStage(ctx, stageID); perr == nil {
		g.publish(ctx, ChangeEvent{Entity: EntityTask, Action: ActionCreate, ProjectID: projectID, ActorID: t.CreatedBy})
	}
	return created, nil
}

// UpdateTask rewrites a task's scalar fields.
func (g *PostgresGateway) UpdateTask(ctx context.Context, t model.Task) error {
	projectID, _ := g.projectIDForTask(ctx, t.ID)

	tag, err := g.db.Exec(ctx, `
		UPDATE tasks SET
			title = $1, description = $2, is_completed = $3, reminder_date = $4,
			updated_at = $5, modified_by = $6, modified_by_name = $7
		WHERE id = $8`,
		t.Title, t.Description, t.IsCompleted, t.ReminderDate,
		t.UpdatedAt, t.ModifiedBy, t.ModifiedByName, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityTask, Action: ActionUpdate, ProjectID: projectID, ActorID: t.ModifiedBy})
	return nil
}

// DeleteTask removes a task; its subtask and comment rows cascade.
func (g *PostgresGateway) DeleteTask(ctx context.Context, id string) error {
	projectID, _ := g.projectIDForTask(ctx, id)

	tag, err := g.db.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found", id)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityTask, Action: ActionDelete, ProjectID: projectID})
	return nil
}

// CreateSubtask inserts a subtask row under a task.
func (g *PostgresGateway) CreateSubtask(ctx context.Context, taskID string, s model.Subtask) (model.Subtask, error) {
	created := s

	err := g.db.QueryRow(ctx, `
		INSERT INTO subtasks (id, task_id, title, is_completed, reminder_date,
		                      created_by, created_by_name, modified_by, modified_by_name)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		taskID, s.Title, s.IsCompleted, s.ReminderDate,
		s.CreatedBy, s.CreatedByName, s.ModifiedBy, s.ModifiedByName,
	).Scan(&created.ID)
	if err != nil {
		return model.Subtask{}, fmt.Errorf("creating subtask: %w", err)
	}

	if projectID, perr := g.projectIDForTask(ctx, taskID); perr == nil {
		g.publish(ctx, ChangeEvent{Entity: EntitySubtask, Action: ActionCreate, ProjectID: projectID, ActorID: s.CreatedBy})
	}
	return created, nil
}

// UpdateSubtask rewrites a subtask's fields.
func (g *PostgresGateway) UpdateSubtask(ctx context.Context, taskID string, s model.Subtask) error {
	tag, err := g.db.Exec(ctx, `
		UPDATE subtasks SET
			title = $1, is_completed = $2, reminder_date = $3,
			modified_by = $4, modified_by_name = $5
		WHERE id = $6`,
		s.Title, s.IsCompleted, s.ReminderDate,
		s.ModifiedBy, s.ModifiedByName, s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating subtask %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subtask %s not found", s.ID)
	}

	if projectID, perr := g.projectIDForTask(ctx, taskID); perr == nil {
		g.publish(ctx, ChangeEvent{Entity: EntitySubtask, Action: ActionUpdate, ProjectID: projectID, ActorID: s.ModifiedBy})
	}
	return nil
}

// DeleteSubtask removes a subtask row.
func (g *PostgresGateway) DeleteSubtask(ctx context.Context, id string) error {
	var projectID string
	_ = g.db.QueryRow(ctx, `
		SELECT s.project_id FROM subtasks st
		JOIN tasks t ON t.id = st.task_id
		JOIN stages s ON s.id = t.stage_id
		WHERE st.id = $1`, id,
	).Scan(&projectID)

	tag, err := g.db.Exec(ctx, "DELETE FROM subtasks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting subtask %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subtask %s not found", id)
	}

	g.publish(ctx, ChangeEvent{Entity: EntitySubtask, Action: ActionDelete, ProjectID: projectID})
	return nil
}

// CreateComment appends a comment row to a task.
func (g *PostgresGateway) CreateComment(ctx context.Context, taskID string, c model.Comment) (model.Comment, error) {
	created := c

	err := g.db.QueryRow(ctx, `
		INSERT INTO comments (id, task_id, content, author_name, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4)
		RETURNING id`,
		taskID, c.Content, c.AuthorName, c.CreatedAt,
	).Scan(&created.ID)
	if err != nil {
		return model.Comment{}, fmt.Errorf("creating comment: %w", err)
	}

	if projectID, perr := g.projectIDForTask(ctx, taskID); perr == nil {
		g.publish(ctx, ChangeEvent{Entity: EntityComment, Action: ActionCreate, ProjectID: projectID})
	}
	return created, nil
}
