package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/model"
)

// GetNotifications returns a user's notifications, most recent first.
func (g *PostgresGateway) GetNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := g.db.Query(ctx, `
		SELECT id, type, title, message, project_id, task_id, subtask_id,
		       is_read, created_at, reminder_date
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		err := rows.Scan(
			&n.ID, &n.Type, &n.Title, &n.Message, &n.ProjectID, &n.TaskID,
			&n.SubtaskID, &n.IsRead, &n.CreatedAt, &n.ReminderDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CreateNotification inserts a notification for a user and returns it
// with the server-assigned identity.
func (g *PostgresGateway) CreateNotification(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	created := n

	err := g.db.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message,
		                           project_id, task_id, subtask_id,
		                           is_read, created_at, reminder_date)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		userID, n.Type, n.Title, n.Message,
		n.ProjectID, n.TaskID, n.SubtaskID,
		n.IsRead, n.CreatedAt, n.ReminderDate,
	).Scan(&created.ID)
	if err != nil {
		return model.Notification{}, fmt.Errorf("creating notification: %w", err)
	}
	return created, nil
}

// MarkNotificationRead marks a single notification as read.
func (g *PostgresGateway) MarkNotificationRead(ctx context.Context, id string) error {
	return g.setNotificationRead(ctx, id, true)
}

// MarkNotificationUnread marks a single notification as unread.
func (g *PostgresGateway) MarkNotificationUnread(ctx context.Context, id string) error {
	return g.setNotificationRead(ctx, id, false)
}

func (g *PostgresGateway) setNotificationRead(ctx context.Context, id string, read bool) error {
	tag, err := g.db.Exec(ctx,
		"UPDATE notifications SET is_read = $1 WHERE id = $2", read, id)
	if err != nil {
		return fmt.Errorf("marking notification %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found", id)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification for a user as read.
func (g *PostgresGateway) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := g.db.Exec(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// DeleteNotification removes a single notification.
func (g *PostgresGateway) DeleteNotification(ctx context.Context, id string) error {
	tag, err := g.db.Exec(ctx, "DELETE FROM notifications WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found", id)
	}
	return nil
}

// ClearAllNotifications removes every notification for a user.
func (g *PostgresGateway) ClearAllNotifications(ctx context.Context, userID string) error {
	_, err := g.db.Exec(ctx, "DELETE FROM notifications WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}

// NotifyCollaborators inserts one notification row per project
// collaborator (members plus owner), excluding the acting user.
func (g *PostgresGateway) NotifyCollaborators(ctx context.Context, projectID, actingUserID string, n model.Notification) error {
	tag, err := g.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message,
		                           project_id, task_id, subtask_id,
		                           is_read, created_at, reminder_date)
		SELECT gen_random_uuid()::text, r.user_id, $2, $3, $4, $1, $5, $6, FALSE, $7, $8
		FROM (
			SELECT user_id FROM project_members WHERE project_id = $1
			UNION
			SELECT owner_id FROM projects WHERE id = $1
		) r
		WHERE r.user_id <> $9`,
		projectID, n.Type, n.Title, n.Message,
		n.TaskID, n.SubtaskID, n.CreatedAt, n.ReminderDate, actingUserID,
	)
	if err != nil {
		return fmt.Errorf("fanning out notification for project %s: %w", projectID, err)
	}

	g.logger.Debug("notified collaborators",
		zap.String("project_id", projectID),
		zap.String("type", string(n.Type)),
		zap.Int64("recipients", tag.RowsAffected()),
	)
	return nil
}
