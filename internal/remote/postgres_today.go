package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nhle/research-tracker/internal/model"
)

// GetTodayItems returns the stored daily checklist for a user and date,
// or an empty list when none exists.
func (g *PostgresGateway) GetTodayItems(ctx context.Context, userID, date string) ([]model.TodayItem, error) {
	var payload []byte
	err := g.db.QueryRow(ctx,
		"SELECT items FROM today_items WHERE user_id = $1 AND date = $2",
		userID, date,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return []model.TodayItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying today items: %w", err)
	}

	var items []model.TodayItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("decoding today items: %w", err)
	}
	return items, nil
}

// SaveTodayItems replaces the stored daily checklist for a user and date.
func (g *PostgresGateway) SaveTodayItems(ctx context.Context, userID, date string, items []model.TodayItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding today items: %w", err)
	}

	_, err = g.db.Exec(ctx, `
		INSERT INTO today_items (user_id, date, items)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE SET items = EXCLUDED.items`,
		userID, date, payload,
	)
	if err != nil {
		return fmt.Errorf("saving today items: %w", err)
	}
	return nil
}

// ShareProject records a pending invitation for an email address.
func (g *PostgresGateway) ShareProject(ctx context.Context, projectID, email, invitedBy string) error {
	_, err := g.db.Exec(ctx, `
		INSERT INTO invitations (id, project_id, email, invited_by, status)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4)`,
		projectID, email, invitedBy, model.InviteStatusPending,
	)
	if err != nil {
		return fmt.Errorf("sharing project %s: %w", projectID, err)
	}
	return nil
}

// GetProjectInvitations lists the invitations recorded for a project.
func (g *PostgresGateway) GetProjectInvitations(ctx context.Context, projectID string) ([]model.Invitation, error) {
	rows, err := g.db.Query(ctx, `
		SELECT id, project_id, email, invited_by, status, created_at
		FROM invitations WHERE project_id = $1
		ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying invitations: %w", err)
	}
	defer rows.Close()

	var invitations []model.Invitation
	for rows.Next() {
		var inv model.Invitation
		err := rows.Scan(&inv.ID, &inv.ProjectID, &inv.Email, &inv.InvitedBy, &inv.Status, &inv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning invitation row: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// CancelInvitation marks an invitation canceled.
func (g *PostgresGateway) CancelInvitation(ctx context.Context, inviteID string) error {
	tag, err := g.db.Exec(ctx,
		"UPDATE invitations SET status = $1 WHERE id = $2",
		model.InviteStatusCanceled, inviteID,
	)
	if err != nil {
		return fmt.Errorf("canceling invitation %s: %w", inviteID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invitation %s not found", inviteID)
	}
	return nil
}

// RemoveProjectMember deletes a membership row and announces the change.
func (g *PostgresGateway) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	tag, err := g.db.Exec(ctx,
		"DELETE FROM project_members WHERE project_id = $1 AND user_id = $2",
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing member %s from project %s: %w", userID, projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %s not found in project %s", userID, projectID)
	}

	g.publish(ctx, ChangeEvent{Entity: EntityProject, Action: ActionUpdate, ProjectID: projectID})
	return nil
}
