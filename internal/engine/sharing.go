package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/research-tracker/internal/model"
)

// ShareProject records a pending invitation for an email address and
// announces the share to existing collaborators. Sharing requires
// remote mode.
func (e *Engine) ShareProject(ctx context.Context, projectID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("invite email must not be empty")
	}
	if e.demoMode() {
		return fmt.Errorf("sharing requires a remote session")
	}

	e.mu.Lock()
	i := findProject(e.projects, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	title := e.projects[i].Title
	e.mu.Unlock()

	if err := e.gw.ShareProject(ctx, e.remoteID(projectID), email, e.user.ID); err != nil {
		return fmt.Errorf("sharing project: %w", err)
	}

	e.fanOut(projectID, model.Notification{
		ID:        e.newID(),
		Type:      model.NotificationProjectShared,
		Title:     "Project shared",
		Message:   fmt.Sprintf("%s invited %s to %q", e.user.Name, email, title),
		ProjectID: projectID,
		CreatedAt: e.now(),
	})
	return nil
}

// ProjectInvitations lists the invitations recorded for a project.
func (e *Engine) ProjectInvitations(ctx context.Context, projectID string) ([]model.Invitation, error) {
	if e.demoMode() {
		return []model.Invitation{}, nil
	}
	invitations, err := e.gw.GetProjectInvitations(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing invitations: %w", err)
	}
	return invitations, nil
}

// CancelInvitation withdraws a pending invitation.
func (e *Engine) CancelInvitation(ctx context.Context, inviteID string) error {
	if e.demoMode() {
		return fmt.Errorf("sharing requires a remote session")
	}
	if err := e.gw.CancelInvitation(ctx, inviteID); err != nil {
		return fmt.Errorf("canceling invitation: %w", err)
	}
	return nil
}

// RemoveProjectMember drops a collaborator from a shared project,
// optimistically in the tree and then at the remote store.
func (e *Engine) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	if e.demoMode() {
		return fmt.Errorf("sharing requires a remote session")
	}

	e.mu.Lock()
	list := model.CloneProjects(e.projects)
	i := findProject(list, projectID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	members := list[i].Members
	for mi := range members {
		if members[mi].UserID == userID {
			list[i].Members = append(members[:mi], members[mi+1:]...)
			break
		}
	}
	e.stampProject(&list[i])
	prior := e.swapLocked(normalizeProjects(list))
	e.mu.Unlock()

	e.asyncRemote("remove project member", prior, func(ctx context.Context) error {
		return e.gw.RemoveProjectMember(ctx, e.remoteID(projectID), userID)
	})
	return nil
}
