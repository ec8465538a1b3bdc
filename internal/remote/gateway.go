// Package remote defines the gateway to the multi-user backend: an opaque
// CRUD-plus-subscribe surface over projects, their task trees, notifications,
// daily checklists, and sharing. The reconciliation engine depends only on
// the Gateway interface; PostgresGateway and MemoryGateway implement it.
package remote

import (
	"context"
	"time"

	"github.com/nhle/research-tracker/internal/model"
)

// ChangeEvent describes one remote mutation observed by a subscription.
// Consumers are expected to coalesce bursts and refetch rather than apply
// events incrementally.
type ChangeEvent struct {
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	ProjectID string    `json:"project_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	At        time.Time `json:"at"`
}

// Change event entity and action constants.
const (
	EntityProject      = "project"
	EntityStage        = "stage"
	EntityTask         = "task"
	EntitySubtask      = "subtask"
	EntityComment      = "comment"
	EntityNotification = "notification"

	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Subscription is a handle on a realtime change feed. Close stops the
// feed and releases its resources.
type Subscription interface {
	Close() error
}

// Gateway is the remote store surface. Create operations return the
// server-assigned entity; callers reconcile optimistic identities against
// it. All calls are independent; nothing here is transactional across
// entities.
type Gateway interface {
	// GetProjects returns the full project tree for a user, including
	// projects shared with them.
	GetProjects(ctx context.Context, userID string) ([]model.Project, error)

	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	UpdateProject(ctx context.Context, p model.Project) error
	DeleteProject(ctx context.Context, id string) error

	CreateStage(ctx context.Context, projectID string, s model.Stage) (model.Stage, error)
	UpdateStage(ctx context.Context, projectID string, s model.Stage) error
	DeleteStage(ctx context.Context, id string) error

	CreateTask(ctx context.Context, stageID string, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error
	// DeleteTask removes a task; subtask and comment rows cascade
	// server-side.
	DeleteTask(ctx context.Context, id string) error

	CreateSubtask(ctx context.Context, taskID string, s model.Subtask) (model.Subtask, error)
	UpdateSubtask(ctx context.Context, taskID string, s model.Subtask) error
	DeleteSubtask(ctx context.Context, id string) error

	CreateComment(ctx context.Context, taskID string, c model.Comment) (model.Comment, error)

	GetNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	CreateNotification(ctx context.Context, userID string, n model.Notification) (model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkNotificationUnread(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, id string) error
	ClearAllNotifications(ctx context.Context, userID string) error

	// NotifyCollaborators fans a notification out to every member of the
	// project except the acting user. Best-effort; callers never block
	// primary mutations on it.
	NotifyCollaborators(ctx context.Context, projectID, actingUserID string, n model.Notification) error

	GetTodayItems(ctx context.Context, userID, date string) ([]model.TodayItem, error)
	SaveTodayItems(ctx context.Context, userID, date string, items []model.TodayItem) error

	ShareProject(ctx context.Context, projectID, email, invitedBy string) error
	GetProjectInvitations(ctx context.Context, projectID string) ([]model.Invitation, error)
	CancelInvitation(ctx context.Context, inviteID string) error
	RemoveProjectMember(ctx context.Context, projectID, userID string) error

	// Subscribe opens a realtime change feed covering the user's own
	// channel plus the given project channels.
	Subscribe(ctx context.Context, userID string, projectIDs []string, onChange func(ChangeEvent)) (Subscription, error)
}
