package model

import "time"

// NotificationType enumerates the kinds of notifications the engine and
// explicit user actions can produce.
type NotificationType string

const (
	NotificationTaskReminder       NotificationType = "task_reminder"
	NotificationSubtaskReminder    NotificationType = "subtask_reminder"
	NotificationTaskOverdue        NotificationType = "task_overdue"
	NotificationSubtaskOverdue     NotificationType = "subtask_overdue"
	NotificationProjectShared      NotificationType = "project_shared"
	NotificationProjectInvite      NotificationType = "project_invite"
	NotificationTaskCreated        NotificationType = "task_created"
	NotificationSubtaskCreated     NotificationType = "subtask_created"
	NotificationTaskReminderSet    NotificationType = "task_reminder_set"
	NotificationSubtaskReminderSet NotificationType = "subtask_reminder_set"
	NotificationTaskDeleted        NotificationType = "task_deleted"
)

// Notification represents an alert surfaced to the user. Overdue
// notifications are created by the engine's scan; the rest by explicit
// user actions such as sharing or setting a reminder.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// Type classifies the notification (use Notification* constants).
	Type NotificationType `json:"type"`

	// Title is the short headline.
	Title string `json:"title"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// ProjectID/TaskID/SubtaskID link back to the originating entities
	// when applicable.
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	SubtaskID string `json:"subtask_id,omitempty"`

	// IsRead indicates whether the user has seen this notification.
	IsRead bool `json:"is_read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`

	// ReminderDate carries the reminder instant for reminder/overdue
	// notifications.
	ReminderDate *time.Time `json:"reminder_date,omitempty"`
}
