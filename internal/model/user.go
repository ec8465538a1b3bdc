package model

import "time"

// User identifies the acting user. Authentication itself is handled by an
// external provider; the engine only stamps this identity into audit
// fields and collaborator notifications.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Invitation status constants.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusCanceled = "canceled"
)

// Invitation is a pending request for a user to join a shared project.
type Invitation struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Email     string    `json:"email" db:"email"`
	InvitedBy string    `json:"invited_by" db:"invited_by"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
