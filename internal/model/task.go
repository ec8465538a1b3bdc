package model

import "time"

// Task is a unit of work within a stage. A task exclusively owns its
// subtasks and comments; deleting the task removes both.
type Task struct {
	// ID is the internal unique identifier for this task.
	ID string `json:"id"`

	// Title is the human-readable summary of the task.
	Title string `json:"title"`

	// Description is the full body text.
	Description string `json:"description"`

	// IsCompleted marks the task done. Completing a task cascades onto
	// every subtask; un-completing does not cascade back.
	IsCompleted bool `json:"is_completed"`

	// ReminderDate, when set, is the instant after which the task counts
	// as overdue until completed or cleared.
	ReminderDate *time.Time `json:"reminder_date,omitempty"`

	// Subtasks are owned by this task in order.
	Subtasks []Subtask `json:"subtasks"`

	// Comments are append-only, owned by this task.
	Comments []Comment `json:"comments"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedByName  string    `json:"created_by_name,omitempty"`
	ModifiedBy     string    `json:"modified_by,omitempty"`
	ModifiedByName string    `json:"modified_by_name,omitempty"`
}

// Subtask is a smaller unit owned exclusively by its parent task.
type Subtask struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	IsCompleted    bool       `json:"is_completed"`
	ReminderDate   *time.Time `json:"reminder_date,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedByName  string     `json:"created_by_name,omitempty"`
	ModifiedBy     string     `json:"modified_by,omitempty"`
	ModifiedByName string     `json:"modified_by_name,omitempty"`
}

// Comment is an append-only note on a task.
type Comment struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// OverdueAt reports whether the task's reminder is strictly earlier than
// now and the task is not completed. Identical input flips to overdue as
// wall-clock time passes; that is the intended behavior.
func (t Task) OverdueAt(now time.Time) bool {
	return !t.IsCompleted && overdueAt(t.ReminderDate, now)
}

// OverdueAt reports whether the subtask's reminder has passed and the
// subtask is not completed.
func (s Subtask) OverdueAt(now time.Time) bool {
	return !s.IsCompleted && overdueAt(s.ReminderDate, now)
}

func overdueAt(reminder *time.Time, now time.Time) bool {
	return reminder != nil && reminder.Before(now)
}

// Clone returns a deep copy of the task, its subtasks, and its comments.
func (t Task) Clone() Task {
	out := t
	out.Subtasks = make([]Subtask, len(t.Subtasks))
	copy(out.Subtasks, t.Subtasks)
	out.Comments = make([]Comment, len(t.Comments))
	copy(out.Comments, t.Comments)
	if t.ReminderDate != nil {
		d := *t.ReminderDate
		out.ReminderDate = &d
	}
	for i := range out.Subtasks {
		if out.Subtasks[i].ReminderDate != nil {
			d := *out.Subtasks[i].ReminderDate
			out.Subtasks[i].ReminderDate = &d
		}
	}
	return out
}
