package model

import "time"

// TodayItem is one entry in the per-user, per-date daily checklist.
//
// The title is a local copy captured at add-time, not a live reference:
// editing the source task afterwards does not change the checklist entry,
// and the entry survives deletion of the source. SourceTaskID and
// SourceSubtaskID are provenance pointers used only for duplicate
// detection and completion propagation.
type TodayItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	IsDone    bool   `json:"is_done"`
	ProjectID string `json:"projectId,omitempty"`

	// SourceTaskID/SourceSubtaskID record where the item was copied from.
	SourceTaskID    string `json:"sourceTaskId,omitempty"`
	SourceSubtaskID string `json:"sourceSubtaskId,omitempty"`

	// TaskID/SubtaskID are legacy direct references kept for items
	// written before the provenance fields existed.
	TaskID    string `json:"taskId,omitempty"`
	SubtaskID string `json:"subtaskId,omitempty"`

	// IsLocal distinguishes free-typed entries from entries copied from
	// a task or subtask.
	IsLocal bool `json:"isLocal"`

	CreatedAt time.Time `json:"created_at"`
}

// SourceTask returns the task provenance of the item, preferring the
// provenance field over the legacy direct reference.
func (t TodayItem) SourceTask() string {
	if t.SourceTaskID != "" {
		return t.SourceTaskID
	}
	return t.TaskID
}

// SourceSubtask returns the subtask provenance of the item, preferring
// the provenance field over the legacy direct reference.
func (t TodayItem) SourceSubtask() string {
	if t.SourceSubtaskID != "" {
		return t.SourceSubtaskID
	}
	return t.SubtaskID
}

// SameSource reports whether two items were copied from the same task or
// subtask. Items without any provenance never match by source.
func (t TodayItem) SameSource(other TodayItem) bool {
	if t.SourceSubtask() != "" || other.SourceSubtask() != "" {
		return t.SourceSubtask() != "" && t.SourceSubtask() == other.SourceSubtask()
	}
	return t.SourceTask() != "" && t.SourceTask() == other.SourceTask()
}
