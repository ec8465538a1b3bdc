package model

import (
	"sort"
	"time"
)

// Member role constants.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// ProjectMember is a collaborator reference attached to a shared project.
type ProjectMember struct {
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Role   string `json:"role" db:"role"`
}

// Project is the root of the entity tree: an ordered sequence of stages,
// each holding tasks. Progress is derived from the current stage index
// and is never stored.
type Project struct {
	ID                string          `json:"id" db:"id"`
	Title             string          `json:"title" db:"title"`
	Emoji             string          `json:"emoji" db:"emoji"`
	PriorityRank      int             `json:"priority_rank" db:"priority_rank"`
	CurrentStageIndex int             `json:"current_stage_index" db:"current_stage_index"`
	Stages            []Stage         `json:"stages"`
	Members           []ProjectMember `json:"project_members,omitempty"`
	OwnerID           string          `json:"owner_id" db:"owner_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	ModifiedBy        string          `json:"modified_by,omitempty" db:"modified_by"`
	ModifiedByName    string          `json:"modified_by_name,omitempty" db:"modified_by_name"`
}

// Stage is one step in a project's workflow. OrderIndex defines the
// sequence and is rewritten for every stage on each reorder.
type Stage struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	OrderIndex int    `json:"order_index" db:"order_index"`
	Tasks      []Task `json:"tasks"`
}

// Progress returns (CurrentStageIndex+1)/len(Stages), or 0 for a project
// with no stages. The result is always within [0, 1].
func (p Project) Progress() float64 {
	if len(p.Stages) == 0 {
		return 0
	}
	idx := p.CurrentStageIndex
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Stages) {
		idx = len(p.Stages) - 1
	}
	return float64(idx+1) / float64(len(p.Stages))
}

// ClampStageIndex returns CurrentStageIndex constrained to a valid index
// into Stages, falling back to 0 when stages were removed out from under it.
func (p Project) ClampStageIndex() int {
	if p.CurrentStageIndex < 0 || p.CurrentStageIndex >= len(p.Stages) {
		return 0
	}
	return p.CurrentStageIndex
}

// StageByID returns the index of the stage with the given ID, or -1.
func (p Project) StageByID(id string) int {
	for i, s := range p.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// IsShared reports whether the project is visible to more than one user:
// either it has members, or it is owned by someone other than userID.
func (p Project) IsShared(userID string) bool {
	return len(p.Members) > 0 || (p.OwnerID != "" && p.OwnerID != userID)
}

// Clone returns a structurally independent deep copy of the project.
// Mutations always operate on a clone, never on the observed tree.
func (p Project) Clone() Project {
	out := p
	out.Stages = make([]Stage, len(p.Stages))
	for i, s := range p.Stages {
		out.Stages[i] = s.Clone()
	}
	if p.Members != nil {
		out.Members = make([]ProjectMember, len(p.Members))
		copy(out.Members, p.Members)
	}
	return out
}

// Clone returns a deep copy of the stage and its tasks.
func (s Stage) Clone() Stage {
	out := s
	out.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		out.Tasks[i] = t.Clone()
	}
	return out
}

// CloneProjects deep-copies a whole project list.
func CloneProjects(projects []Project) []Project {
	out := make([]Project, len(projects))
	for i, p := range projects {
		out[i] = p.Clone()
	}
	return out
}

// SortProjects orders projects by priority rank ascending, breaking ties
// by title.
func SortProjects(projects []Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].PriorityRank != projects[j].PriorityRank {
			return projects[i].PriorityRank < projects[j].PriorityRank
		}
		return projects[i].Title < projects[j].Title
	})
}
