package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/research-tracker/internal/model"
)

// MemoryGateway is an in-process Gateway used by tests and demos. It
// mirrors the backend semantics: server-assigned identities, cascade
// deletes, collaborator fan-out, and change events delivered to
// subscribers. Fail, when set, is consulted before every operation so
// tests can inject remote failures per op name.
type MemoryGateway struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	notifs   map[string][]model.Notification
	today    map[string][]model.TodayItem
	invites  map[string][]model.Invitation
	subs     []*memorySub

	// Fail is an optional failure hook keyed by operation name, e.g.
	// "CreateTask". Returning a non-nil error fails the call before any
	// state change.
	Fail func(op string) error

	// Calls records operation names in invocation order. Guarded by mu;
	// read it through CallsSnapshot while gateway users may still be
	// running.
	Calls []string
}

// NewMemoryGateway returns an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		projects: make(map[string]*model.Project),
		notifs:   make(map[string][]model.Notification),
		today:    make(map[string][]model.TodayItem),
		invites:  make(map[string][]model.Invitation),
	}
}

type memorySub struct {
	gw       *MemoryGateway
	userID   string
	projects map[string]bool
	onChange func(ChangeEvent)
	closed   bool
}

func (s *memorySub) Close() error {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	s.closed = true
	return nil
}

// begin records the call and applies the failure hook.
func (g *MemoryGateway) begin(op string) error {
	g.Calls = append(g.Calls, op)
	if g.Fail != nil {
		return g.Fail(op)
	}
	return nil
}

// emit delivers a change event to every live subscriber that watches the
// affected project or user. Called with the lock held; delivery happens
// on a fresh goroutine like a real feed would.
func (g *MemoryGateway) emit(ev ChangeEvent) {
	ev.At = time.Now().UTC()
	for _, sub := range g.subs {
		if sub.closed {
			continue
		}
		if ev.ProjectID != "" && !sub.projects[ev.ProjectID] && g.ownerOf(ev.ProjectID) != sub.userID {
			continue
		}
		go sub.onChange(ev)
	}
}

func (g *MemoryGateway) ownerOf(projectID string) string {
	if p, ok := g.projects[projectID]; ok {
		return p.OwnerID
	}
	return ""
}

func (g *MemoryGateway) GetProjects(ctx context.Context, userID string) ([]model.Project, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("GetProjects"); err != nil {
		return nil, err
	}

	var out []model.Project
	for _, p := range g.projects {
		if p.OwnerID == userID {
			out = append(out, p.Clone())
			continue
		}
		for _, m := range p.Members {
			if m.UserID == userID {
				out = append(out, p.Clone())
				break
			}
		}
	}
	model.SortProjects(out)
	return out, nil
}

func (g *MemoryGateway) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateProject"); err != nil {
		return model.Project{}, err
	}

	created := p.Clone()
	created.ID = uuid.New().String()
	created.Stages = nil
	g.projects[created.ID] = &created
	g.emit(ChangeEvent{Entity: EntityProject, Action: ActionCreate, ProjectID: created.ID})
	return created.Clone(), nil
}

func (g *MemoryGateway) UpdateProject(ctx context.Context, p model.Project) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("UpdateProject"); err != nil {
		return err
	}

	existing, ok := g.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s not found", p.ID)
	}
	updated := p.Clone()
	updated.Stages = existing.Stages
	g.projects[p.ID] = &updated
	g.emit(ChangeEvent{Entity: EntityProject, Action: ActionUpdate, ProjectID: p.ID, ActorID: p.ModifiedBy})
	return nil
}

func (g *MemoryGateway) DeleteProject(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DeleteProject"); err != nil {
		return err
	}

	if _, ok := g.projects[id]; !ok {
		return fmt.Errorf("project %s not found", id)
	}
	delete(g.projects, id)
	g.emit(ChangeEvent{Entity: EntityProject, Action: ActionDelete, ProjectID: id})
	return nil
}

func (g *MemoryGateway) CreateStage(ctx context.Context, projectID string, s model.Stage) (model.Stage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateStage"); err != nil {
		return model.Stage{}, err
	}

	p, ok := g.projects[projectID]
	if !ok {
		return model.Stage{}, fmt.Errorf("project %s not found", projectID)
	}
	created := s.Clone()
	created.ID = uuid.New().String()
	created.Tasks = nil
	p.Stages = append(p.Stages, created)
	g.emit(ChangeEvent{Entity: EntityStage, Action: ActionCreate, ProjectID: projectID})
	return created.Clone(), nil
}

func (g *MemoryGateway) UpdateStage(ctx context.Context, projectID string, s model.Stage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("UpdateStage"); err != nil {
		return err
	}

	p, ok := g.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	for i := range p.Stages {
		if p.Stages[i].ID == s.ID {
			p.Stages[i].Name = s.Name
			p.Stages[i].OrderIndex = s.OrderIndex
			g.emit(ChangeEvent{Entity: EntityStage, Action: ActionUpdate, ProjectID: projectID})
			return nil
		}
	}
	return fmt.Errorf("stage %s not found", s.ID)
}

func (g *MemoryGateway) DeleteStage(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DeleteStage"); err != nil {
		return err
	}

	for _, p := range g.projects {
		for i := range p.Stages {
			if p.Stages[i].ID == id {
				p.Stages = append(p.Stages[:i], p.Stages[i+1:]...)
				g.emit(ChangeEvent{Entity: EntityStage, Action: ActionDelete, ProjectID: p.ID})
				return nil
			}
		}
	}
	return fmt.Errorf("stage %s not found", id)
}

// findStage locates a stage by ID across all projects.
func (g *MemoryGateway) findStage(stageID string) (*model.Project, *model.Stage) {
	for _, p := range g.projects {
		for i := range p.Stages {
			if p.Stages[i].ID == stageID {
				return p, &p.Stages[i]
			}
		}
	}
	return nil, nil
}

// findTask locates a task by ID across all projects.
func (g *MemoryGateway) findTask(taskID string) (*model.Project, *model.Task) {
	for _, p := range g.projects {
		for i := range p.Stages {
			for j := range p.Stages[i].Tasks {
				if p.Stages[i].Tasks[j].ID == taskID {
					return p, &p.Stages[i].Tasks[j]
				}
			}
		}
	}
	return nil, nil
}

func (g *MemoryGateway) CreateTask(ctx context.Context, stageID string, t model.Task) (model.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateTask"); err != nil {
		return model.Task{}, err
	}

	p, stage := g.findStage(stageID)
	if stage == nil {
		return model.Task{}, fmt.Errorf("stage %s not found", stageID)
	}
	created := t.Clone()
	created.ID = uuid.New().String()
	created.Subtasks = nil
	created.Comments = nil
	stage.Tasks = append(stage.Tasks, created)
	g.emit(ChangeEvent{Entity: EntityTask, Action: ActionCreate, ProjectID: p.ID, ActorID: t.CreatedBy})
	return created.Clone(), nil
}

func (g *MemoryGateway) UpdateTask(ctx context.Context, t model.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("UpdateTask"); err != nil {
		return err
	}

	p, existing := g.findTask(t.ID)
	if existing == nil {
		return fmt.Errorf("task %s not found", t.ID)
	}
	updated := t.Clone()
	updated.Subtasks = existing.Subtasks
	updated.Comments = existing.Comments
	*existing = updated
	g.emit(ChangeEvent{Entity: EntityTask, Action: ActionUpdate, ProjectID: p.ID, ActorID: t.ModifiedBy})
	return nil
}

func (g *MemoryGateway) DeleteTask(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DeleteTask"); err != nil {
		return err
	}

	for _, p := range g.projects {
		for i := range p.Stages {
			tasks := p.Stages[i].Tasks
			for j := range tasks {
				if tasks[j].ID == id {
					p.Stages[i].Tasks = append(tasks[:j], tasks[j+1:]...)
					g.emit(ChangeEvent{Entity: EntityTask, Action: ActionDelete, ProjectID: p.ID})
					return nil
				}
			}
		}
	}
	return fmt.Errorf("task %s not found", id)
}

func (g *MemoryGateway) CreateSubtask(ctx context.Context, taskID string, s model.Subtask) (model.Subtask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateSubtask"); err != nil {
		return model.Subtask{}, err
	}

	p, task := g.findTask(taskID)
	if task == nil {
		return model.Subtask{}, fmt.Errorf("task %s not found", taskID)
	}
	created := s
	created.ID = uuid.New().String()
	task.Subtasks = append(task.Subtasks, created)
	g.emit(ChangeEvent{Entity: EntitySubtask, Action: ActionCreate, ProjectID: p.ID, ActorID: s.CreatedBy})
	return created, nil
}

func (g *MemoryGateway) UpdateSubtask(ctx context.Context, taskID string, s model.Subtask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("UpdateSubtask"); err != nil {
		return err
	}

	p, task := g.findTask(taskID)
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	for i := range task.Subtasks {
		if task.Subtasks[i].ID == s.ID {
			task.Subtasks[i] = s
			g.emit(ChangeEvent{Entity: EntitySubtask, Action: ActionUpdate, ProjectID: p.ID, ActorID: s.ModifiedBy})
			return nil
		}
	}
	return fmt.Errorf("subtask %s not found", s.ID)
}

func (g *MemoryGateway) DeleteSubtask(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DeleteSubtask"); err != nil {
		return err
	}

	for _, p := range g.projects {
		for i := range p.Stages {
			for j := range p.Stages[i].Tasks {
				task := &p.Stages[i].Tasks[j]
				for k := range task.Subtasks {
					if task.Subtasks[k].ID == id {
						task.Subtasks = append(task.Subtasks[:k], task.Subtasks[k+1:]...)
						g.emit(ChangeEvent{Entity: EntitySubtask, Action: ActionDelete, ProjectID: p.ID})
						return nil
					}
				}
			}
		}
	}
	return fmt.Errorf("subtask %s not found", id)
}

func (g *MemoryGateway) CreateComment(ctx context.Context, taskID string, c model.Comment) (model.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateComment"); err != nil {
		return model.Comment{}, err
	}

	p, task := g.findTask(taskID)
	if task == nil {
		return model.Comment{}, fmt.Errorf("task %s not found", taskID)
	}
	created := c
	created.ID = uuid.New().String()
	task.Comments = append(task.Comments, created)
	g.emit(ChangeEvent{Entity: EntityComment, Action: ActionCreate, ProjectID: p.ID})
	return created, nil
}

func (g *MemoryGateway) GetNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("GetNotifications"); err != nil {
		return nil, err
	}
	out := make([]model.Notification, len(g.notifs[userID]))
	copy(out, g.notifs[userID])
	return out, nil
}

func (g *MemoryGateway) CreateNotification(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateNotification"); err != nil {
		return model.Notification{}, err
	}

	created := n
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	// Most-recent-first, matching GetNotifications ordering.
	g.notifs[userID] = append([]model.Notification{created}, g.notifs[userID]...)
	return created, nil
}

func (g *MemoryGateway) MarkNotificationRead(ctx context.Context, id string) error {
	return g.setNotificationRead("MarkNotificationRead", id, true)
}

func (g *MemoryGateway) MarkNotificationUnread(ctx context.Context, id string) error {
	return g.setNotificationRead("MarkNotificationUnread", id, false)
}

func (g *MemoryGateway) setNotificationRead(op, id string, read bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(op); err != nil {
		return err
	}
	for userID := range g.notifs {
		for i := range g.notifs[userID] {
			if g.notifs[userID][i].ID == id {
				g.notifs[userID][i].IsRead = read
				return nil
			}
		}
	}
	return fmt.Errorf("notification %s not found", id)
}

func (g *MemoryGateway) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("MarkAllNotificationsRead"); err != nil {
		return err
	}
	for i := range g.notifs[userID] {
		g.notifs[userID][i].IsRead = true
	}
	return nil
}

func (g *MemoryGateway) DeleteNotification(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("DeleteNotification"); err != nil {
		return err
	}
	for userID := range g.notifs {
		for i := range g.notifs[userID] {
			if g.notifs[userID][i].ID == id {
				g.notifs[userID] = append(g.notifs[userID][:i], g.notifs[userID][i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("notification %s not found", id)
}

func (g *MemoryGateway) ClearAllNotifications(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("ClearAllNotifications"); err != nil {
		return err
	}
	g.notifs[userID] = nil
	return nil
}

func (g *MemoryGateway) NotifyCollaborators(ctx context.Context, projectID, actingUserID string, n model.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("NotifyCollaborators"); err != nil {
		return err
	}

	p, ok := g.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}

	recipients := make(map[string]bool)
	if p.OwnerID != "" && p.OwnerID != actingUserID {
		recipients[p.OwnerID] = true
	}
	for _, m := range p.Members {
		if m.UserID != actingUserID {
			recipients[m.UserID] = true
		}
	}
	for userID := range recipients {
		delivered := n
		delivered.ID = uuid.New().String()
		g.notifs[userID] = append([]model.Notification{delivered}, g.notifs[userID]...)
	}
	return nil
}

func todayMapKey(userID, date string) string {
	return userID + "|" + date
}

func (g *MemoryGateway) GetTodayItems(ctx context.Context, userID, date string) ([]model.TodayItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("GetTodayItems"); err != nil {
		return nil, err
	}
	out := make([]model.TodayItem, len(g.today[todayMapKey(userID, date)]))
	copy(out, g.today[todayMapKey(userID, date)])
	return out, nil
}

func (g *MemoryGateway) SaveTodayItems(ctx context.Context, userID, date string, items []model.TodayItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("SaveTodayItems"); err != nil {
		return err
	}
	saved := make([]model.TodayItem, len(items))
	copy(saved, items)
	g.today[todayMapKey(userID, date)] = saved
	return nil
}

func (g *MemoryGateway) ShareProject(ctx context.Context, projectID, email, invitedBy string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("ShareProject"); err != nil {
		return err
	}
	if _, ok := g.projects[projectID]; !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	g.invites[projectID] = append(g.invites[projectID], model.Invitation{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Email:     email,
		InvitedBy: invitedBy,
		Status:    model.InviteStatusPending,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (g *MemoryGateway) GetProjectInvitations(ctx context.Context, projectID string) ([]model.Invitation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("GetProjectInvitations"); err != nil {
		return nil, err
	}
	out := make([]model.Invitation, len(g.invites[projectID]))
	copy(out, g.invites[projectID])
	return out, nil
}

func (g *MemoryGateway) CancelInvitation(ctx context.Context, inviteID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CancelInvitation"); err != nil {
		return err
	}
	for projectID := range g.invites {
		for i := range g.invites[projectID] {
			if g.invites[projectID][i].ID == inviteID {
				g.invites[projectID][i].Status = model.InviteStatusCanceled
				return nil
			}
		}
	}
	return fmt.Errorf("invitation %s not found", inviteID)
}

func (g *MemoryGateway) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("RemoveProjectMember"); err != nil {
		return err
	}
	p, ok := g.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	for i := range p.Members {
		if p.Members[i].UserID == userID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			g.emit(ChangeEvent{Entity: EntityProject, Action: ActionUpdate, ProjectID: projectID})
			return nil
		}
	}
	return fmt.Errorf("member %s not found in project %s", userID, projectID)
}

func (g *MemoryGateway) Subscribe(ctx context.Context, userID string, projectIDs []string, onChange func(ChangeEvent)) (Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("Subscribe"); err != nil {
		return nil, err
	}

	watched := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		watched[id] = true
	}
	sub := &memorySub{gw: g, userID: userID, projects: watched, onChange: onChange}
	g.subs = append(g.subs, sub)
	return sub, nil
}

// SeedProject inserts a project tree as-is, keeping its identities.
// Test helper.
func (g *MemoryGateway) SeedProject(p model.Project) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seeded := p.Clone()
	g.projects[seeded.ID] = &seeded
}

// CallsSnapshot returns a copy of the recorded operation names.
// Test helper.
func (g *MemoryGateway) CallsSnapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Calls))
	copy(out, g.Calls)
	return out
}

// NotificationsFor returns a copy of the stored notifications for a user.
// Test helper.
func (g *MemoryGateway) NotificationsFor(userID string) []model.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Notification, len(g.notifs[userID]))
	copy(out, g.notifs[userID])
	return out
}
