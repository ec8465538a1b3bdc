package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/research-tracker/internal/model"
)

// Slot keys. Today snapshots are namespaced per user and calendar date;
// the legacy key predates per-user namespacing and is only read for
// forward migration.
const (
	projectsKey      = "projects"
	notificationsKey = "notifications"
)

func todayKey(userID, date string) string {
	return fmt.Sprintf("today:%s:%s", userID, date)
}

func legacyTodayKey(date string) string {
	return "today:" + date
}

// SaveProjects persists the whole project list as one JSON snapshot
// (demo-mode persistence).
func (s *Store) SaveProjects(ctx context.Context, projects []model.Project) error {
	payload, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("marshaling project snapshot: %w", err)
	}
	return s.setSlot(ctx, projectsKey, payload)
}

// LoadProjects reads the project snapshot. Missing or corrupt data
// returns an empty list rather than an error.
func (s *Store) LoadProjects(ctx context.Context) ([]model.Project, error) {
	value, ok, err := s.getSlot(ctx, projectsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Project{}, nil
	}

	var projects []model.Project
	if err := json.Unmarshal([]byte(value), &projects); err != nil {
		return []model.Project{}, nil
	}
	return projects, nil
}

// SaveNotifications persists the notification list snapshot (demo mode).
func (s *Store) SaveNotifications(ctx context.Context, notifications []model.Notification) error {
	payload, err := json.Marshal(notifications)
	if err != nil {
		return fmt.Errorf("marshaling notification snapshot: %w", err)
	}
	return s.setSlot(ctx, notificationsKey, payload)
}

// LoadNotifications reads the notification snapshot. Missing or corrupt
// data returns an empty list.
func (s *Store) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	value, ok, err := s.getSlot(ctx, notificationsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Notification{}, nil
	}

	var notifications []model.Notification
	if err := json.Unmarshal([]byte(value), &notifications); err != nil {
		return []model.Notification{}, nil
	}
	return notifications, nil
}

// SaveToday persists the daily checklist for one user and calendar date.
func (s *Store) SaveToday(ctx context.Context, userID, date string, items []model.TodayItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling today snapshot: %w", err)
	}
	return s.setSlot(ctx, todayKey(userID, date), payload)
}

// LoadToday reads the daily checklist for one user and calendar date.
// Missing or corrupt data returns an empty list.
func (s *Store) LoadToday(ctx context.Context, userID, date string) ([]model.TodayItem, error) {
	value, ok, err := s.getSlot(ctx, todayKey(userID, date))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.TodayItem{}, nil
	}

	var items []model.TodayItem
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		return []model.TodayItem{}, nil
	}
	return items, nil
}

// HasToday reports whether a namespaced today snapshot exists for the
// user and date, regardless of its contents.
func (s *Store) HasToday(ctx context.Context, userID, date string) (bool, error) {
	_, ok, err := s.getSlot(ctx, todayKey(userID, date))
	return ok, err
}

// LoadLegacyToday reads the pre-namespacing checklist slot for a date.
// Used only to migrate old data forward.
func (s *Store) LoadLegacyToday(ctx context.Context, date string) ([]model.TodayItem, bool, error) {
	value, ok, err := s.getSlot(ctx, legacyTodayKey(date))
	if err != nil || !ok {
		return nil, false, err
	}

	var items []model.TodayItem
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		return nil, false, nil
	}
	return items, true, nil
}

// SaveLegacyToday writes the pre-namespacing checklist slot. Old builds
// wrote this key; it stays writable so data from them can be staged for
// the forward migration.
func (s *Store) SaveLegacyToday(ctx context.Context, date string, items []model.TodayItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling today snapshot: %w", err)
	}
	return s.setSlot(ctx, legacyTodayKey(date), payload)
}

// DeleteLegacyToday removes the pre-namespacing checklist slot after a
// successful migration.
func (s *Store) DeleteLegacyToday(ctx context.Context, date string) error {
	return s.deleteSlot(ctx, legacyTodayKey(date))
}
