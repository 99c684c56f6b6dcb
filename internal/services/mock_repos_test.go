package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// memStore is an in-memory NotificationStore with the same scoping rules as the Postgres one
type memStore struct {
	mu   sync.Mutex
	rows map[string]*models.Notification

	// mergeConflicts makes the next N MergeInto calls lose the race
	mergeConflicts int
	insertErr      error
	findErr        error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.Notification)}
}

func clone(n *models.Notification) *models.Notification {
	cp := *n
	if n.Metadata != nil {
		cp.Metadata = datatypes.JSONMap{}
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *memStore) FindMatching(_ context.Context, groupID string, since time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var best *models.Notification
	for _, n := range s.rows {
		if n.GroupID != groupID || n.Status != models.StatusUnread || n.CreatedAt.Before(since) {
			continue
		}
		if best == nil || n.CreatedAt.After(best.CreatedAt) {
			best = n
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (s *memStore) Insert(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.rows[n.ID] = clone(n)
	return nil
}

func (s *memStore) MergeInto(_ context.Context, id string, expectedCount int, metadata map[string]any, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeConflicts > 0 {
		s.mergeConflicts--
		return nil, repositories.ErrOptimisticLock
	}
	n, ok := s.rows[id]
	if !ok || n.Status != models.StatusUnread || n.GroupCount != expectedCount {
		return nil, repositories.ErrOptimisticLock
	}
	n.GroupCount = expectedCount + 1
	n.IsGrouped = true
	n.UpdatedAt = now
	if metadata != nil {
		n.Metadata = datatypes.JSONMap(metadata)
	}
	return clone(n), nil
}

func (s *memStore) FindByID(_ context.Context, id string, recipientID uint) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.RecipientID != recipientID || n.Status == models.StatusDeleted {
		return nil, repositories.ErrNotificationNotFound
	}
	return clone(n), nil
}

func (s *memStore) FindByIDUnscoped(_ context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, repositories.ErrNotificationNotFound
	}
	return clone(n), nil
}

func (s *memStore) Update(_ context.Context, id string, recipientID uint, p models.NotificationPatch, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.RecipientID != recipientID || n.Status == models.StatusDeleted {
		return nil, repositories.ErrNotificationNotFound
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.Priority != nil {
		n.Priority = *p.Priority
	}
	if p.Metadata != nil {
		n.Metadata = p.Metadata
	}
	if p.IsGrouped != nil {
		n.IsGrouped = *p.IsGrouped
	}
	if p.GroupCount != nil {
		n.GroupCount = *p.GroupCount
	}
	if p.ReadAt != nil {
		t := *p.ReadAt
		n.ReadAt = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		n.DeletedAt = &t
	}
	n.UpdatedAt = now
	return clone(n), nil
}

func (s *memStore) MarkAllRead(_ context.Context, recipientID uint, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, n := range s.rows {
		if n.RecipientID == recipientID && n.Status == models.StatusUnread {
			n.Status = models.StatusRead
			t := now
			n.ReadAt = &t
			affected++
		}
	}
	return affected, nil
}

func matches(f models.NotificationFilter, n *models.Notification) bool {
	if n.RecipientID != f.RecipientID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if n.Status == st {
				found = true
			}
		}
		if !found {
			return false
		}
	} else if !f.IncludeDeleted && n.Status == models.StatusDeleted {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.OnlyGrouped && !n.IsGrouped {
		return false
	}
	if f.CreatedFrom != nil && n.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedBefore != nil && !n.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (s *memStore) selectRows(f models.NotificationFilter) []*models.Notification {
	var out []*models.Notification
	for _, n := range s.rows {
		if matches(f, n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) Count(_ context.Context, f models.NotificationFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.selectRows(f))), nil
}

func (s *memStore) CountByType(_ context.Context, f models.NotificationFilter) (map[models.NotificationType]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.NotificationType]int64)
	for _, n := range s.selectRows(f) {
		out[n.Type]++
	}
	return out, nil
}

func (s *memStore) SumGroupCount(_ context.Context, f models.NotificationFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, n := range s.selectRows(f) {
		sum += int64(n.GroupCount)
	}
	return sum, nil
}

func (s *memStore) List(_ context.Context, f models.NotificationFilter, limit, offset int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.selectRows(f)
	if offset >= len(rows) {
		return []models.Notification{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]models.Notification, len(rows))
	for i, n := range rows {
		out[i] = *clone(n)
	}
	return out, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) all() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, *clone(n))
	}
	return out
}

// userDirectory knows a fixed set of user ids
type userDirectory struct {
	known map[uint]bool
	err   error
}

func knownUsers(ids ...uint) *userDirectory {
	d := &userDirectory{known: make(map[uint]bool)}
	for _, id := range ids {
		d.known[id] = true
	}
	return d
}

func (d *userDirectory) UserExists(_ context.Context, id uint) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.known[id], nil
}

type fakePresence struct {
	mu         sync.Mutex
	subscribed map[uint]bool
}

func newFakePresence(ids ...uint) *fakePresence {
	p := &fakePresence{subscribed: make(map[uint]bool)}
	for _, id := range ids {
		p.subscribed[id] = true
	}
	return p
}

func (p *fakePresence) IsSubscribed(_ context.Context, userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed[userID]
}

type push struct {
	event  string
	userID uint
	id     string
	count  int64
}

// recordingPusher captures every push in order
type recordingPusher struct {
	mu     sync.Mutex
	pushes []push
	err    error
}

func (r *recordingPusher) record(p push) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, p)
	return r.err
}

func (r *recordingPusher) PushNotification(_ context.Context, userID uint, n *models.Notification) error {
	return r.record(push{event: "notification", userID: userID, id: n.ID})
}

func (r *recordingPusher) PushUpdate(_ context.Context, userID uint, n *models.Notification) error {
	return r.record(push{event: "notificationUpdate", userID: userID, id: n.ID})
}

func (r *recordingPusher) PushUnreadCount(_ context.Context, userID uint, count int64) error {
	return r.record(push{event: "unreadCount", userID: userID, count: count})
}

func (r *recordingPusher) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.pushes))
	for i, p := range r.pushes {
		out[i] = p.event
	}
	return out
}

func (r *recordingPusher) last() push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes[len(r.pushes)-1]
}

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStoreDown = errors.New("store unavailable")
