// Package memory implements store.ConversationStore in process memory.
// Used by tests and as a fallback when no database is configured; semantics
// mirror the SQL store, including compare-and-set behavior.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	links map[string]*store.ConversationLink
}

func New() *Store {
	return &Store{links: make(map[string]*store.ConversationLink)}
}

// snapshot returns a defensive copy so callers never share mutable state
// with the store.
func snapshot(l *store.ConversationLink) *store.ConversationLink {
	cp := *l
	cp.Labels = slices.Clone(l.Labels)
	if l.CustomAttributes != nil {
		cp.CustomAttributes = maps.Clone(l.CustomAttributes)
	}
	return &cp
}

func (s *Store) GetOrCreate(_ context.Context, inboxID string) (*store.ConversationLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.links[inboxID]; ok {
		return snapshot(l), nil
	}
	now := time.Now().UTC()
	l := &store.ConversationLink{
		ID:                  store.GenNewID(),
		InboxConversationID: inboxID,
		Status:              store.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.links[inboxID] = l
	return snapshot(l), nil
}

func (s *Store) Get(_ context.Context, inboxID string) (*store.ConversationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[inboxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return snapshot(l), nil
}

func (s *Store) ApplyEventSeq(_ context.Context, inboxID string, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[inboxID]
	if !ok {
		return false, store.ErrNotFound
	}
	if seq <= l.LastEventSeq {
		return false, nil
	}
	l.LastEventSeq = seq
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) TransitionStatus(_ context.Context, inboxID string, to store.Status, from ...store.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[inboxID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !slices.Contains(from, l.Status) {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) SetStatus(_ context.Context, inboxID string, status store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[inboxID]
	if !ok {
		return store.ErrNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) BindSessionRef(_ context.Context, inboxID, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[inboxID]
	if !ok {
		return false, store.ErrNotFound
	}
	if l.AISessionRef != "" {
		return false, nil
	}
	l.AISessionRef = ref
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) SetAssignedTeam(_ context.Context, inboxID, team string) error {
	return s.update(inboxID, func(l *store.ConversationLink) { l.AssignedTeam = team })
}

func (s *Store) SetPriority(_ context.Context, inboxID, priority string) error {
	return s.update(inboxID, func(l *store.ConversationLink) { l.Priority = priority })
}

func (s *Store) SetLabels(_ context.Context, inboxID string, labels []string) error {
	return s.update(inboxID, func(l *store.ConversationLink) { l.Labels = slices.Clone(labels) })
}

func (s *Store) SetCustomAttributes(_ context.Context, inboxID string, attrs map[string]any) error {
	return s.update(inboxID, func(l *store.ConversationLink) { l.CustomAttributes = maps.Clone(attrs) })
}

func (s *Store) update(inboxID string, fn func(*store.ConversationLink)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[inboxID]
	if !ok {
		return store.ErrNotFound
	}
	fn(l)
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) List(_ context.Context, opts store.ListOpts) (store.ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []store.ConversationLink
	for _, l := range s.links {
		if opts.Status != "" && l.Status != opts.Status {
			continue
		}
		all = append(all, *snapshot(l))
	}
	slices.SortFunc(all, func(a, b store.ConversationLink) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(all)
	offset := min(opts.Offset, total)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	end := min(offset+limit, total)
	return store.ListResult{Links: all[offset:end], Total: total}, nil
}

func (s *Store) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	released := 0
	for _, l := range s.links {
		if l.Status == store.StatusProcessing && l.UpdatedAt.Before(cutoff) {
			l.Status = store.StatusPending
			l.UpdatedAt = time.Now().UTC()
			released++
		}
	}
	return released, nil
}
