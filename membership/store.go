package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists group memberships.
type Store interface {
	// Add stores a new active membership. It fails with
	// ErrActiveMembershipExists if the principal is already an active
	// member of the group.
	Add(ctx context.Context, m *Membership) error

	// Deactivate marks the principal's active membership in the group as
	// inactive. Returns ErrMembershipNotFound if there is none.
	Deactivate(ctx context.Context, principalID, groupID string, at time.Time) error

	// FindActive returns the principal's active membership in the group.
	// Returns ErrMembershipNotFound if there is none.
	FindActive(ctx context.Context, principalID, groupID string) (*Membership, error)

	// ListActiveByPrincipal returns all active memberships of a principal.
	ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Membership, error)

	// ListActiveByGroup returns all active memberships of a group.
	ListActiveByGroup(ctx context.Context, groupID string) ([]*Membership, error)
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Membership
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Membership)}
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, m *Membership) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.IsActive {
		if existing := s.findActiveLocked(m.PrincipalID, m.GroupID); existing != nil {
			return fmt.Errorf("%s in %s: %w", m.PrincipalID, m.GroupID, ErrActiveMembershipExists)
		}
	}
	s.byID[m.ID] = m.Clone()
	return nil
}

// Deactivate implements Store.
func (s *MemoryStore) Deactivate(_ context.Context, principalID, groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findActiveLocked(principalID, groupID)
	if m == nil {
		return fmt.Errorf("%s in %s: %w", principalID, groupID, ErrMembershipNotFound)
	}
	m.IsActive = false
	left := at
	m.LeftAt = &left
	return nil
}

// FindActive implements Store.
func (s *MemoryStore) FindActive(_ context.Context, principalID, groupID string) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findActiveLocked(principalID, groupID)
	if m == nil {
		return nil, fmt.Errorf("%s in %s: %w", principalID, groupID, ErrMembershipNotFound)
	}
	return m.Clone(), nil
}

// ListActiveByPrincipal implements Store.
func (s *MemoryStore) ListActiveByPrincipal(_ context.Context, principalID string) ([]*Membership, error) {
	return s.list(func(m *Membership) bool { return m.PrincipalID == principalID }), nil
}

// ListActiveByGroup implements Store.
func (s *MemoryStore) ListActiveByGroup(_ context.Context, groupID string) ([]*Membership, error) {
	return s.list(func(m *Membership) bool { return m.GroupID == groupID }), nil
}

func (s *MemoryStore) list(match func(*Membership) bool) []*Membership {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Membership
	for _, m := range s.byID {
		if m.IsActive && match(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) findActiveLocked(principalID, groupID string) *Membership {
	for _, m := range s.byID {
		if m.IsActive && m.PrincipalID == principalID && m.GroupID == groupID {
			return m
		}
	}
	return nil
}
