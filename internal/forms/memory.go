package forms

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lexintake.org/internal/auth"
)

// Store persists submissions. Update applies only if the stored version equals
// expectedVersion, otherwise auth.ErrConflict.
type Store interface {
	Create(ctx context.Context, s Submission) (Submission, error)
	Get(ctx context.Context, id string) (Submission, error)
	List(ctx context.Context, f Filter) ([]Submission, error)
	Update(ctx context.Context, s Submission, expectedVersion int) (Submission, error)
	Delete(ctx context.Context, id string) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	subs map[string]Submission
	now  func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		subs: make(map[string]Submission),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemory) Create(_ context.Context, s Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; ok {
		return Submission{}, fmt.Errorf("%w: submission id exists", auth.ErrConflict)
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Payload = bytes.Clone(s.Payload)
	m.subs[s.ID] = s
	return copySubmission(s), nil
}

func (m *InMemory) Get(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return Submission{}, auth.ErrNotFound
	}
	return copySubmission(s), nil
}

func (m *InMemory) List(_ context.Context, f Filter) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Submission{}
	for _, s := range m.subs {
		if f.match(s) {
			out = append(out, copySubmission(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *InMemory) Update(_ context.Context, s Submission, expectedVersion int) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[s.ID]
	if !ok {
		return Submission{}, auth.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return Submission{}, fmt.Errorf("%w: version is %d, expected %d", auth.ErrConflict, cur.Version, expectedVersion)
	}
	if s.FirmID != cur.FirmID {
		return Submission{}, fmt.Errorf("%w: firm reference is immutable", auth.ErrInvalidInput)
	}
	s.CreatedAt = cur.CreatedAt
	s.UpdatedAt = m.now()
	s.Payload = bytes.Clone(s.Payload)
	m.subs[s.ID] = s
	return copySubmission(s), nil
}

func (m *InMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func copySubmission(s Submission) Submission {
	s.Payload = bytes.Clone(s.Payload)
	if s.SubmittedAt != nil {
		at := *s.SubmittedAt
		s.SubmittedAt = &at
	}
	return s
}
