package collab

import (
	"context"
	"sync"

	"github.com/complyflow/policy-workflow/internal/application/port"
)

// MemorySubjectStore is an in-memory SubjectStore for standalone deployments
// where no external document platform is wired in. Unknown ids resolve to a
// placeholder subject with no category, so a standalone run can start
// workflows without seeding; Register scopes a subject to a category when the
// caller knows it.
type MemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[string]*port.Subject
	statuses map[string]string
}

// NewMemorySubjectStore creates an empty in-memory subject store
func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{
		subjects: make(map[string]*port.Subject),
		statuses: make(map[string]string),
	}
}

// Register adds or replaces a subject
func (s *MemorySubjectStore) Register(subject port.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.ID] = &subject
}

// GetSubject retrieves a registered subject by ID, or a placeholder with an
// empty category when the id was never registered
func (s *MemorySubjectStore) GetSubject(ctx context.Context, id string) (*port.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.subjects[id]; ok {
		copied := *subject
		return &copied, nil
	}
	return &port.Subject{ID: id}, nil
}

// SetSubjectStatus records the workflow status pushed back to the subject
func (s *MemorySubjectStore) SetSubjectStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

// SubjectStatus returns the last status pushed for a subject
func (s *MemorySubjectStore) SubjectStatus(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[id]
}

// Verify interface compliance
var _ port.SubjectStore = (*MemorySubjectStore)(nil)
