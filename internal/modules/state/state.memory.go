package state

import (
	"context"
	"sync"

	"github.com/waqasmani/autopunch/internal/shared/domain"
)

type recordKey struct {
	accountID string
	kind      domain.Kind
	period    domain.Period
}

// MemoryStore keeps state for the lifetime of the process only.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[recordKey]domain.SubmissionRecord
	sessions map[string]domain.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[recordKey]domain.SubmissionRecord),
		sessions: make(map[string]domain.Session),
	}
}

func (s *MemoryStore) HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[recordKey{accountID, kind, period}]
	return ok, nil
}

func (s *MemoryStore) RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.AccountID, record.Kind, record.Period}
	if _, exists := s.records[key]; !exists {
		s.records[key] = record
	}
	return nil
}

// Records returns a copy of every stored record.
func (s *MemoryStore) Records() []domain.SubmissionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SubmissionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

func (s *MemoryStore) LoadSession(ctx context.Context, accountID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[accountID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, accountID string, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[accountID] = session
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, accountID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) Close() error { return nil }
