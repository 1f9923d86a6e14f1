package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/ports"
)

type entry struct {
	state     *domain.RunState
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryStateStorage implements StateStorage with a map. Expired runs are
// dropped lazily on access.
type InMemoryStateStorage struct {
	runs map[string]entry
	ttl  time.Duration
	now  func() time.Time
	mu   sync.RWMutex
}

// NewInMemoryStateStorage creates a new in-memory state storage. A zero ttl
// keeps runs forever.
func NewInMemoryStateStorage(ttl time.Duration) *InMemoryStateStorage {
	return &InMemoryStateStorage{
		runs: make(map[string]entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SaveRun stores a copy of state and resets its TTL
func (s *InMemoryStateStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("invalid run state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{state: state.Clone()}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.runs[state.RunID] = e
	return nil
}

// GetRun returns a copy of the stored state
func (s *InMemoryStateStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, fmt.Errorf("%w: %s", ports.ErrRunNotFound, runID)
	}
	return e.state.Clone(), nil
}

// DeleteRun removes a run
func (s *InMemoryStateStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// Exists checks if a run is stored
func (s *InMemoryStateStorage) Exists(ctx context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[runID]
	return ok && !e.expired(s.now()), nil
}

// SetTTL sets a time-to-live for one run
func (s *InMemoryStateStorage) SetTTL(ctx context.Context, runID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrRunNotFound, runID)
	}
	e.expiresAt = s.now().Add(ttl)
	s.runs[runID] = e
	return nil
}

// ListRuns returns the ids of every live run, sorted
func (s *InMemoryStateStorage) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	runIDs := make([]string, 0, len(s.runs))
	for id, e := range s.runs {
		if e.expired(now) {
			delete(s.runs, id)
			continue
		}
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)

	return runIDs, nil
}
