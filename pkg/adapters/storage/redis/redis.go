package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "wrap:run:"

// StateStorage implements StateStorage using Redis, one JSON document per run
type StateStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStateStorage creates a new Redis state storage
func NewStateStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StateStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun stores the run state with the configured TTL
func (s *StateStorage) SaveRun(ctx context.Context, state *domain.RunState) error {
	if state == nil || state.RunID == "" {
		return errors.New("invalid run state")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := s.client.Set(ctx, runKey(state.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	s.logger.Debug("run state saved",
		zap.String("run_id", state.RunID),
		zap.String("wrap", state.Wrap),
		zap.String("status", string(state.Status)))

	return nil
}

// GetRun loads a run state
func (s *StateStorage) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// DeleteRun removes a run state
func (s *StateStorage) DeleteRun(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, runKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}

	s.logger.Debug("run state deleted", zap.String("run_id", runID))
	return nil
}

// Exists checks if a run state is stored
func (s *StateStorage) Exists(ctx context.Context, runID string) (bool, error) {
	result, err := s.client.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return result > 0, nil
}

// SetTTL sets a time-to-live for one run state
func (s *StateStorage) SetTTL(ctx context.Context, runID string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, runKey(runID), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set TTL: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrRunNotFound, runID)
	}

	return nil
}

// ListRuns returns the ids of every stored run
func (s *StateStorage) ListRuns(ctx context.Context) ([]string, error) {
	var runIDs []string

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		runIDs = append(runIDs, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return runIDs, nil
}

// runKey returns the Redis key for a run state
func runKey(runID string) string {
	return keyPrefix + runID
}
