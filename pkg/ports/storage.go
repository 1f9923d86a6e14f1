package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/dago-wrap/pkg/domain"
)

// ErrRunNotFound is returned by StateStorage when no state exists for a run
var ErrRunNotFound = errors.New("run not found")

// StateStorage persists run states
type StateStorage interface {
	SaveRun(ctx context.Context, state *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	DeleteRun(ctx context.Context, runID string) error
	Exists(ctx context.Context, runID string) (bool, error)
	SetTTL(ctx context.Context, runID string, ttl time.Duration) error
	ListRuns(ctx context.Context) ([]string, error)
}
