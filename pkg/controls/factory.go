package controls

import (
	"fmt"
	"time"

	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"go.uber.org/zap"
)

// Factory builds the controls declared in manifests
type Factory struct {
	redis         RedisReader
	completer     Completer
	scriptTimeout time.Duration
	logger        *zap.Logger
}

// NewFactory creates a factory. redis and completer may be nil when no
// manifest declares redis or llm controls.
func NewFactory(redis RedisReader, completer Completer, scriptTimeout time.Duration, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		redis:         redis,
		completer:     completer,
		scriptTimeout: scriptTimeout,
		logger:        logger,
	}
}

// New creates the control declared by c
func (f *Factory) New(c manifest.Control) (wrap.Loadable, error) {
	var (
		unit interface {
			wrap.Loadable
			SetID(string)
			SetPlace(string)
			SetEditable(bool)
		}
		err error
	)

	switch c.Type {
	case manifest.TypeStatic:
		unit = NewStatic(c.Value)
	case manifest.TypeContainer:
		unit = NewContainer(c.ID, c.Value)
	case manifest.TypeScript:
		unit, err = NewScript(c.Script, f.scriptTimeout)
	case manifest.TypeRedis:
		if f.redis == nil {
			return nil, fmt.Errorf("redis control %q: no redis client configured", c.Key)
		}
		unit = NewRedisValue(f.redis, c.RedisKey, c.Hash)
	case manifest.TypeLLM:
		if f.completer == nil {
			return nil, fmt.Errorf("llm control %q: no completer configured", c.Key)
		}
		unit, err = NewCompletion(f.completer, c.Prompt, c.Model, c.MaxTokens)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownControlType, c.Type)
	}
	if err != nil {
		return nil, err
	}

	if c.ID != "" {
		unit.SetID(c.ID)
	}
	if c.Place != "" {
		unit.SetPlace(c.Place)
	}
	if c.Editable {
		unit.SetEditable(true)
	}

	f.logger.Debug("control created",
		zap.String("key", c.Key),
		zap.String("type", c.Type))
	return unit, nil
}
