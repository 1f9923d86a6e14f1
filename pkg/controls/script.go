package controls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dago-wrap/pkg/wrap"
	"github.com/dop251/goja"
)

// ErrScriptInterrupted is returned when a script is stopped because its
// context ended
var ErrScriptInterrupted = errors.New("script interrupted")

// Script evaluates a JavaScript expression. The accumulator is exposed to
// the script as the global "content" and the exported value of the last
// statement is the result.
type Script struct {
	Base
	source  string
	program *goja.Program
	timeout time.Duration
}

// NewScript compiles source. A zero timeout leaves the script bounded only
// by the load context.
func NewScript(source string, timeout time.Duration) (*Script, error) {
	program, err := goja.Compile("control", source, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return &Script{source: source, program: program, timeout: timeout}, nil
}

// Source returns the script source
func (s *Script) Source() string {
	return s.source
}

// Load evaluates the script against a snapshot of the accumulator
func (s *Script) Load(ctx context.Context, content *wrap.Content) (result interface{}, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// goja runtimes are not safe for concurrent use, one per load
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	snapshot := map[string]interface{}{}
	if content != nil {
		snapshot = content.Snapshot()
	}
	if err := vm.Set("content", snapshot); err != nil {
		return nil, fmt.Errorf("failed to set content: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunProgram(s.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrScriptInterrupted, ctx.Err())
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
