package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/wafer/pkg/layout"
)

// EvalTimeout is the default limit for a single evaluation.
const EvalTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when an evaluation runs past the engine
	// timeout.
	ErrTimeout = errors.New("evaluation timed out")
	// ErrSuperseded is returned when a newer evaluation started before
	// this one finished.
	ErrSuperseded = errors.New("evaluation superseded by newer request")
)

type evalResult struct {
	lib    *layout.Library
	errors []EvalError
	err    error
}

// next starts a new generation and returns it.
func (e *Engine) next() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	return e.generation
}

func (e *Engine) current() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// wait blocks until ch delivers, the engine timeout passes or ctx is done.
// A result that arrives after a newer generation started is discarded.
//
// On timeout or cancellation the evaluating goroutine keeps running; its
// result is dropped into the buffered channel and never read.
func (e *Engine) wait(ctx context.Context, ch <-chan evalResult, gen uint64) (*layout.Library, []EvalError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if gen != e.current() {
			return nil, nil, ErrSuperseded
		}
		return res.lib, res.errors, res.err
	case <-timer.C:
		Logger().Warn("evaluation timed out", "timeout", e.timeout)
		return nil, nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
