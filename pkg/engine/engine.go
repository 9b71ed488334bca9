// Package engine provides the Lisp evaluation engine for wafer layout
// scripts. It wraps zygomys in a sandboxed environment and produces a
// layout.Library from user source code.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/wafer/pkg/layout"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning is a non-fatal finding about the evaluated library.
type EvalWarning struct {
	Line    int
	Col     int
	Message string
	Cell    string
}

func (w EvalWarning) String() string {
	if w.Cell != "" {
		return w.Cell + ": " + w.Message
	}
	return w.Message
}

// EvalResult bundles the full output of an evaluation, validation included.
type EvalResult struct {
	Library  *layout.Library
	Errors   []EvalError
	Warnings []EvalWarning
}

// OK reports whether the evaluation produced a usable library.
func (r EvalResult) OK() bool {
	return r.Library != nil && len(r.Errors) == 0
}

// Engine wraps the zygomys interpreter. It is safe for concurrent use; each
// call to Evaluate creates a fresh sandboxed environment for determinism.
type Engine struct {
	mu         sync.Mutex
	generation uint64
	timeout    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout replaces EvalTimeout as the limit for one evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine creates a new Engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{timeout: EvalTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs layout source and returns the library of cells it defined.
//
// Return semantics:
//   - On success: returns library + nil errors + nil error
//   - On parse/eval failure: returns nil library + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*layout.Library, []EvalError, error) {
	return e.EvaluateContext(context.Background(), source)
}

// EvaluateContext is Evaluate that also gives up when ctx is done,
// returning ctx.Err().
func (e *Engine) EvaluateContext(ctx context.Context, source string) (*layout.Library, []EvalError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	gen := e.next()
	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		lib, evalErrs, err := e.evaluate(source)
		ch <- evalResult{lib: lib, errors: evalErrs, err: err}
	}()

	return e.wait(ctx, ch, gen)
}

// Check evaluates source and validates the resulting library. Fatal
// failures are reported as errors in the result.
func (e *Engine) Check(source string) EvalResult {
	return e.CheckContext(context.Background(), source)
}

// CheckContext is Check with cancellation.
func (e *Engine) CheckContext(ctx context.Context, source string) EvalResult {
	res := EvalResult{}
	lib, evalErrs, err := e.EvaluateContext(ctx, source)
	if err != nil {
		res.Errors = append(res.Errors, EvalError{Message: err.Error()})
		return res
	}
	if len(evalErrs) > 0 {
		res.Errors = evalErrs
		return res
	}
	res.Library = lib

	v := layout.ValidateAll(lib)
	for _, f := range v.Errors {
		res.Errors = append(res.Errors, EvalError{Message: f.Error()})
	}
	for _, f := range v.Warnings {
		res.Warnings = append(res.Warnings, EvalWarning{Message: f.Message, Cell: f.Cell})
	}
	return res
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(source string) (*layout.Library, []EvalError, error) {
	lib := layout.NewLibrary()

	// Empty source is a valid program that produces an empty library.
	if strings.TrimSpace(source) == "" {
		return lib, nil, nil
	}

	// Sandbox mode keeps user code away from the filesystem and syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, lib)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	Logger().Debug("evaluated layout source", "cells", lib.Len())
	return lib, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}

	// Fallback: no line info available.
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
