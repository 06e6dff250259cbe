package script

import (
	"context"
	"fmt"
)

// FrameFunc renders one frame in process.
type FrameFunc func(ctx context.Context, frame Frame) error

// FuncEngine runs a Go function per frame. It backs the test server and
// tests, where no interpreter is available.
type FuncEngine struct {
	render FrameFunc
	load   func(src string) error
	params []ParamSpec

	Src       string
	Path      string
	VenvPath  string
	ParentDir string
}

// FuncOption configures a FuncEngine.
type FuncOption func(*FuncEngine)

// WithLoadCheck sets a validation run by LoadScript.
func WithLoadCheck(fn func(src string) error) FuncOption {
	return func(e *FuncEngine) {
		e.load = fn
	}
}

// WithParams sets the parameters reported once a script is loaded.
func WithParams(params ...ParamSpec) FuncOption {
	return func(e *FuncEngine) {
		e.params = params
	}
}

// NewFuncEngine creates an engine that calls render for each frame.
func NewFuncEngine(render FrameFunc, opts ...FuncOption) *FuncEngine {
	e := &FuncEngine{render: render}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFuncFactory returns a factory producing FuncEngines sharing render.
func NewFuncFactory(render FrameFunc, opts ...FuncOption) Factory {
	return func() Engine {
		return NewFuncEngine(render, opts...)
	}
}

// LoadScript records src after running the optional load check.
func (e *FuncEngine) LoadScript(src string, path string) error {
	if e.load != nil {
		if err := e.load(src); err != nil {
			return fmt.Errorf("%w: %v", ErrScriptLoad, err)
		}
	}
	e.Src = src
	e.Path = path
	return nil
}

// Params returns the declared parameters, or nil before a script is loaded.
func (e *FuncEngine) Params() []ParamSpec {
	if e.Src == "" {
		return nil
	}
	return append([]ParamSpec(nil), e.params...)
}

// SetVenvPath records path.
func (e *FuncEngine) SetVenvPath(path string) { e.VenvPath = path }

// SetScriptParentDirectory records dir.
func (e *FuncEngine) SetScriptParentDirectory(dir string) { e.ParentDir = dir }

// RenderFrame calls the render function, wrapping its error as an execution
// error.
func (e *FuncEngine) RenderFrame(ctx context.Context, frame Frame) error {
	if e.render == nil {
		return nil
	}
	if err := e.render(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: frame %d: %v", ErrScriptExecution, frame.Index, err)
	}
	return nil
}
