package script

import (
	"context"
	"errors"
)

// Script engine errors.
var (
	ErrScriptLoad      = errors.New("script load error")
	ErrScriptExecution = errors.New("script execution error")
)

// Engine executes one loaded script. An Engine is owned by a single
// goroutine at a time: the host loads it on the main thread, and each
// background job builds its own.
type Engine interface {
	// LoadScript compiles or validates src. path is the file the source came
	// from and may be empty.
	LoadScript(src string, path string) error

	// SetVenvPath selects the environment the script runs in.
	SetVenvPath(path string)

	// SetScriptParentDirectory sets the directory relative imports resolve
	// against.
	SetScriptParentDirectory(dir string)

	// RenderFrame executes the script for one frame. The context is
	// cancelled when the job is cancelled.
	RenderFrame(ctx context.Context, frame Frame) error
}

// Frame describes the frame a script is asked to render.
type Frame struct {
	// Index is zero based.
	Index int
	Total int

	// Params holds the script's parameter values by name. May be nil.
	Params map[string]string

	// Log receives lines the script prints. May be nil.
	Log func(line string)
}

func (f Frame) log(line string) {
	if f.Log != nil {
		f.Log(line)
	}
}

// ParamSpec is a parameter a loaded script asks the host to show.
type ParamSpec struct {
	Name    string `json:"name"`
	Default string `json:"default"`
}

// ParamLister is implemented by engines whose scripts declare parameters.
// Params is only meaningful after a successful LoadScript.
type ParamLister interface {
	Params() []ParamSpec
}

// Factory builds a fresh engine.
type Factory func() Engine

// Setup describes how to prepare a new engine for an instance.
type Setup struct {
	Src       string
	Path      string
	VenvPath  string
	ParentDir string
	Params    map[string]string
}

// Prepare applies s to e in the order the host does on resetup: venv, parent
// directory, then load.
func Prepare(e Engine, s Setup) error {
	if s.VenvPath != "" {
		e.SetVenvPath(s.VenvPath)
	}
	if s.ParentDir != "" {
		e.SetScriptParentDirectory(s.ParentDir)
	}
	return e.LoadScript(s.Src, s.Path)
}
