package script

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Environment variables passed to scripts run by ExecEngine.
const (
	EnvFrame       = "GOLOB_FRAME"
	EnvTotalFrames = "GOLOB_TOTAL_FRAMES"
	EnvScriptPath  = "GOLOB_SCRIPT_PATH"
	EnvParamPrefix = "GOLOB_PARAM_"
	EnvPhase       = "GOLOB_PHASE"
)

// Values of EnvPhase.
const (
	PhaseLoad   = "load"
	PhaseRender = "render"
)

// ParamDirective prefixes a stdout line printed during the load phase that
// declares a parameter. The rest of the line is a JSON object such as
// {"name":"strength","default":"0.5"}.
const ParamDirective = "golob:param "

const (
	// maxStderrTail bounds how much stderr is kept in an execution error.
	maxStderrTail = 4096

	// waitDelay bounds how long a cancelled subprocess may keep its output
	// pipes open.
	waitDelay = 500 * time.Millisecond

	// loadTimeout bounds the load phase.
	loadTimeout = 10 * time.Second
)

// ExecEngine runs each frame as an interpreter subprocess fed the script
// source with -c. Lines written to stdout are forwarded to Frame.Log.
//
// LoadScript runs the source once with GOLOB_PHASE=load. A non-zero exit
// fails the load, and stdout lines starting with ParamDirective declare
// parameters. Other load output is discarded.
type ExecEngine struct {
	interpreter string
	venv        string
	dir         string
	src         string
	path        string
	params      []ParamSpec
	loaded      bool
}

// NewExecFactory returns a factory for engines that use interpreter.
func NewExecFactory(interpreter string) Factory {
	return func() Engine {
		return &ExecEngine{interpreter: interpreter}
	}
}

// LoadScript runs the load phase of src and keeps it for rendering. Empty
// source is rejected. On failure the previously loaded script, if any, stays.
func (e *ExecEngine) LoadScript(src string, path string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("%w: empty script source", ErrScriptLoad)
	}
	dir := e.dir
	if dir == "" && path != "" {
		dir = filepath.Dir(path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	var (
		stdout []string
		stderr bytes.Buffer
	)
	lw := &lineWriter{emit: func(line string) { stdout = append(stdout, line) }}
	cmd := e.command(ctx, src, path, dir, PhaseLoad)
	cmd.Stdout = lw
	cmd.Stderr = &stderr

	err := cmd.Run()
	lw.flush()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: load timed out after %v", ErrScriptLoad, loadTimeout)
		}
		return fmt.Errorf("%w: %v: %s", ErrScriptLoad, err, tail(stderr.String()))
	}

	params, err := parseParams(stdout)
	if err != nil {
		return err
	}

	e.src = src
	e.path = path
	e.dir = dir
	e.params = params
	e.loaded = true
	return nil
}

// Params returns the parameters the loaded script declared.
func (e *ExecEngine) Params() []ParamSpec {
	return e.params
}

func parseParams(lines []string) ([]ParamSpec, error) {
	var (
		out  []ParamSpec
		seen = map[string]bool{}
	)
	for _, line := range lines {
		raw, ok := strings.CutPrefix(line, ParamDirective)
		if !ok {
			continue
		}
		var p ParamSpec
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("%w: parameter declaration %q: %v", ErrScriptLoad, raw, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter declaration %q has no name", ErrScriptLoad, raw)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: parameter %q declared twice", ErrScriptLoad, p.Name)
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}

// SetVenvPath makes the engine use the interpreter inside the venv.
func (e *ExecEngine) SetVenvPath(path string) {
	e.venv = path
}

// SetScriptParentDirectory sets the working directory of the subprocess.
func (e *ExecEngine) SetScriptParentDirectory(dir string) {
	e.dir = dir
}

// Interpreter returns the binary RenderFrame will execute.
func (e *ExecEngine) Interpreter() string {
	if e.venv == "" {
		return e.interpreter
	}
	bin := "bin"
	if runtime.GOOS == "windows" {
		bin = "Scripts"
	}
	return filepath.Join(e.venv, bin, filepath.Base(e.interpreter))
}

// RenderFrame runs the script once for frame.
func (e *ExecEngine) RenderFrame(ctx context.Context, frame Frame) error {
	if !e.loaded {
		return fmt.Errorf("%w: no script loaded", ErrScriptExecution)
	}

	cmd := e.command(ctx, e.src, e.path, e.dir, PhaseRender)
	cmd.Env = append(cmd.Env,
		EnvFrame+"="+strconv.Itoa(frame.Index),
		EnvTotalFrames+"="+strconv.Itoa(frame.Total),
	)
	for name, value := range frame.Params {
		cmd.Env = append(cmd.Env, ParamEnv(name)+"="+value)
	}

	var stderr bytes.Buffer
	stdout := &lineWriter{emit: frame.log}
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	stdout.flush()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: frame %d: %v: %s", ErrScriptExecution, frame.Index, err, tail(stderr.String()))
	}
	return nil
}

func (e *ExecEngine) command(ctx context.Context, src, path, dir, phase string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.Interpreter(), "-c", src)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(),
		EnvPhase+"="+phase,
		EnvScriptPath+"="+path,
	)
	if e.venv != "" {
		cmd.Env = append(cmd.Env, "VIRTUAL_ENV="+e.venv)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// ParamEnv returns the environment variable a parameter is exported as:
// GOLOB_PARAM_ followed by the upper-cased name with every character outside
// [A-Z0-9_] replaced by an underscore.
func ParamEnv(name string) string {
	return EnvParamPrefix + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	emit func(string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

// tail keeps the last maxStderrTail bytes of s, starting on a rune boundary.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrTail {
		return s
	}
	start := len(s) - maxStderrTail
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
