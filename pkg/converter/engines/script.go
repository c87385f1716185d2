package engines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/audio"
	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/mathx"
	"github.com/james-see/audio2midi/pkg/notes"
)

// Script defaults
const (
	DefaultScript   = "infer.py"
	ProgressPrefix  = "progress "
	scriptToolLabel = "basic-pitch"
)

var _ converter.Engine = (*ScriptEngine)(nil)

// ScriptEngine runs the model in an external process. The script is invoked as
//
//	<python> <scripts>/<script> [--model <path>] <in.wav> <out.json>
//
// and prints "progress <fraction>" lines while it works.
type ScriptEngine struct {
	runner    *Runner
	script    string
	modelPath string
	logger    *log.Logger
}

// ScriptOption configures a ScriptEngine
type ScriptOption func(*ScriptEngine)

// WithScript overrides the script file name inside the scripts directory
func WithScript(name string) ScriptOption {
	return func(e *ScriptEngine) { e.script = name }
}

// WithModel passes a model path to the script
func WithModel(path string) ScriptOption {
	return func(e *ScriptEngine) { e.modelPath = path }
}

// WithLogger sets the logger. Without one the engine logs to the logger carried by the
// Run context.
func WithLogger(l *log.Logger) ScriptOption {
	return func(e *ScriptEngine) { e.logger = l }
}

// NewScriptEngine creates an engine driving the model script through runner
func NewScriptEngine(runner *Runner, opts ...ScriptOption) *ScriptEngine {
	e := &ScriptEngine{runner: runner, script: DefaultScript}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name
func (e *ScriptEngine) Name() string {
	return "script:" + e.script
}

// Check verifies the interpreter can load the model package
func (e *ScriptEngine) Check(ctx context.Context) error {
	return e.runner.CheckPythonDependency(ctx, "basic_pitch")
}

// Run hands the samples to the script and loads the tensors it writes
func (e *ScriptEngine) Run(ctx context.Context, samples []float32, progress converter.ProgressFunc) (*notes.Tensors, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	logger := e.logger
	if logger == nil {
		logger = log.FromContext(ctx)
	}

	dir, err := os.MkdirTemp("", "audio2midi-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.wav")
	out := filepath.Join(dir, "tensors.json")
	if err := audio.WriteWAVFile(in, audio.NewSampleBuffer(samples, notes.SampleRate)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	args := []string{}
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}
	args = append(args, in, out)

	logger.Debug("starting model process", "python", e.runner.PythonPath, "script", e.script)
	progress(0)
	result, err := e.runner.RunScript(ctx, e.script, func(line string) {
		if f, ok := parseProgress(line); ok {
			progress(f)
		}
	}, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrToolNotInstalled) {
			return nil, NewProcessError(e.runner.PythonPath, "model_load", -1, "", errors.Join(ErrModelLoad, err))
		}
		if result.ExitCode == ExitModelLoad {
			return nil, NewProcessError(scriptToolLabel, "model_load", result.ExitCode, result.Stderr, ErrModelLoad)
		}
		return nil, NewProcessError(scriptToolLabel, "inference", result.ExitCode, result.Stderr, ErrInference)
	}
	logger.Debug("model process finished", "duration", result.Duration)

	tensors, err := converter.LoadTensors(out)
	if err != nil {
		return nil, NewProcessError(scriptToolLabel, "output", 0, err.Error(), ErrInference)
	}
	progress(1)
	return tensors, nil
}

func parseProgress(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), ProgressPrefix)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return mathx.Clamp(f, 0, 1), true
}
