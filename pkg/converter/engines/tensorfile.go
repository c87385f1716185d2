package engines

import (
	"context"
	"errors"

	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/notes"
)

var _ converter.Engine = (*TensorFileEngine)(nil)

// TensorFileEngine replays tensors saved by an earlier run instead of running the model
type TensorFileEngine struct {
	Path string
}

// NewTensorFileEngine creates an engine reading path
func NewTensorFileEngine(path string) *TensorFileEngine {
	return &TensorFileEngine{Path: path}
}

// Name returns the engine name
func (e *TensorFileEngine) Name() string {
	return "tensors:" + e.Path
}

// Run ignores the samples and loads the saved tensors
func (e *TensorFileEngine) Run(ctx context.Context, _ []float32, progress converter.ProgressFunc) (*notes.Tensors, error) {
	if progress != nil {
		progress(0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := converter.LoadTensors(e.Path)
	if err != nil {
		return nil, NewProcessError("tensor-file", "output", 0, "", errors.Join(ErrInference, err))
	}
	if progress != nil {
		progress(1)
	}
	return t, nil
}
