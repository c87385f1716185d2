package recompute

import (
	"github.com/james-see/audio2midi/pkg/notes"
)

// Request asks the decode worker to decode Tensors with Params. Seq totally orders requests.
type Request struct {
	Seq     uint64
	Tensors *notes.Tensors
	Params  notes.DecodingParameters
}

// Result is the worker's reply to the Request with the same Seq
type Result struct {
	Seq   uint64
	Notes []notes.NoteEvent
	Err   error
}

// mailbox messages, handled one at a time by the controller loop
type (
	inferenceComplete struct{ tensors *notes.Tensors }
	parametersChanged struct{ params notes.DecodingParameters }
	tempoChanged      struct{ bpm float64 }
	debounceFired     struct{}
	invalidateSource  struct{}
)
