// Package converter turns audio and model output into MIDI files
package converter

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
)

// ProgressFunc receives inference progress in [0,1]
type ProgressFunc func(fraction float64)

// Engine runs the pitch detection model over mono samples at notes.SampleRate.
// Tensors are returned only once the whole buffer has been consumed.
type Engine interface {
	Name() string
	Run(ctx context.Context, samples []float32, progress ProgressFunc) (*notes.Tensors, error)
}

// ConversionResult holds the result of a conversion
type ConversionResult struct {
	Data     []byte
	Filename string
	Format   Format
	Notes    []notes.NoteEvent
	Tensors  *notes.Tensors
}

// Converter handles format conversions
type Converter struct {
	engine Engine
	midi   *MIDIConverter
	logger *log.Logger
}

// New creates a new Converter running the given engine
func New(engine Engine) *Converter {
	return &Converter{
		engine: engine,
		midi:   NewMIDIConverter(),
		logger: logging.OrDefault(nil),
	}
}

// GetEngine returns the current engine
func (c *Converter) GetEngine() Engine {
	return c.engine
}

// SetEngine sets the engine used for transcription
func (c *Converter) SetEngine(engine Engine) {
	c.engine = engine
}

// SetLogger replaces the logger
func (c *Converter) SetLogger(l *log.Logger) {
	c.logger = logging.OrDefault(l)
}

// MIDI returns the MIDI encoder used for output
func (c *Converter) MIDI() *MIDIConverter {
	return c.midi
}
