package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/james-see/audio2midi/pkg/audio"
	"github.com/james-see/audio2midi/pkg/notes"
)

// Format represents a file format
type Format string

const (
	FormatMIDI    Format = "midi"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatTensors Format = "tensors"
	FormatUnknown Format = "unknown"
)

// ErrNoEngine is returned when audio needs transcribing but no engine is configured
var ErrNoEngine = errors.New("no inference engine configured")

// DetectFormat detects the format of a file based on extension
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mid", ".midi":
		return FormatMIDI
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".json":
		return FormatTensors
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	// Check for MIDI file signature "MThd"
	if string(data[:4]) == "MThd" {
		return FormatMIDI
	}

	switch audio.DetectFormat(data) {
	case audio.FormatWAV:
		return FormatWAV
	case audio.FormatMP3:
		return FormatMP3
	}

	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatTensors
	}
	return FormatUnknown
}

// IsAudio reports whether the format needs the inference engine
func (f Format) IsAudio() bool {
	return f == FormatWAV || f == FormatMP3
}

// Transcribe runs the whole pipeline on encoded audio: decode, inference, note decoding, MIDI
func (c *Converter) Transcribe(ctx context.Context, raw []byte, params notes.DecodingParameters, bpm float64, progress ProgressFunc) (*ConversionResult, error) {
	if c.engine == nil {
		return nil, ErrNoEngine
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	buf, err := audio.DecodeContext(ctx, raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("decoded audio", "seconds", buf.DurationSeconds, "samples", len(buf.ChannelData))

	if progress == nil {
		progress = func(float64) {}
	}
	tensors, err := c.engine.Run(log.WithContext(ctx, c.logger), buf.ChannelData, progress)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.engine.Name(), err)
	}
	c.logger.Debug("inference complete", "engine", c.engine.Name(), "frames", tensors.Len())

	return c.DecodeTensors(tensors, params, bpm)
}

// DecodeTensors skips inference and decodes cached model output
func (c *Converter) DecodeTensors(tensors *notes.Tensors, params notes.DecodingParameters, bpm float64) (*ConversionResult, error) {
	events, err := notes.Decode(tensors, params)
	if err != nil {
		return nil, err
	}
	data, err := c.midi.GenerateMIDI(events, bpm)
	if err != nil {
		return nil, err
	}
	c.logger.Info("decoded notes", "notes", len(events), "bytes", len(data))
	return &ConversionResult{
		Data:    data,
		Format:  FormatMIDI,
		Notes:   events,
		Tensors: tensors,
	}, nil
}

// ConvertFile converts an audio or tensor file into a MIDI file
func (c *Converter) ConvertFile(ctx context.Context, inputPath, outputPath string, params notes.DecodingParameters, bpm float64, progress ProgressFunc) (*ConversionResult, error) {
	if DetectFormat(outputPath) != FormatMIDI {
		return nil, errors.New("output file must have a .mid or .midi extension")
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	inputFormat := DetectFormat(inputPath)
	if inputFormat == FormatUnknown {
		inputFormat = DetectFormatFromContent(data)
	}

	var result *ConversionResult
	switch {
	case inputFormat.IsAudio():
		result, err = c.Transcribe(ctx, data, params, bpm, progress)
	case inputFormat == FormatTensors:
		var tensors *notes.Tensors
		tensors, err = ReadTensors(bytes.NewReader(data))
		if err == nil {
			result, err = c.DecodeTensors(tensors, params, bpm)
		}
	default:
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, inputFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("conversion failed: %w", err)
	}

	if err := os.WriteFile(outputPath, result.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write output file: %w", err)
	}
	result.Filename = outputPath
	return result, nil
}

// GetSupportedConversions returns a list of supported conversion paths
func GetSupportedConversions() []string {
	return []string{
		"wav -> midi",
		"mp3 -> midi",
		"tensors -> midi",
		"midi -> notes",
	}
}
