package converter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/james-see/audio2midi/pkg/notes"
)

// ReadTensors decodes a tensor file: {"frames": [...], "onsets": [...], "contours": [...]}
func ReadTensors(r io.Reader) (*notes.Tensors, error) {
	var t notes.Tensors
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse tensors: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTensors reads a tensor file from disk
func LoadTensors(filename string) (*notes.Tensors, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor file: %w", err)
	}
	defer f.Close()
	return ReadTensors(bufio.NewReader(f))
}

// WriteTensors encodes tensors in the format ReadTensors accepts
func WriteTensors(w io.Writer, t *notes.Tensors) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("failed to write tensors: %w", err)
	}
	return nil
}

// SaveTensors writes a tensor file to disk
func SaveTensors(filename string, t *notes.Tensors) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create tensor file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteTensors(bw, t); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write tensors: %w", err)
	}
	return f.Close()
}
