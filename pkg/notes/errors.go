package notes

import "errors"

// Decoder failures. Decode has no other failure modes.
var (
	ErrInvalidParameters = errors.New("invalid decoding parameters")
	ErrEmptyInput        = errors.New("empty model output")
	ErrShapeMismatch     = errors.New("model output has unexpected shape")
)
