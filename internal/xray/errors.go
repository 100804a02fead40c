package xray

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable reports that no trained artifact exists. HTTP requests
// fall back to demo mode instead; callers that need a real model (heatmap
// generation) surface it directly.
var ErrModelUnavailable = errors.New("xray: model artifact unavailable")

// DecodeError wraps a failure to read or decode an input image. Unlike
// explainability failures it is fatal to the calling request.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("xray: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
