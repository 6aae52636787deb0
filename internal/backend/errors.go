package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable means no real backend can serve requests right now.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrFallbackWorthy marks failures of the inference stack itself (models,
	// runtimes, accelerators) that the emergency generator can cover for.
	ErrFallbackWorthy = errors.New("inference stack failure")
)

// fallbackKeywords identify inference stack failures in error text.
var fallbackKeywords = []string{
	"model",
	"onnx",
	"torch",
	"cuda",
	"directml",
	"qnn",
	"acceleration",
	"gpu",
	"npu",
	"hardware",
}

// IsFallbackWorthy reports whether err indicates a failure the emergency
// generator should absorb.
func IsFallbackWorthy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFallbackWorthy) || errors.Is(err, ErrUnavailable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range fallbackKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// WrapFallbackWorthy wraps inference stack failures with ErrFallbackWorthy.
// Other errors are returned unchanged.
func WrapFallbackWorthy(err error) error {
	if err == nil || errors.Is(err, ErrFallbackWorthy) || !IsFallbackWorthy(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFallbackWorthy, err)
}
