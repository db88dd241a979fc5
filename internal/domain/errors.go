package domain

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch is returned when extraction is attempted with no feature
// schema loaded (artifacts absent). Callers surface it as a structured
// "no models loaded" response rather than a transport failure.
var ErrSchemaMismatch = errors.New("no feature schema loaded")

// ErrInvalidRequest marks malformed input rejected at the transport boundary
// before the pipeline runs.
var ErrInvalidRequest = errors.New("invalid request")

// ArtifactLoadError reports a specific artifact file that was present but
// could not be loaded. It fails only that artifact; loading continues for the
// rest of the directory.
type ArtifactLoadError struct {
	Path string
	Name string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("artifact %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }
