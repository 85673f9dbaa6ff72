package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the location does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmpty means the location exists but holds no data at all.
	ErrEmpty = errors.New("empty")
	// ErrUnsupportedFormat means no connector handles the location.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// LoadError is returned by every connector when a dataset cannot be loaded.
type LoadError struct {
	Location string
	Reason   string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load %s: %s", e.Location, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

func notFound(location string) *LoadError {
	return &LoadError{Location: location, Reason: "file not found", Err: ErrNotFound}
}

func empty(location string) *LoadError {
	return &LoadError{Location: location, Reason: "file is empty", Err: ErrEmpty}
}

func loadFailed(location string, err error) *LoadError {
	return &LoadError{Location: location, Reason: err.Error(), Err: err}
}
