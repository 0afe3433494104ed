package passport

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload is returned when an import body is not decodable JSON.
	ErrInvalidPayload = errors.New("invalid JSON payload")
	// ErrUnsupportedFormat is returned for an export format other than json or xml.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrSerialization is returned when a bundle cannot be rendered.
	ErrSerialization = errors.New("serialization failed")
)

// ValidationError carries the ordered error descriptions of a rejected
// import together with the stage that produced them.
type ValidationError struct {
	Stage  string
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s validation failed: %s", e.Stage, e.Errors[0])
	}
	return fmt.Sprintf("%s validation failed with %d errors", e.Stage, len(e.Errors))
}
