package pipeline

import (
	"errors"
	"fmt"
)

// MalformedFilenameError reports a file name that does not follow
// "<location> <timestamp> ...". No record is created for such files.
type MalformedFilenameError struct {
	Filename string
	Reason   string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed filename %q: %s", e.Filename, e.Reason)
}

// EngineError wraps a detection engine failure.
type EngineError struct {
	Frame int // -1 when the session could not be created
	Err   error
}

func (e *EngineError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("detection engine: %v", e.Err)
	}
	return fmt.Sprintf("detection engine at frame %d: %v", e.Frame, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

var errStatusGone = errors.New("video status missing or already final")

// SourceError reports that the frame source could not be opened, for example
// because ffprobe is missing. The job is retried and the status is left as is.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return fmt.Sprintf("open frame source: %v", e.Err) }

func (e *SourceError) Unwrap() error { return e.Err }
