package record

import "fmt"

// InputFormatError marks raw input that is not a recognizable mapping. It is
// not recoverable locally and is surfaced to the caller.
type InputFormatError struct {
	Reason string
}

func (e *InputFormatError) Error() string {
	return fmt.Sprintf("input format: %s", e.Reason)
}
