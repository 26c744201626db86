package baker

import (
	"errors"
	"fmt"
)

// Converter error codes, used as process exit codes.
const (
	CodeUnhandled        = 1
	CodeMissingMtlx      = 2
	CodeUnrecognized     = 3
	CodeNoMaterial       = 4
	CodeTooManyMaterials = 5
	CodeSurface          = 6
	CodeDisplacement     = 7
	CodeBadDestination   = 8
	CodeMissingLibrary   = 9

	// ExitInterrupted is the exit code of an interrupted converter (-2).
	ExitInterrupted = 254
	// exitInterruptedLegacy is also accepted from external converters.
	exitInterruptedLegacy = 255
)

var codeMessages = map[int]string{
	CodeUnhandled:        "Unhandled exception",
	CodeMissingMtlx:      "Missing mtlx file",
	CodeUnrecognized:     "Unrecognized input format",
	CodeNoMaterial:       "No material in file",
	CodeTooManyMaterials: "Too many materials in file",
	CodeSurface:          "Translation error for surface shader",
	CodeDisplacement:     "Translation error for displacement shader",
	CodeBadDestination:   "Invalid destination directory",
	CodeMissingLibrary:   "Missing MaterialX library: unable to convert material",
}

// MaterialXError is a conversion failure with its converter code.
type MaterialXError struct {
	Code int
	Err  error
}

// NewError wraps err with a converter code.
func NewError(code int, err error) *MaterialXError {
	return &MaterialXError{Code: code, Err: err}
}

// Message returns the description of the code.
func (e *MaterialXError) Message() string {
	if m, ok := codeMessages[e.Code]; ok {
		return m
	}
	return "Unknown error"
}

func (e *MaterialXError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("converter error #%d: %s: %v", e.Code, e.Message(), e.Err)
	}
	return fmt.Sprintf("converter error #%d: %s", e.Code, e.Message())
}

func (e *MaterialXError) Unwrap() error { return e.Err }

// ExitCode maps a conversion result to the converter exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrInterrupted) {
		return ExitInterrupted
	}
	var mxErr *MaterialXError
	if errors.As(err, &mxErr) {
		return mxErr.Code
	}
	return CodeUnhandled
}

// isInterruptedCode reports whether a converter exit code means it was
// interrupted.
func isInterruptedCode(code int) bool {
	return code == ExitInterrupted || code == exitInterruptedLegacy
}
