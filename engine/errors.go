package engine

import (
	"errors"
	"fmt"
)

// GenericFailureMessage is the only failure text shown to users. Causes are logged.
const GenericFailureMessage = "An error occurred during processing. Please try again."

var (
	ErrDecode            = errors.New("decode failed")
	ErrRender            = errors.New("render failed")
	ErrEncode            = errors.New("encode failed")
	ErrUnsupportedFormat = errors.New("unsupported image format")

	ErrBusy             = errors.New("a conversion is already running for this tool")
	ErrEmptyQueue       = errors.New("no files selected")
	ErrProcessingFailed = errors.New(GenericFailureMessage)
	ErrUnknownTool      = errors.New("unknown tool")
)

// Stage names the codec step that failed
type Stage string

const (
	StageDecode Stage = "decode"
	StageRender Stage = "render"
	StageEncode Stage = "encode"
)

func (s Stage) sentinel() error {
	switch s {
	case StageDecode:
		return ErrDecode
	case StageRender:
		return ErrRender
	case StageEncode:
		return ErrEncode
	}
	return nil
}

// ProcessingError is returned by a transform when a codec call fails
type ProcessingError struct {
	Stage Stage
	File  string
	Page  int // 1-based, 0 when the failure is not tied to a page
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s page %d of %s: %v", e.Stage, e.Page, e.File, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.File, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed stage
func (e *ProcessingError) Is(target error) bool {
	return target != nil && target == e.Stage.sentinel()
}

func decodeError(file string, err error) error {
	return &ProcessingError{Stage: StageDecode, File: file, Err: err}
}

func renderError(file string, page int, err error) error {
	return &ProcessingError{Stage: StageRender, File: file, Page: page, Err: err}
}

func encodeError(file string, page int, err error) error {
	return &ProcessingError{Stage: StageEncode, File: file, Page: page, Err: err}
}
