package attendance

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/campus-attendance/internal/embedding"
)

// Code is the machine-readable reason a mark was declined.
type Code string

const (
	CodeAlreadyMarked    Code = "AlreadyMarked"
	CodeNoFaceRegistered Code = "NoFaceRegistered"
	CodeNoEmbeddingMatch Code = "NoEmbeddingMatch"
	CodeLowConfidence    Code = "LowConfidence"
	CodeSystemError      Code = "SystemError"
	CodeInvalidInput     Code = "InvalidInput"
)

// Decline reasons reported to clients.
const (
	ReasonAlreadyMarked    = "already_marked"
	ReasonNoFaceRegistered = "no_face_registered"
	ReasonFaceNotFound     = "face_not_found"
	ReasonFaceNotMatched   = "face_not_matched"
	ReasonSystemError      = "system_error"
	ReasonInvalidInput     = "invalid_input"
)

// MarkError is returned for every declined mark.
type MarkError struct {
	Code    Code
	Reason  string
	Message string
	// Fallback is set when the caller should offer manual or self marking.
	Fallback bool
	Err      error
}

func (e *MarkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MarkError) Unwrap() error { return e.Err }

// Is matches any *MarkError with the same Code.
func (e *MarkError) Is(target error) bool {
	t, ok := target.(*MarkError)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyMarked    = &MarkError{Code: CodeAlreadyMarked}
	ErrNoFaceRegistered = &MarkError{Code: CodeNoFaceRegistered}
	ErrNoEmbeddingMatch = &MarkError{Code: CodeNoEmbeddingMatch}
	ErrLowConfidence    = &MarkError{Code: CodeLowConfidence}
	ErrSystem           = &MarkError{Code: CodeSystemError}
	ErrInvalidInput     = &MarkError{Code: CodeInvalidInput}
)

func alreadyMarked(err error) *MarkError {
	return &MarkError{Code: CodeAlreadyMarked, Reason: ReasonAlreadyMarked,
		Message: "attendance already marked for this session today", Err: err}
}

func systemError(msg string, err error) *MarkError {
	return &MarkError{Code: CodeSystemError, Reason: ReasonSystemError, Message: msg, Fallback: true, Err: err}
}

func invalidInput(format string, args ...any) *MarkError {
	return &MarkError{Code: CodeInvalidInput, Reason: ReasonInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// embeddingError maps provider failures: image problems are the caller's
// input, everything else is a system error.
func embeddingError(err error) *MarkError {
	switch embedding.KindOf(err) {
	case embedding.KindNoFace:
		return &MarkError{Code: CodeInvalidInput, Reason: ReasonFaceNotFound,
			Message: "no face detected in the image", Fallback: true, Err: err}
	case embedding.KindMultipleFaces:
		return &MarkError{Code: CodeInvalidInput, Reason: ReasonFaceNotFound,
			Message: "more than one face detected in the image", Fallback: true, Err: err}
	case embedding.KindDecode:
		return &MarkError{Code: CodeInvalidInput, Reason: ReasonFaceNotFound,
			Message: "the image could not be read", Fallback: true, Err: err}
	}
	return systemError("face recognition is unavailable", err)
}

// AsMarkError extracts a *MarkError from err.
func AsMarkError(err error) (*MarkError, bool) {
	var me *MarkError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
