package protocol

import "fmt"

const (
	CodeValidation      = "VALIDATION"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeCaptureFailed   = "CAPTURE_FAILED"
	CodeCropEmpty       = "CROP_EMPTY"
	CodeEvalFailure     = "EVAL_FAILURE"
	CodeEvalTimeout     = "EVAL_TIMEOUT"
	CodeCDPUnavailable  = "CDP_UNAVAILABLE"
	CodeCrossOrigin     = "CROSS_ORIGIN"
	CodeRecordCapacity  = "RECORD_CAPACITY"
	CodeRecordMalformed = "RECORD_MALFORMED"
	CodeRecordNotFound  = "RECORD_NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError with an optional cause.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
