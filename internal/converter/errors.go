package converter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindFileNotFound          Kind = "FileNotFound"
	KindParser                Kind = "ParserError"
	KindGenerator             Kind = "GeneratorError"
	KindParserResponseInvalid Kind = "ParserResponseInvalid"
	KindWalk                  Kind = "WalkError"

	// KindInternal labels failures outside the ingestion pipeline.
	KindInternal Kind = "InternalError"
)

// Status is the HTTP status a transport should answer with for this kind.
func (k Kind) Status() int {
	switch k {
	case KindFileNotFound:
		return http.StatusNotFound
	case KindParser, KindGenerator:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message is the user-facing sentence for this kind.
func (k Kind) Message() string {
	switch k {
	case KindFileNotFound:
		return "The given file was not found."
	case KindParser:
		return "The parser failed to process your request."
	case KindGenerator:
		return "The generator failed to process your request."
	case KindParserResponseInvalid:
		return "The parser returned a non-JSON output."
	case KindWalk:
		return "The file system walker encountered an error."
	case KindInternal:
		return "The server failed to process your request."
	default:
		return "Unknown error."
	}
}

// Error is the single failure value produced by the ingestion pipeline.
// Detail carries the converter's stderr or stdout text, or the attempted path.
// Causes carries the underlying enumeration errors of a WalkError.
type Error struct {
	Kind   Kind
	Detail string
	Causes []error
}

func (e *Error) Error() string {
	if len(e.Causes) > 0 {
		msgs := make([]string, len(e.Causes))
		for i, c := range e.Causes {
			msgs[i] = c.Error()
		}
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(msgs, "; "))
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes walk causes to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	return e.Causes
}

// Status is shorthand for e.Kind.Status().
func (e *Error) Status() int {
	return e.Kind.Status()
}

// Response is the wire shape of a pipeline error.
type Response struct {
	Status  int    `json:"status"`
	Error   Kind   `json:"error"`
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

// Response renders e for a transport. Walk errors list one detail per cause.
func (e *Error) Response() Response {
	var detail any = e.Detail
	if e.Kind == KindWalk {
		causes := make([]string, len(e.Causes))
		for i, c := range e.Causes {
			causes[i] = c.Error()
		}
		detail = causes
	}
	return Response{
		Status:  e.Status(),
		Error:   e.Kind,
		Message: e.Kind.Message(),
		Detail:  detail,
	}
}

// WalkError wraps directory enumeration failures.
func WalkError(causes ...error) *Error {
	return &Error{Kind: KindWalk, Causes: causes}
}

// ResponseFor renders any error for a transport. Errors that are not
// pipeline failures become a 500 InternalError carrying err's text.
func ResponseFor(err error) Response {
	var convErr *Error
	if errors.As(err, &convErr) {
		return convErr.Response()
	}
	return Response{
		Status:  KindInternal.Status(),
		Error:   KindInternal,
		Message: KindInternal.Message(),
		Detail:  err.Error(),
	}
}
