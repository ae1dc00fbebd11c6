package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID matches the X-Request-Id response header.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError points a validation failure at one request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://saferoute.app/problems/"

// Generic problem types, one per status the API returns.
const (
	ProblemTypeValidation           = problemBase + "validation-error"
	ProblemTypeUnauthorized         = problemBase + "unauthorized"
	ProblemTypeForbidden            = problemBase + "forbidden"
	ProblemTypeNotFound             = problemBase + "not-found"
	ProblemTypeConflict             = problemBase + "conflict"
	ProblemTypeUnsupportedMediaType = problemBase + "unsupported-media-type"
	ProblemTypeTooManyRequests      = problemBase + "too-many-requests"
	ProblemTypeInternal             = problemBase + "internal-error"
	ProblemTypeUnavailable          = problemBase + "service-unavailable"
	ProblemTypeTLSRequired          = problemBase + "tls-required"
)

// Domain problem types. They refine a generic status so clients can branch
// on the failure without parsing the detail text.
const (
	ProblemTypeSessionAlreadyActive = problemBase + "session-already-active"
	ProblemTypeInvalidTransition    = problemBase + "invalid-transition"
	ProblemTypeSessionEnded         = problemBase + "session-ended"
	ProblemTypeRouteNotFound        = problemBase + "route-not-found"
	ProblemTypeSessionNotFound      = problemBase + "session-not-found"
	ProblemTypeUpstreamUnavailable  = problemBase + "upstream-unavailable"
	ProblemTypeFeatureDisabled      = problemBase + "feature-disabled"
)

type problemKind struct {
	title  string
	status int
}

var genericKinds = map[string]problemKind{
	ProblemTypeValidation:           {"Validation error", http.StatusBadRequest},
	ProblemTypeUnauthorized:         {"Unauthorized", http.StatusUnauthorized},
	ProblemTypeForbidden:            {"Forbidden", http.StatusForbidden},
	ProblemTypeNotFound:             {"Not found", http.StatusNotFound},
	ProblemTypeConflict:             {"Conflict", http.StatusConflict},
	ProblemTypeUnsupportedMediaType: {"Unsupported media type", http.StatusUnsupportedMediaType},
	ProblemTypeTooManyRequests:      {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeInternal:             {"Internal server error", http.StatusInternalServerError},
	ProblemTypeUnavailable:          {"Service unavailable", http.StatusServiceUnavailable},
}

// NewProblem creates a problem with an explicit type, title and status.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{Type: problemType, Title: title, Status: status, TraceID: traceID}
}

func newGeneric(problemType, traceID, detail string) *Problem {
	kind := genericKinds[problemType]
	p := NewProblem(problemType, kind.title, kind.status, traceID)
	p.Detail = detail
	return p
}

// Write sends the problem with its status and the request ID header.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest is a 400 carrying per-field errors.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := newGeneric(ProblemTypeValidation, traceID, detail)
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeUnauthorized, traceID, detail)
}

func NewForbidden(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeForbidden, traceID, detail)
}

func NewNotFound(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeNotFound, traceID, detail)
}

func NewConflict(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeConflict, traceID, detail)
}

func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeUnsupportedMediaType, traceID, detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeTooManyRequests, traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeInternal, traceID, detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return newGeneric(ProblemTypeUnavailable, traceID, detail)
}
