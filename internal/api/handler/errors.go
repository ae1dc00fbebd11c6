package handler

import (
	"errors"
	"net/http"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/navigation"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/trip"
)

// writeNavigationError translates navigation, trip and scoring errors into
// problem responses.
func writeNavigationError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *safety.ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(w, r, "invalid scoring request", fieldErrors(verr.Errors))
	case errors.Is(err, safety.ErrInvalidInput), errors.Is(err, navigation.ErrInvalidCommand):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, trip.ErrSessionAlreadyActive):
		response.Problem(w, r, models.ProblemTypeSessionAlreadyActive, "Conflict", http.StatusConflict,
			"rider already has an active session")
	case errors.Is(err, trip.ErrInvalidTransition):
		response.Problem(w, r, models.ProblemTypeInvalidTransition, "Conflict", http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrInvalidState):
		response.Problem(w, r, models.ProblemTypeSessionEnded, "Conflict", http.StatusConflict, "session has ended")
	case errors.Is(err, trip.ErrSessionNotFound):
		response.Problem(w, r, models.ProblemTypeSessionNotFound, "Not found", http.StatusNotFound, "session not found")
	case errors.Is(err, navigation.ErrRouteNotFound):
		response.Problem(w, r, models.ProblemTypeRouteNotFound, "Not found", http.StatusNotFound, err.Error())
	case errors.Is(err, navigation.ErrUpstreamUnavailable):
		response.Problem(w, r, models.ProblemTypeUpstreamUnavailable, "Service unavailable", http.StatusServiceUnavailable,
			"route provider is unavailable, try again shortly")
	case errors.Is(err, navigation.ErrFeatureDisabled):
		response.Problem(w, r, models.ProblemTypeFeatureDisabled, "Service unavailable", http.StatusServiceUnavailable, err.Error())
	default:
		response.InternalError(w, r, "unexpected error")
	}
}

func fieldErrors(errs []safety.FieldError) []models.FieldError {
	out := make([]models.FieldError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, models.FieldError{Field: fe.Field, Message: fe.Message, Code: fe.Code})
	}
	return out
}
