package handler

import (
	"encoding/json"
	"net/http"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/navigation"
	"github.com/saferoute/saferoute/internal/routing"
)

// RouteHandler handles route scoring endpoints.
type RouteHandler struct {
	navigation *navigation.Service
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(nav *navigation.Service) *RouteHandler {
	return &RouteHandler{navigation: nav}
}

// ScoreRoutes handles POST /v1/routes:score - score candidate routes.
// Authenticated riders also get the scored routes cached for starting a session.
func (h *RouteHandler) ScoreRoutes(w http.ResponseWriter, r *http.Request) {
	var input models.ScoreRoutesRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if len(input.Routes) == 0 && input.Origin == nil && input.Destination == nil {
		response.BadRequest(w, r, "either routes or origin and destination are required", []models.FieldError{
			{Field: "routes", Message: "required if origin/destination not provided", Code: "REQUIRED"},
			{Field: "origin", Message: "required if routes not provided", Code: "REQUIRED"},
			{Field: "destination", Message: "required if routes not provided", Code: "REQUIRED"},
		})
		return
	}

	result, err := h.navigation.ScoreRoutes(r.Context(), GetRiderID(r.Context()), navigation.ScoreRequest{
		Routes:      input.Routes,
		Origin:      coordinate(input.Origin),
		Destination: coordinate(input.Destination),
		Mode:        routing.Mode(input.Mode),
		Preferences: input.Preferences,
	})
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.ScoreRoutesResponse{
		Routes:      result.Routes,
		Preferences: result.Preferences,
		ScoredAt:    models.Timestamp(result.ScoredAt),
		Provider:    result.Provider,
	})
}

func coordinate(p *models.Point) *routing.Coordinate {
	if p == nil {
		return nil
	}
	return &routing.Coordinate{Lat: p.Lat, Lon: p.Lon}
}
