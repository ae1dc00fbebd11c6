package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/history"
)

// TripHandler serves the rider's trip history.
type TripHandler struct {
	history *history.Service
	logger  zerolog.Logger
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(svc *history.Service, logger zerolog.Logger) *TripHandler {
	return &TripHandler{history: svc, logger: logger}
}

// ListTrips handles GET /v1/me/trips - finished trips, newest first.
// Pages are chained with the cursor returned in meta.nextCursor.
func (h *TripHandler) ListTrips(w http.ResponseWriter, r *http.Request) {
	opts := history.ListOptions{}
	var fieldErrs []models.FieldError

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "limit", Message: "must be between 1 and 100", Code: "OUT_OF_RANGE"})
		}
		opts.Limit = limit
	}
	if v := r.URL.Query().Get("cursor"); v != "" {
		after, err := history.ParseCursor(v)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "cursor", Message: "invalid cursor", Code: "INVALID"})
		}
		opts.After = after
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	result, err := h.history.List(r.Context(), GetRiderID(r.Context()), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list trips")
		response.InternalError(w, r, "failed to list trips")
		return
	}

	limit := opts.Limit
	if limit == 0 {
		limit = history.DefaultListLimit
	}
	list := models.TripList{Items: result.Items, Meta: models.PagedResponseMeta{Limit: limit}}
	if list.Items == nil {
		list.Items = []*history.Trip{}
	}
	if result.Next != nil {
		cursor := result.Next.String()
		list.Meta.NextCursor = &cursor
	}
	response.JSON(w, r, http.StatusOK, list)
}

// GetTrip handles GET /v1/me/trips/{tripId}.
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.history.Get(r.Context(), GetRiderID(r.Context()), chi.URLParam(r, "tripId"))
	if err != nil {
		if errors.Is(err, history.ErrTripNotFound) {
			response.NotFound(w, r, "trip not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to get trip")
		response.InternalError(w, r, "failed to get trip")
		return
	}
	response.JSON(w, r, http.StatusOK, t)
}

// ExportTrips handles GET /v1/me/trips/export - every retained trip as CSV.
func (h *TripHandler) ExportTrips(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := h.history.Export(r.Context(), GetRiderID(r.Context()), &buf)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to export trips")
		response.InternalError(w, r, "failed to export trips")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="trips.csv"`)
	w.Header().Set("X-Total-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ClearTrips handles DELETE /v1/me/trips - remove the rider's whole history now.
func (h *TripHandler) ClearTrips(w http.ResponseWriter, r *http.Request) {
	n, err := h.history.Clear(r.Context(), GetRiderID(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to clear trips")
		response.InternalError(w, r, "failed to clear trip history")
		return
	}
	response.JSON(w, r, http.StatusOK, models.ClearTripsResponse{Deleted: n})
}
