package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/models"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/navigation"
	"github.com/saferoute/saferoute/internal/trip"
)

const (
	// eventWriteTimeout bounds a single websocket write.
	eventWriteTimeout = 10 * time.Second

	// pingInterval keeps idle event streams alive through proxies.
	pingInterval = 30 * time.Second

	// droppedReason is the close text sent to a subscriber that fell behind.
	droppedReason = "subscriber fell behind, reconnect"
)

// SessionHandler handles trip session endpoints.
type SessionHandler struct {
	navigation *navigation.Service
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler. checkOrigin may be nil to
// accept same-origin upgrades only.
func NewSessionHandler(nav *navigation.Service, checkOrigin func(*http.Request) bool, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		navigation: nav,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// StartSession handles POST /v1/sessions - start navigating a scored route.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var input models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.RouteID == nil {
		response.BadRequest(w, r, "routeId is required", []models.FieldError{
			{Field: "routeId", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	snap, err := h.navigation.StartSession(r.Context(), GetRiderID(r.Context()), *input.RouteID)
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}

	response.Created(w, r, "/v1/sessions/"+snap.ID, snap)
}

// GetSession handles GET /v1/sessions/{sessionId} - current snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.navigation.Snapshot(GetRiderID(r.Context()), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, snap)
}

// StreamEvents handles GET /v1/sessions/{sessionId}/events - a websocket
// carrying the snapshot followed by every session event. The stream closes
// after the terminal event or when the subscriber falls behind.
func (h *SessionHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	riderID := GetRiderID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	// Resolve before upgrading so unknown sessions get a normal 404.
	_, sub, err := h.navigation.Subscribe(riderID, sessionID, trip.DefaultSubscriberBuffer)
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads are only needed to process control frames and notice the client
	// going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				code, text := endOfStream(sub)
				if code != websocket.CloseNormalClosure {
					h.logger.Debug().Str("session_id", sessionID).Msg("event stream subscriber fell behind")
				}
				h.closeStream(conn, code, text)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("event stream write failed")
				return
			}
			if ev.Terminal() {
				h.closeStream(conn, websocket.CloseNormalClosure, string(ev.Transition.To))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// endOfStream picks the close frame for a subscription whose channel closed
// without a terminal event. Dropped subscribers are told to reconnect.
func endOfStream(sub *trip.Subscription) (int, string) {
	if sub.Dropped() {
		return websocket.CloseTryAgainLater, droppedReason
	}
	return websocket.CloseNormalClosure, "stream ended"
}

func (h *SessionHandler) closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Command handles POST /v1/sessions/{sessionId}/commands - rider actions.
func (h *SessionHandler) Command(w http.ResponseWriter, r *http.Request) {
	var input models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	snap, err := h.navigation.Command(r.Context(), GetRiderID(r.Context()), chi.URLParam(r, "sessionId"), navigation.Command{
		Type:        navigation.CommandType(input.Type),
		Enabled:     input.Enabled,
		AlertID:     input.AlertID,
		Position:    coordinate(input.Position),
		Destination: coordinate(input.Destination),
	})
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, snap)
}

// TerminateSession handles DELETE /v1/sessions/{sessionId} - end and discard a session.
func (h *SessionHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	state, err := h.navigation.Terminate(GetRiderID(r.Context()), sessionID)
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.TerminateResponse{SessionID: sessionID, State: state})
}

// TriggerEmergency handles POST /v1/sessions/{sessionId}/emergency.
func (h *SessionHandler) TriggerEmergency(w http.ResponseWriter, r *http.Request) {
	riderID := GetRiderID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	result, err := h.navigation.TriggerEmergency(r.Context(), riderID, sessionID)
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}

	snap, err := h.navigation.Snapshot(riderID, sessionID)
	if err != nil {
		writeNavigationError(w, r, err)
		return
	}

	response.Created(w, r, "", models.EmergencyResponse{
		Emergency:  result.Emergency,
		Dispatched: result.Dispatched,
		Session:    snap,
	})
}
