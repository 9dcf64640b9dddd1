package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/model"
)

const maxStreamMessageBytes = 1 << 20

// Stream event types.
const (
	eventTranscript = "transcript"
	eventCode       = "code"
	eventCallEnd    = "call_end"
	eventAck        = "ack"
	eventCompleted  = "completed"
	eventError      = "error"
)

// streamEvent is one frame on the session stream. Inbound frames carry
// a transcript turn (Role, Content), an editor snapshot (Code) or the
// call-end signal.
type streamEvent struct {
	Type      string     `json:"type"`
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Code      *string    `json:"code,omitempty"`
	Event     string     `json:"event,omitempty"`
	Error     *apiError  `json:"error,omitempty"`
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// handleStream bridges the voice transport onto the session. Transcript
// and code events are applied as they arrive; call_end finalizes the
// session and closes the stream.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxStreamMessageBytes)

	log := slog.With("session_id", id)
	log.Info("voice stream connected")
	ctx := r.Context()

	for {
		var ev streamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("voice stream closed", "error", err)
			}
			return
		}

		err = nil
		switch ev.Type {
		case eventTranscript:
			role, perr := model.ParseRole(ev.Role)
			if perr != nil {
				h.streamError(conn, r, validationError{detail: perr.Error()})
				continue
			}
			_, err = h.svc.AppendTranscript(ctx, id, newEntry(role, ev.Content, ev.Timestamp))
		case eventCode:
			if ev.Code == nil {
				h.streamError(conn, r, validationError{detail: "code is required"})
				continue
			}
			_, err = h.svc.UpdateWorkingState(ctx, id, interview.WorkingState{Code: ev.Code})
		case eventCallEnd:
			if ev.Code != nil {
				_, err = h.svc.UpdateWorkingState(ctx, id, interview.WorkingState{Code: ev.Code})
				if errors.Is(err, interview.ErrSessionCompleted) {
					err = nil
				}
			}
			if err == nil {
				_, err = h.svc.EndCall(ctx, id)
			}
			if err != nil {
				h.streamError(conn, r, err)
				continue
			}
			log.Info("voice call ended")
			_ = conn.WriteJSON(streamEvent{Type: eventCompleted})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
			return
		default:
			h.streamError(conn, r, validationError{detail: "unknown event type " + ev.Type})
			continue
		}

		if err != nil {
			h.streamError(conn, r, err)
			continue
		}
		if werr := conn.WriteJSON(streamEvent{Type: eventAck, Event: ev.Type}); werr != nil {
			return
		}
	}
}

func (h *Handler) streamError(conn *websocket.Conn, r *http.Request, err error) {
	_, e := classify(r, err)
	_ = conn.WriteJSON(streamEvent{Type: eventError, Error: &e})
}
