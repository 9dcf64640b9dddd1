// Package handler exposes the interview service over HTTP/JSON and a
// websocket bridge for the voice transport.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	appI18n "github.com/vasu-devs/Socratis/internal/i18n"
	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/llm"
	"github.com/vasu-devs/Socratis/internal/questions"
	"github.com/vasu-devs/Socratis/internal/store"
	"github.com/vasu-devs/Socratis/internal/worker"
)

const maxBodyBytes = 2 << 20

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc      *interview.Service
	checks   []Check
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// New creates a new Handler. allowedOrigins restricts browser websocket
// connections; "*" allows any origin.
func New(svc *interview.Service, allowedOrigins []string, checks ...Check) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		svc:      svc,
		checks:   checks,
		validate: v,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/start", h.handleStart)
		r.Post("/next-question", h.handleNextQuestion)
		r.Post("/agent/next-question", h.handleAgentNextQuestion)
		r.Post("/submit", h.handleSubmit)
		r.Post("/save-report", h.handleSaveReport)

		r.Route("/session/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Patch("/", h.handleUpdateSession)
			r.Post("/transcript", h.handleAppendTranscript)
			r.Get("/report", h.handleGetReport)
			r.Post("/evaluate", h.handleEvaluate)
			r.Get("/stream", h.handleStream)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "check", c.Name, "error", err)
			results[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}
	writeJSON(w, status, results)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Create(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ws := interview.WorkingState{Code: req.Code}
	if req.Transcript != nil {
		t, err := toTranscript(*req.Transcript)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ws.Transcript = &t
	}
	view, err := h.svc.UpdateWorkingState(r.Context(), chi.URLParam(r, "sessionID"), ws)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAppendTranscript(w http.ResponseWriter, r *http.Request) {
	var req appendTranscriptRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries, err := toTranscript(req.Entries)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.svc.AppendTranscript(r.Context(), chi.URLParam(r, "sessionID"), entries...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toSubmit()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Advance(r.Context(), req.SessionID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAgentNextQuestion(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.AgentAdvance(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toSubmit()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Finalize(r.Context(), req.SessionID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	var req saveReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := llm.ParseReport(string(req.Report))
	if err != nil {
		writeError(w, r, validationError{detail: err.Error()})
		return
	}
	if err := h.validate.Struct(report); err != nil {
		writeError(w, r, validationError{detail: describeValidation(err)})
		return
	}
	if err := h.svc.SaveReport(r.Context(), req.SessionID, *report); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rv, err := h.svc.Report(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.svc.RequestEvaluation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": "queued"})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeAPIError(w, http.StatusBadRequest, "bad_json", appI18n.T(r.Context(), "ErrBadJSON"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, validationError{detail: describeValidation(err)})
		return false
	}
	return true
}

// validationError is a client input problem found after decoding.
type validationError struct {
	detail string
}

func (e validationError) Error() string { return e.detail }

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps domain errors onto HTTP statuses with a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, e := classify(r, err)
	writeJSON(w, status, map[string]apiError{"error": e})
}

func classify(r *http.Request, err error) (int, apiError) {
	ctx := r.Context()
	var ve validationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, apiError{"validation",
			appI18n.Td(ctx, "ErrValidation", map[string]any{"Detail": ve.detail})}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, apiError{"not_found", appI18n.T(ctx, "ErrSessionNotFound")}
	case errors.Is(err, store.ErrUnavailable):
		slog.Error("session store unavailable", "path", r.URL.Path, "error", err)
		return http.StatusServiceUnavailable, apiError{"store_unavailable", appI18n.T(ctx, "ErrStoreUnavailable")}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, apiError{"conflict", appI18n.T(ctx, "ErrConflict")}
	case errors.Is(err, interview.ErrSessionCompleted):
		return http.StatusConflict, apiError{"session_completed", appI18n.T(ctx, "ErrSessionCompleted")}
	case errors.Is(err, interview.ErrInvalidTransition):
		return http.StatusConflict, apiError{"invalid_transition", appI18n.T(ctx, "ErrInvalidTransition")}
	case errors.Is(err, questions.ErrEmpty):
		return http.StatusServiceUnavailable, apiError{"no_questions", appI18n.T(ctx, "ErrNoQuestions")}
	case errors.Is(err, interview.ErrNoQueue), errors.Is(err, worker.ErrQueueFull):
		slog.Warn("evaluation not scheduled", "path", r.URL.Path, "error", err)
		return http.StatusServiceUnavailable, apiError{"queue_unavailable", appI18n.T(ctx, "ErrQueueUnavailable")}
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return http.StatusInternalServerError, apiError{"internal", appI18n.T(ctx, "ErrInternal")}
	}
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
