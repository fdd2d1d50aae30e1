// Package api exposes the adaptive test engine over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-cat/internal/cat"
	"github.com/p-n-ai/pai-cat/internal/itembank"
)

const maxBodyBytes = 1 << 20

// Engine is the subset of *cat.Engine the handlers use.
type Engine interface {
	Start(ctx context.Context, ownerRef, quizID string) (cat.StartResult, error)
	Answer(ctx context.Context, attemptID, itemID string, selected int) (cat.NextStepResult, error)
	Attempt(ctx context.Context, attemptID string) (cat.Attempt, error)
	ReloadBank(ctx context.Context) (int, error)
	RegisterOwner(ctx context.Context, ownerRef string) error
}

// Handler serves the attempt API.
type Handler struct {
	engine  Engine
	schemas schemas
}

// NewHandler creates a handler around engine.
func NewHandler(engine Engine) (*Handler, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Handler{engine: engine, schemas: s}, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.handleRegister)
	mux.HandleFunc("POST /v1/attempts", h.handleStart)
	mux.HandleFunc("GET /v1/attempts/{id}", h.handleGetAttempt)
	mux.HandleFunc("POST /v1/attempts/{id}/answers", h.handleAnswer)
	mux.HandleFunc("POST /v1/itembank/reload", h.handleReload)
	mux.HandleFunc("GET /v1/ws", h.handleWebSocket)
}

type startRequest struct {
	OwnerRef string `json:"owner_reference"`
	QuizID   string `json:"quiz_id"`
}

type answerRequest struct {
	AttemptID string `json:"attempt_id,omitempty"`
	ItemID    string `json:"item_id"`
	Selected  int    `json:"selected_option_index"`
}

type startResponse struct {
	AttemptID string        `json:"attempt_id"`
	FirstItem itembank.View `json:"first_item"`
}

type stepResponse struct {
	AttemptID         string         `json:"attempt_id"`
	NextItem          *itembank.View `json:"next_item"`
	IsComplete        bool           `json:"is_complete"`
	FinalScorePercent *float64       `json:"final_score_percent,omitempty"`
	WeakTopics        []string       `json:"identified_weak_topics"`
	Theta             *float64       `json:"theta,omitempty"`
	SE                *float64       `json:"se,omitempty"`
	StopReason        string         `json:"stop_reason,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
}

func newStepResponse(res cat.NextStepResult) stepResponse {
	out := stepResponse{
		AttemptID:         res.AttemptID,
		NextItem:          res.NextItem,
		IsComplete:        res.IsComplete,
		FinalScorePercent: res.FinalScorePercent,
		WeakTopics:        res.WeakTopics,
		Theta:             res.Theta,
		SE:                res.SE,
		StopReason:        res.StopReason,
		Warnings:          res.Warnings,
	}
	if out.IsComplete && out.WeakTopics == nil {
		out.WeakTopics = []string{}
	}
	return out
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, h.schemas.session, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.RegisterOwner(r.Context(), req.OwnerRef); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"owner_reference": req.OwnerRef})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, h.schemas.start, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Start(r.Context(), req.OwnerRef, req.QuizID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{AttemptID: res.Attempt.ID, FirstItem: res.FirstItem})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decode(w, r, h.schemas.answer, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.Answer(r.Context(), r.PathValue("id"), req.ItemID, req.Selected)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStepResponse(res))
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Attempt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		cat.Attempt
		State cat.State `json:"state"`
	}{a, a.State()})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ReloadBank(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("item bank reloaded", "items", n)
	writeJSON(w, http.StatusOK, map[string]int{"items": n})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, cat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cat.ErrAttemptComplete),
		errors.Is(err, cat.ErrItemAlreadyAdministered),
		errors.Is(err, cat.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, cat.ErrRegistrationUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, itembank.ErrInvalidBank):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
