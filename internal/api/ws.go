package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Message types on the WebSocket channel.
const (
	msgStart   = "start"
	msgAnswer  = "answer"
	msgStarted = "started"
	msgStep    = "step"
	msgError   = "error"
)

type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

type wsStarted struct {
	wsEnvelope
	startResponse
}

type wsStep struct {
	wsEnvelope
	stepResponse
}

type wsError struct {
	wsEnvelope
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// handleWebSocket runs start and answer requests over one connection. Each
// inbound message gets exactly one reply carrying the same request_id.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c, &raw); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}

		reply := h.dispatch(ctx, raw)
		if err := wsjson.Write(ctx, c, reply); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, raw []byte) any {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return newWSError(env, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	switch env.Type {
	case msgStart:
		var req startRequest
		if err := decodeBytes(h.schemas.start, raw, &req); err != nil {
			return newWSError(env, err)
		}
		res, err := h.engine.Start(ctx, req.OwnerRef, req.QuizID)
		if err != nil {
			return newWSError(env, err)
		}
		return wsStarted{
			wsEnvelope:    wsEnvelope{Type: msgStarted, RequestID: env.RequestID},
			startResponse: startResponse{AttemptID: res.Attempt.ID, FirstItem: res.FirstItem},
		}

	case msgAnswer:
		var req answerRequest
		if err := decodeBytes(h.schemas.answer, raw, &req); err != nil {
			return newWSError(env, err)
		}
		if req.AttemptID == "" {
			return newWSError(env, fmt.Errorf("%w: attempt_id is required", ErrInvalidRequest))
		}
		res, err := h.engine.Answer(ctx, req.AttemptID, req.ItemID, req.Selected)
		if err != nil {
			return newWSError(env, err)
		}
		return wsStep{
			wsEnvelope:   wsEnvelope{Type: msgStep, RequestID: env.RequestID},
			stepResponse: newStepResponse(res),
		}

	default:
		return newWSError(env, fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, env.Type))
	}
}

func newWSError(env wsEnvelope, err error) wsError {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("websocket request failed", "error", err)
		msg = "internal error"
	}
	return wsError{
		wsEnvelope: wsEnvelope{Type: msgError, RequestID: env.RequestID},
		Status:     status,
		Error:      msg,
	}
}
