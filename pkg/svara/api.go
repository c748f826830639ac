package svara

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/adiwarsito/svara/pkg/errorsx"
	"github.com/adiwarsito/svara/pkg/session"
	"github.com/adiwarsito/svara/pkg/store"
)

// Call lifecycle API. The full CRUD control surface lives elsewhere; the
// engine serves only what a client needs to start, inspect, and end calls.
func (e *Engine) mountAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /calls", e.auth(e.handleCreateCall))
	mux.HandleFunc("POST /calls/outbound", e.auth(e.handleOutboundCall))
	mux.HandleFunc("GET /calls/{id}", e.auth(e.handleGetCall))
	mux.HandleFunc("POST /calls/{id}/end", e.auth(e.handleEndCall))
}

// auth requires a bearer JWT signed with the engine's secret.
func (e *Engine) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, errorsx.Wrap(fmt.Errorf("missing bearer token"), errorsx.KindAuth, errorsx.ReasonUnknown))
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(e.cfg.Secrets.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, errorsx.Wrap(fmt.Errorf("invalid token"), errorsx.KindAuth, errorsx.ReasonUnknown))
			return
		}
		next(w, r)
	}
}

type createCallRequest struct {
	AssistantID string `json:"assistantId"`
}

type createCallResponse struct {
	CallID string `json:"callId"`
	Token  string `json:"token"`
	WSURL  string `json:"wsUrl"`
}

// handleCreateCall provisions a web call: a call row plus a media token the
// client presents on the WebSocket.
func (e *Engine) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errorsx.Wrap(err, errorsx.KindValidation, errorsx.ReasonUnknown))
		return
	}
	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = e.cfg.DefaultAssistant
	}
	if _, ok := e.cfg.AssistantByID(assistantID); !ok {
		writeError(w, errorsx.Wrap(fmt.Errorf("assistant %q not found", assistantID), errorsx.KindNotFound, errorsx.ReasonUnknown))
		return
	}

	callID := uuid.NewString()
	now := time.Now()
	call := &store.Call{
		ID:          callID,
		Kind:        store.CallWeb,
		Status:      store.StatusQueued,
		AssistantID: assistantID,
		StartedAt:   &now,
	}
	if err := e.store.UpsertCall(r.Context(), call); err != nil {
		writeError(w, err)
		return
	}
	token, err := e.tokens.Mint(r.Context(), callID)
	if err != nil {
		writeError(w, err)
		return
	}
	e.logger.Info("web_call_created",
		slog.String("call_id", callID),
		slog.String("assistant_id", assistantID))
	writeJSON(w, http.StatusCreated, createCallResponse{
		CallID: callID,
		Token:  token,
		WSURL:  strings.TrimRight(e.cfg.MediaWSURL, "/") + "/ws/" + callID,
	})
}

type outboundCallRequest struct {
	To          string `json:"to"`
	From        string `json:"from"`
	AssistantID string `json:"assistantId"`
}

// handleOutboundCall is the single-call initiation path into the carrier.
func (e *Engine) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errorsx.Wrap(err, errorsx.KindValidation, errorsx.ReasonUnknown))
		return
	}
	if _, ok := e.cfg.AssistantByID(req.AssistantID); !ok {
		writeError(w, errorsx.Wrap(fmt.Errorf("assistant %q not found", req.AssistantID), errorsx.KindNotFound, errorsx.ReasonUnknown))
		return
	}
	callID, err := e.twilio.Dial(r.Context(), req.To, req.From, req.AssistantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"callId": callID})
}

func (e *Engine) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if sess, ok := e.registry.Lookup(callID); ok {
		writeJSON(w, http.StatusOK, sess.Info())
		return
	}
	call, err := e.store.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callId":          call.ID,
		"state":           string(call.Status),
		"durationSeconds": call.DurationSeconds,
		"endedReason":     call.EndedReason,
		"costs":           call.Costs,
	})
}

func (e *Engine) handleEndCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	sess, ok := e.registry.Lookup(callID)
	if !ok {
		writeError(w, errorsx.Wrap(fmt.Errorf("no live session for call %s", callID), errorsx.KindNotFound, errorsx.ReasonUnknown))
		return
	}
	sess.End(session.ReasonAPIRequest)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ending"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errorsx.KindOf(err)
	status := kind.HTTPStatus()
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(kind),
			"message": err.Error(),
		},
	})
}
