package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe-ai/voxpipe/internal/session"
	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

type createCallRequest struct {
	AssistantID string `json:"assistantId"`

	// To and From are set for outbound PSTN calls; empty creates a web call.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
}

type createCallResponse struct {
	ID string `json:"id"`

	// WSURL is the tokenized media endpoint, returned for web calls.
	WSURL string `json:"wsUrl,omitempty"`
}

// handleCreateCall creates a web call (returning its media URL) or dials an
// outbound PSTN call through the carrier.
func (a *App) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	asst := a.cfg.AssistantByID(req.AssistantID)
	if asst == nil {
		writeError(w, http.StatusNotFound, "unknown assistant")
		return
	}

	callID := uuid.NewString()
	call := &types.Call{
		ID:          callID,
		OrgID:       asst.OrgID,
		Kind:        types.CallKindWeb,
		Status:      types.CallStatusQueued,
		AssistantID: asst.ID,
	}

	if req.To == "" {
		if err := a.store.UpsertCall(r.Context(), call); err != nil {
			a.log.Error("persist call", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		wsURL, err := a.webhooks.StreamURL(callID)
		if err != nil {
			a.log.Error("mint media url", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, createCallResponse{ID: callID, WSURL: wsURL})
		return
	}

	// Outbound PSTN call.
	if a.carrier == nil {
		writeError(w, http.StatusUnprocessableEntity, "no carrier configured")
		return
	}
	call.Kind = types.CallKindOutbound
	call.From = req.From
	call.To = req.To
	if err := a.store.UpsertCall(r.Context(), call); err != nil {
		a.log.Error("persist call", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	streamURL, err := a.webhooks.StreamURL(callID)
	if err != nil {
		a.log.Error("mint media url", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sid, err := a.carrier.Dial(r.Context(), telephony.DialParams{
		From:              req.From,
		To:                req.To,
		StreamURL:         streamURL,
		StatusCallbackURL: a.cfg.Server.PublicBaseURL + "/twilio/status?callId=" + callID,
	})
	if err != nil {
		a.log.Error("carrier dial", "call_id", callID, "error", err)
		if uerr := a.store.UpdateCallStatus(r.Context(), callID, types.CallStatusFailed, time.Now()); uerr != nil {
			a.log.Error("mark call failed", "call_id", callID, "error", uerr)
		}
		writeError(w, http.StatusBadGateway, "carrier dial failed")
		return
	}

	call.CarrierMeta = map[string]string{telephony.CarrierMetaCallSID: sid}
	if err := a.store.UpsertCall(r.Context(), call); err != nil {
		a.log.Error("persist carrier leg", "call_id", callID, "error", err)
	}
	writeJSON(w, http.StatusCreated, createCallResponse{ID: callID})
}

type getCallResponse struct {
	Call    *types.Call   `json:"call"`
	Session *session.Info `json:"session,omitempty"`
}

// handleGetCall returns the stored call record plus, while the call is live,
// the session snapshot.
func (a *App) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	call, err := a.store.GetCall(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown call")
			return
		}
		a.log.Error("get call", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := getCallResponse{Call: call}
	if s := a.registry.Lookup(id); s != nil {
		info := s.Info()
		resp.Session = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEndCall ends a live session on request of the REST API.
func (a *App) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s := a.registry.Lookup(id)
	if s == nil {
		if _, err := a.store.GetCall(r.Context(), id); errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown call")
			return
		}
		writeError(w, http.StatusConflict, "call is not live")
		return
	}
	s.End("api-request")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
