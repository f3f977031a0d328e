package twilio

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/internal/transport"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// Webhooks serves Twilio's inbound-call and call-status callbacks.
type Webhooks struct {
	// Store persists the call records created for inbound legs.
	Store store.CallStore

	// AssistantForNumber resolves the dialled number to its assistant, or
	// nil when the number is unassigned.
	AssistantForNumber func(number string) *types.Assistant

	// Tokens mints the media token embedded in the stream URL.
	Tokens *transport.TokenIssuer

	// MediaWSURL is the externally reachable wss:// base of the media
	// endpoint (e.g. "wss://engine.example.com").
	MediaWSURL string

	// OnTerminal is invoked when a status callback reports a terminal
	// carrier state, so a live session can be torn down. Optional.
	OnTerminal func(callID string)

	Logger *slog.Logger
}

func (h *Webhooks) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Inbound answers Twilio's incoming-call webhook with TwiML that bridges the
// call's media to a freshly created engine call.
func (h *Webhooks) Inbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	carrierSID := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")

	asst := h.AssistantForNumber(to)
	if asst == nil {
		h.log().Warn("inbound call to unassigned number", "to", to)
		writeTwiML(w, twimlResponse{
			Say:    "This number is not in service.",
			Hangup: &struct{}{},
		})
		return
	}

	callID := uuid.NewString()
	call := &types.Call{
		ID:          callID,
		OrgID:       asst.OrgID,
		Kind:        types.CallKindInbound,
		Status:      types.CallStatusRinging,
		From:        from,
		To:          to,
		AssistantID: asst.ID,
		CarrierMeta: map[string]string{telephony.CarrierMetaCallSID: carrierSID},
	}
	if err := h.Store.UpsertCall(r.Context(), call); err != nil {
		h.log().Error("persist inbound call", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	streamURL, err := h.streamURL(callID)
	if err != nil {
		h.log().Error("build stream url", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.log().Info("inbound call accepted", "call_id", callID, "from", from, "to", to, "assistant_id", asst.ID)
	writeTwiML(w, twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}}})
}

// Status ingests Twilio's call-status callbacks. The engine call ID rides in
// the callback URL's callId query parameter.
func (h *Webhooks) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	callID := r.URL.Query().Get("callId")
	carrierStatus := r.PostFormValue("CallStatus")

	status, ok := mapStatus(carrierStatus)
	if !ok || callID == "" {
		h.log().Warn("unusable status callback", "call_id", callID, "status", carrierStatus)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if status.IsTerminal() {
		// A live session finalizes the call itself; the store update below
		// only covers legs that never connected.
		if h.OnTerminal != nil {
			h.OnTerminal(callID)
		}
	}
	if err := h.Store.UpdateCallStatus(r.Context(), callID, status, time.Now()); err != nil {
		h.log().Debug("status update", "call_id", callID, "status", status, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// StreamURL builds the tokenized media URL for an engine call. It is also
// used when dialling outbound legs.
func (h *Webhooks) StreamURL(callID string) (string, error) {
	return h.streamURL(callID)
}

func (h *Webhooks) streamURL(callID string) (string, error) {
	token, err := h.Tokens.Mint(callID)
	if err != nil {
		return "", err
	}
	return h.MediaWSURL + "/ws/" + callID + "?token=" + url.QueryEscape(token), nil
}

func writeTwiML(w http.ResponseWriter, doc twimlResponse) {
	body, err := xmlEncode(doc)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write([]byte(body))
}
