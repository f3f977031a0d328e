package twilio

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxpipe-ai/voxpipe/internal/store"
	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/internal/transport"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

func newWebhooks(t *testing.T, st store.CallStore) *Webhooks {
	t.Helper()
	return &Webhooks{
		Store: st,
		AssistantForNumber: func(number string) *types.Assistant {
			if number == "+15550001111" {
				return &types.Assistant{ID: "asst-1", OrgID: "org-1", Name: "Receptionist"}
			}
			return nil
		},
		Tokens:     transport.NewTokenIssuer("secret"),
		MediaWSURL: "wss://media.test",
	}
}

func postForm(t *testing.T, h http.HandlerFunc, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestInboundAssignedNumber(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	h := newWebhooks(t, st)

	rec := postForm(t, h.Inbound, "/twilio/inbound", url.Values{
		"CallSid": {"CA42"},
		"From":    {"+15557770000"},
		"To":      {"+15550001111"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("content type = %q", ct)
	}

	var doc twimlResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse twiml: %v", err)
	}
	if doc.Connect == nil {
		t.Fatalf("no Connect verb: %s", rec.Body.String())
	}

	streamURL, err := url.Parse(doc.Connect.Stream.URL)
	if err != nil {
		t.Fatalf("parse stream url: %v", err)
	}
	if streamURL.Scheme != "wss" || streamURL.Host != "media.test" {
		t.Errorf("stream url = %s", streamURL)
	}
	callID := strings.TrimPrefix(streamURL.Path, "/ws/")
	if callID == "" || callID == streamURL.Path {
		t.Fatalf("stream path = %q", streamURL.Path)
	}
	if err := h.Tokens.Verify(streamURL.Query().Get("token"), callID); err != nil {
		t.Errorf("stream token: %v", err)
	}

	call, err := st.GetCall(context.Background(), callID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Kind != types.CallKindInbound || call.Status != types.CallStatusRinging {
		t.Errorf("call = %+v", call)
	}
	if call.From != "+15557770000" || call.To != "+15550001111" || call.AssistantID != "asst-1" {
		t.Errorf("call = %+v", call)
	}
	if call.CarrierMeta[telephony.CarrierMetaCallSID] != "CA42" {
		t.Errorf("carrier meta = %v", call.CarrierMeta)
	}
}

func TestInboundUnassignedNumber(t *testing.T) {
	t.Parallel()

	h := newWebhooks(t, store.NewMemoryStore())
	rec := postForm(t, h.Inbound, "/twilio/inbound", url.Values{
		"CallSid": {"CA42"},
		"From":    {"+15557770000"},
		"To":      {"+15559998888"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var doc twimlResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse twiml: %v", err)
	}
	if doc.Say == "" || doc.Hangup == nil {
		t.Errorf("want Say + Hangup, got %s", rec.Body.String())
	}
	if doc.Connect != nil {
		t.Error("unassigned number got a media bridge")
	}
}

func TestStatusCallbackTerminal(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	if err := st.UpsertCall(context.Background(), &types.Call{
		ID: "call-1", Kind: types.CallKindInbound, Status: types.CallStatusRinging, AssistantID: "asst-1",
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	h := newWebhooks(t, st)
	var terminal []string
	h.OnTerminal = func(callID string) { terminal = append(terminal, callID) }

	rec := postForm(t, h.Status, "/twilio/status?callId=call-1", url.Values{
		"CallSid":    {"CA42"},
		"CallStatus": {"completed"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(terminal) != 1 || terminal[0] != "call-1" {
		t.Errorf("OnTerminal calls = %v", terminal)
	}
}

func TestStatusCallbackNonTerminal(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	if err := st.UpsertCall(context.Background(), &types.Call{
		ID: "call-1", Kind: types.CallKindOutbound, Status: types.CallStatusQueued, AssistantID: "asst-1",
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	h := newWebhooks(t, st)
	h.OnTerminal = func(string) { t.Error("OnTerminal invoked for non-terminal status") }

	rec := postForm(t, h.Status, "/twilio/status?callId=call-1", url.Values{
		"CallSid":    {"CA42"},
		"CallStatus": {"ringing"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	call, err := st.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Status != types.CallStatusRinging {
		t.Errorf("status = %q", call.Status)
	}
}

func TestStatusCallbackUnknownStatus(t *testing.T) {
	t.Parallel()

	h := newWebhooks(t, store.NewMemoryStore())
	h.OnTerminal = func(string) { t.Error("OnTerminal invoked for unknown status") }

	rec := postForm(t, h.Status, "/twilio/status?callId=call-1", url.Values{
		"CallStatus": {"warbling"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
