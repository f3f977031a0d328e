package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

func TestNewValidatesCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New("", "token"); err == nil {
		t.Error("New accepted empty account sid")
	}
	if _, err := New("AC123", ""); err == nil {
		t.Error("New accepted empty auth token")
	}
	if _, err := New("AC123", "token"); err != nil {
		t.Errorf("New: %v", err)
	}
}

// newCarrierServer captures the last REST request and replies with body.
func newCarrierServer(t *testing.T, status int, body string) (*Client, *http.Request, *[]byte) {
	t.Helper()
	var lastReq http.Request
	lastBody := new([]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastReq = *r
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		*lastBody = []byte(r.PostForm.Encode())
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := New("AC123", "token", WithAPIBase(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &lastReq, lastBody
}

func TestDial(t *testing.T) {
	t.Parallel()

	c, req, body := newCarrierServer(t, http.StatusCreated, `{"sid":"CA999"}`)

	sid, err := c.Dial(context.Background(), telephony.DialParams{
		From:              "+15550001111",
		To:                "+15550002222",
		StreamURL:         "wss://media.test/ws/call-1?token=tok",
		StatusCallbackURL: "https://engine.test/twilio/status?callId=call-1",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if sid != "CA999" {
		t.Errorf("sid = %q", sid)
	}
	if req.URL.Path != "/Accounts/AC123/Calls.json" {
		t.Errorf("path = %q", req.URL.Path)
	}
	if user, pass, _ := req.BasicAuth(); user != "AC123" || pass != "token" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}

	form := string(*body)
	for _, want := range []string{"From=%2B15550001111", "To=%2B15550002222", "StatusCallback="} {
		if !strings.Contains(form, want) {
			t.Errorf("form missing %q: %s", want, form)
		}
	}
	if !strings.Contains(form, "Connect") || !strings.Contains(form, "Stream") {
		t.Errorf("Twiml missing Connect/Stream: %s", form)
	}
}

func TestDialRequiresStreamURL(t *testing.T) {
	t.Parallel()

	c, _, _ := newCarrierServer(t, http.StatusCreated, `{"sid":"CA1"}`)
	if _, err := c.Dial(context.Background(), telephony.DialParams{From: "+1", To: "+2"}); err == nil {
		t.Error("Dial accepted empty stream url")
	}
}

func TestHangup(t *testing.T) {
	t.Parallel()

	c, req, body := newCarrierServer(t, http.StatusOK, `{}`)
	if err := c.Hangup(context.Background(), "CA55"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if req.URL.Path != "/Accounts/AC123/Calls/CA55.json" {
		t.Errorf("path = %q", req.URL.Path)
	}
	if !strings.Contains(string(*body), "Status=completed") {
		t.Errorf("form = %s", *body)
	}
}

func TestTransfer(t *testing.T) {
	t.Parallel()

	c, _, body := newCarrierServer(t, http.StatusOK, `{}`)
	if err := c.Transfer(context.Background(), "CA55", "+15559990000"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !strings.Contains(string(*body), "Dial") || !strings.Contains(string(*body), "15559990000") {
		t.Errorf("form = %s", *body)
	}
}

func TestSendDigits(t *testing.T) {
	t.Parallel()

	c, _, body := newCarrierServer(t, http.StatusOK, `{}`)
	if err := c.SendDigits(context.Background(), "CA55", "12#"); err != nil {
		t.Fatalf("SendDigits: %v", err)
	}
	if !strings.Contains(string(*body), "Play") || !strings.Contains(string(*body), "digits") {
		t.Errorf("form = %s", *body)
	}
}

func TestRESTErrorSurfaces(t *testing.T) {
	t.Parallel()

	c, _, _ := newCarrierServer(t, http.StatusUnauthorized, `{"message":"authenticate"}`)
	if err := c.Hangup(context.Background(), "CA55"); err == nil {
		t.Error("Hangup swallowed a 401")
	}
}

func TestMapStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		carrier string
		want    types.CallStatus
		ok      bool
	}{
		{"queued", types.CallStatusQueued, true},
		{"initiated", types.CallStatusQueued, true},
		{"ringing", types.CallStatusRinging, true},
		{"in-progress", types.CallStatusInProgress, true},
		{"answered", types.CallStatusInProgress, true},
		{"completed", types.CallStatusCompleted, true},
		{"busy", types.CallStatusBusy, true},
		{"no-answer", types.CallStatusNoAnswer, true},
		{"failed", types.CallStatusFailed, true},
		{"canceled", types.CallStatusFailed, true},
		{"warbling", "", false},
	}
	for _, tc := range cases {
		got, ok := mapStatus(tc.carrier)
		if got != tc.want || ok != tc.ok {
			t.Errorf("mapStatus(%q) = %q, %v", tc.carrier, got, ok)
		}
	}
}

func TestConnectStreamTwiML(t *testing.T) {
	t.Parallel()

	doc, err := connectStreamTwiML("wss://media.test/ws/c1?token=t")
	if err != nil {
		t.Fatalf("connectStreamTwiML: %v", err)
	}
	if !strings.Contains(doc, `<Stream url="wss://media.test/ws/c1?token=t">`) &&
		!strings.Contains(doc, `<Stream url="wss://media.test/ws/c1?token=t"/>`) {
		t.Errorf("twiml = %s", doc)
	}
	if !strings.HasPrefix(doc, "<?xml") {
		t.Errorf("missing xml header: %s", doc)
	}
}
