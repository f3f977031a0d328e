// Package twilio implements the telephony.Carrier interface and the webhook
// handlers for Twilio Programmable Voice. Call media is bridged to the
// engine's media WebSocket through TwiML <Connect><Stream>.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxpipe-ai/voxpipe/internal/telephony"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

const (
	defaultAPIBase = "https://api.twilio.com/2010-04-01"
	defaultTimeout = 15 * time.Second
)

// Option is a functional option for the Client.
type Option func(*Client)

// WithAPIBase overrides the Twilio REST base URL. Used in tests.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client drives the Twilio Calls REST API.
type Client struct {
	accountSID string
	authToken  string
	base       string
	httpClient *http.Client
}

var _ telephony.Carrier = (*Client)(nil)

// New creates a Twilio client. Both credentials must be non-empty.
func New(accountSID, authToken string, opts ...Option) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio: account sid and auth token must not be empty")
	}
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		base:       defaultAPIBase,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dial places an outbound call that bridges its media to params.StreamURL.
func (c *Client) Dial(ctx context.Context, params telephony.DialParams) (string, error) {
	twiml, err := connectStreamTwiML(params.StreamURL)
	if err != nil {
		return "", fmt.Errorf("twilio: dial: %w", err)
	}

	form := url.Values{}
	form.Set("From", params.From)
	form.Set("To", params.To)
	form.Set("Twiml", twiml)
	if params.StatusCallbackURL != "" {
		form.Set("StatusCallback", params.StatusCallbackURL)
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := c.post(ctx, "/Calls.json", form, &created); err != nil {
		return "", err
	}
	if created.SID == "" {
		return "", errors.New("twilio: dial: response missing call sid")
	}
	return created.SID, nil
}

// Hangup completes the call leg.
func (c *Client) Hangup(ctx context.Context, carrierCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.post(ctx, "/Calls/"+carrierCallID+".json", form, nil)
}

// Transfer redirects the live leg to a plain dial of the destination.
func (c *Client) Transfer(ctx context.Context, carrierCallID, destination string) error {
	twiml, err := xmlEncode(twimlResponse{Dial: destination})
	if err != nil {
		return fmt.Errorf("twilio: transfer: %w", err)
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return c.post(ctx, "/Calls/"+carrierCallID+".json", form, nil)
}

// SendDigits plays DTMF digits on the live leg.
func (c *Client) SendDigits(ctx context.Context, carrierCallID, digits string) error {
	twiml, err := xmlEncode(twimlResponse{Play: &twimlPlay{Digits: digits}})
	if err != nil {
		return fmt.Errorf("twilio: send digits: %w", err)
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return c.post(ctx, "/Calls/"+carrierCallID+".json", form, nil)
}

// post issues one authenticated form POST against the account's API scope.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := c.base + "/Accounts/" + c.accountSID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twilio: %s returned %d: %s", path, resp.StatusCode, truncate(string(body), 256))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("twilio: decode response: %w", err)
		}
	}
	return nil
}

// mapStatus translates a Twilio call status into the engine's CallStatus.
func mapStatus(s string) (types.CallStatus, bool) {
	switch s {
	case "queued", "initiated":
		return types.CallStatusQueued, true
	case "ringing":
		return types.CallStatusRinging, true
	case "in-progress", "answered":
		return types.CallStatusInProgress, true
	case "completed":
		return types.CallStatusCompleted, true
	case "busy":
		return types.CallStatusBusy, true
	case "no-answer":
		return types.CallStatusNoAnswer, true
	case "failed", "canceled":
		return types.CallStatusFailed, true
	}
	return "", false
}

// TwiML documents. Field order matters: Twilio executes verbs in document
// order, so Say must precede Hangup.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Dial    string        `xml:"Dial,omitempty"`
	Play    *twimlPlay    `xml:"Play,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlPlay struct {
	Digits string `xml:"digits,attr"`
}

func connectStreamTwiML(streamURL string) (string, error) {
	if streamURL == "" {
		return "", errors.New("stream url must not be empty")
	}
	return xmlEncode(twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}}})
}

func xmlEncode(doc twimlResponse) (string, error) {
	raw, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
