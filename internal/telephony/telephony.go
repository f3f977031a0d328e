// Package telephony defines the carrier-facing surface of the engine: an
// abstract Carrier for outbound call control and a Bridge that resolves
// engine call IDs to carrier call legs.
package telephony

import (
	"context"
	"fmt"

	"github.com/voxpipe-ai/voxpipe/internal/store"
)

// CarrierMetaCallSID is the CarrierMeta key holding the carrier's own call
// identifier.
const CarrierMetaCallSID = "call_sid"

// DialParams describes one outbound call.
type DialParams struct {
	// From and To are E.164 numbers.
	From string
	To   string

	// StreamURL is the wss:// media endpoint the carrier bridges audio to.
	StreamURL string

	// StatusCallbackURL receives carrier lifecycle callbacks. Optional.
	StatusCallbackURL string
}

// Carrier is the operations the engine needs from a telephony provider. All
// identifiers are carrier-side call IDs.
type Carrier interface {
	// Dial places an outbound call and returns the carrier call ID.
	Dial(ctx context.Context, params DialParams) (string, error)

	// Hangup terminates the call leg.
	Hangup(ctx context.Context, carrierCallID string) error

	// Transfer redirects the leg to another destination number.
	Transfer(ctx context.Context, carrierCallID, destination string) error

	// SendDigits plays DTMF digits on the leg.
	SendDigits(ctx context.Context, carrierCallID, digits string) error
}

// Bridge adapts a Carrier to engine call IDs by resolving the carrier leg
// through the call store. It satisfies the session's transfer and DTMF
// collaborator interfaces.
type Bridge struct {
	Carrier Carrier
	Store   store.CallStore
}

// Transfer redirects the call's carrier leg to destination.
func (b *Bridge) Transfer(ctx context.Context, callID, destination string) error {
	sid, err := b.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	return b.Carrier.Transfer(ctx, sid, destination)
}

// SendDigits plays DTMF digits on the call's carrier leg.
func (b *Bridge) SendDigits(ctx context.Context, callID, digits string) error {
	sid, err := b.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	return b.Carrier.SendDigits(ctx, sid, digits)
}

// Hangup terminates the call's carrier leg.
func (b *Bridge) Hangup(ctx context.Context, callID string) error {
	sid, err := b.carrierSID(ctx, callID)
	if err != nil {
		return err
	}
	return b.Carrier.Hangup(ctx, sid)
}

func (b *Bridge) carrierSID(ctx context.Context, callID string) (string, error) {
	call, err := b.Store.GetCall(ctx, callID)
	if err != nil {
		return "", fmt.Errorf("telephony: resolve call %s: %w", callID, err)
	}
	sid := call.CarrierMeta[CarrierMetaCallSID]
	if sid == "" {
		return "", fmt.Errorf("telephony: call %s has no carrier leg", callID)
	}
	return sid, nil
}
