// Package twilio adapts the Twilio Voice REST API to the provider.Port
// contract, using the official Twilio SDK for call placement and mapping
// Twilio's webhook form fields onto normalized events.
package twilio

import (
	"context"
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/outboundly/campaigns/internal/provider"
)

// Adapter implements provider.VendorAdapter for Twilio using a fresh REST client per
// call, keyed by the resolved tenant (or default) credentials.
type Adapter struct {
	signer *provider.TokenSigner
}

// New builds a Twilio adapter. signer verifies the opaque callId token on
// incoming webhooks.
func New(signer *provider.TokenSigner) *Adapter {
	return &Adapter{signer: signer}
}

func (a *Adapter) client(creds provider.Credentials) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: creds.AccountSID,
		Password: creds.AuthToken,
	})
}

// PlaceCall places an outbound call via Twilio's Calls resource, pointing
// the status callback and TwiML webhook at the engine's own URLs. cb's
// URLs already carry the opaque callId token; this adapter never needs to
// know the engine-side callId.
func (a *Adapter) PlaceCall(ctx context.Context, creds provider.Credentials, from, to string, cb provider.Callbacks) (string, error) {
	client := a.client(creds)

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(cb.RingURL)
	params.SetStatusCallback(cb.HangupURL)
	params.SetStatusCallbackEvent([]string{"answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	call, err := client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("%w: twilio create call: %v", provider.ErrProviderUnavailable, err)
	}
	if call.Sid == nil {
		return "", &provider.RejectedError{Reason: "twilio returned no call sid"}
	}
	if call.Status != nil && (*call.Status == "failed" || *call.Status == "canceled") {
		return "", &provider.RejectedError{Reason: *call.Status}
	}
	return *call.Sid, nil
}

// NormalizeWebhook maps Twilio's status-callback form fields onto the
// engine's event model. rawPayload is the url.Values-encoded POST body.
func (a *Adapter) NormalizeWebhook(ctx context.Context, rawPayload []byte, tokenFromURL string) (provider.NormalizedWebhook, error) {
	callID, err := a.signer.Verify(tokenFromURL)
	if err != nil {
		return provider.NormalizedWebhook{}, fmt.Errorf("normalizing twilio webhook: %w", err)
	}

	values, err := url.ParseQuery(string(rawPayload))
	if err != nil {
		return provider.NormalizedWebhook{}, fmt.Errorf("parsing twilio webhook body: %w", err)
	}

	status := values.Get("CallStatus")
	fields := provider.WebhookFields{
		ProviderCallRef: values.Get("CallSid"),
		HangupCause:     values.Get("SipResponseCode"),
		RecordingURL:    values.Get("RecordingUrl"),
	}
	if d := values.Get("CallDuration"); d != "" {
		fmt.Sscanf(d, "%d", &fields.DurationSeconds)
	}

	var event provider.Event
	switch status {
	case "ringing", "queued", "initiated":
		event = provider.EventRing
	case "in-progress":
		event = provider.EventAnswered
	case "completed", "busy", "failed", "no-answer", "canceled":
		event = provider.EventHangup
	default:
		return provider.NormalizedWebhook{}, fmt.Errorf("unrecognized twilio call status %q", status)
	}

	return provider.NormalizedWebhook{CallID: callID, Event: event, Fields: fields}, nil
}
