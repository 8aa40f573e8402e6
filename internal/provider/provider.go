// Package provider is the narrow port used by the runner and registry to
// place calls and interpret provider webhooks without knowing which
// telephony vendor is behind a tenant's configuration.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Name identifies a telephony provider.
type Name string

const (
	Twilio Name = "twilio"
	Plivo  Name = "plivo"
)

// ErrProviderUnavailable signals a transient failure placing a call; the
// runner retries the same contact up to its configured retry budget.
var ErrProviderUnavailable = errors.New("provider: unavailable")

// RejectedError signals a call placement the provider refused outright;
// the runner marks the contact failed and advances without retrying.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("provider: rejected: %s", e.Reason) }

// Credentials are a tenant's own provider credentials, already decrypted.
type Credentials struct {
	AccountSID string
	AuthToken  string
	APIKey     string
	APISecret  string
	IsDefault  bool // true when no tenant override exists and system defaults were used
}

// Callbacks carries the webhook URLs placeCall attaches to the outbound
// dial, each already embedding an opaque token identifying the engine-side
// callId (see token.go).
type Callbacks struct {
	RingURL        string
	StreamStartURL string
	HangupURL      string
}

// Event is the normalized shape of a provider webhook, independent of the
// wire format any one vendor uses.
type Event string

const (
	EventRing      Event = "ring"
	EventAnswered  Event = "answered"
	EventHangup    Event = "hangup"
	EventRecording Event = "recording"
)

// WebhookFields carries the provider-specific values a normalized webhook
// delivers, with zero values where the event doesn't apply.
type WebhookFields struct {
	ProviderCallRef string
	DurationSeconds int
	HangupCause     string
	RecordingURL    string
}

// NormalizedWebhook is the result of mapping a raw provider payload onto
// the engine's callId and event model.
type NormalizedWebhook struct {
	CallID string
	Event  Event
	Fields WebhookFields
}

// Port is the provider capability the campaign runner and the call
// registry use.
type Port interface {
	// ResolveCredentials returns a tenant's decrypted credentials, or the
	// process-wide default (Credentials.IsDefault true) when no override
	// exists. It never errors on a missing override.
	ResolveCredentials(ctx context.Context, tenantID string, name Name) (Credentials, error)

	// PlaceCall dials from -> to using creds, attaching cb's webhook URLs.
	// Returns ErrProviderUnavailable or a *RejectedError on failure.
	PlaceCall(ctx context.Context, name Name, creds Credentials, from, to string, cb Callbacks) (providerCallRef string, err error)

	// NormalizeWebhook maps a raw provider payload to the engine's event
	// model, extracting callId from the opaque token in the callback URL.
	NormalizeWebhook(ctx context.Context, name Name, rawPayload []byte, tokenFromURL string) (NormalizedWebhook, error)
}

// VendorAdapter is the narrower, single-vendor half of Port that each
// provider package (twilio, plivo) implements; Router dispatches across
// vendors by Name to present a single Port to the rest of the system.
type VendorAdapter interface {
	PlaceCall(ctx context.Context, creds Credentials, from, to string, cb Callbacks) (providerCallRef string, err error)
	NormalizeWebhook(ctx context.Context, rawPayload []byte, tokenFromURL string) (NormalizedWebhook, error)
}
