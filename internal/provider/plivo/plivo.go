// Package plivo adapts Plivo's Voice REST API to the provider.Port
// contract. No Plivo Go SDK exists in the retrieval pack this codebase
// was built from, so this is a direct net/http client against Plivo's
// documented REST endpoints, following the same account-scoped REST
// client shape other provider adapters in this codebase use.
package plivo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/outboundly/campaigns/internal/provider"
)

const baseURL = "https://api.plivo.com/v1/Account"

// Adapter implements provider.VendorAdapter for Plivo.
type Adapter struct {
	httpClient *http.Client
	signer     *provider.TokenSigner
}

// New builds a Plivo adapter. signer verifies the opaque callId token on
// incoming webhooks.
func New(signer *provider.TokenSigner) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		signer:     signer,
	}
}

type createCallRequest struct {
	From                string   `json:"from"`
	To                  string   `json:"to"`
	AnswerURL           string   `json:"answer_url"`
	AnswerMethod        string   `json:"answer_method"`
	HangupURL           string   `json:"hangup_url"`
	HangupMethod        string   `json:"hangup_method"`
	RingURL             string   `json:"ring_url"`
	RingMethod          string   `json:"ring_method"`
	MachineDetection    string   `json:"machine_detection,omitempty"`
}

type createCallResponse struct {
	RequestUUID string `json:"request_uuid"`
	Message     string `json:"message"`
	APIID       string `json:"api_id"`
	Error       string `json:"error"`
}

// PlaceCall dials from -> to through Plivo's Call resource.
func (a *Adapter) PlaceCall(ctx context.Context, creds provider.Credentials, from, to string, cb provider.Callbacks) (string, error) {
	body, err := json.Marshal(createCallRequest{
		From:         from,
		To:           to,
		AnswerURL:    cb.StreamStartURL,
		AnswerMethod: "POST",
		HangupURL:    cb.HangupURL,
		HangupMethod: "POST",
		RingURL:      cb.RingURL,
		RingMethod:   "POST",
	})
	if err != nil {
		return "", fmt.Errorf("encoding plivo call request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/Call/", baseURL, creds.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building plivo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.APIKey, creds.APISecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: plivo create call: %v", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decoding plivo response: %v", provider.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: plivo status %d: %s", provider.ErrProviderUnavailable, resp.StatusCode, parsed.Error)
	}
	if resp.StatusCode >= 400 || parsed.RequestUUID == "" {
		reason := parsed.Error
		if reason == "" {
			reason = parsed.Message
		}
		return "", &provider.RejectedError{Reason: reason}
	}

	return parsed.RequestUUID, nil
}

// NormalizeWebhook maps Plivo's status callback form fields onto the
// engine's event model. rawPayload is the url.Values-encoded POST body.
func (a *Adapter) NormalizeWebhook(ctx context.Context, rawPayload []byte, tokenFromURL string) (provider.NormalizedWebhook, error) {
	callID, err := a.signer.Verify(tokenFromURL)
	if err != nil {
		return provider.NormalizedWebhook{}, fmt.Errorf("normalizing plivo webhook: %w", err)
	}

	values, err := url.ParseQuery(string(rawPayload))
	if err != nil {
		return provider.NormalizedWebhook{}, fmt.Errorf("parsing plivo webhook body: %w", err)
	}

	status := values.Get("CallStatus")
	fields := provider.WebhookFields{
		ProviderCallRef: values.Get("CallUUID"),
		HangupCause:     values.Get("HangupCause"),
		RecordingURL:    values.Get("RecordingUrl"),
	}
	if d := values.Get("Duration"); d != "" {
		fmt.Sscanf(d, "%d", &fields.DurationSeconds)
	}

	var event provider.Event
	switch status {
	case "ringing":
		event = provider.EventRing
	case "in-progress":
		event = provider.EventAnswered
	case "completed", "busy", "failed", "no-answer", "rejected", "timeout":
		event = provider.EventHangup
	default:
		return provider.NormalizedWebhook{}, fmt.Errorf("unrecognized plivo call status %q", status)
	}

	return provider.NormalizedWebhook{CallID: callID, Event: event, Fields: fields}, nil
}
