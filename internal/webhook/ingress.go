// Package webhook implements the Webhook Ingress: a stateless adapter
// that normalizes inbound provider callbacks and applies them to the
// Active Call Registry's state machine.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/outboundly/campaigns/internal/provider"
)

// maxBodySize bounds provider callback payloads; both Twilio and Plivo
// send small form/JSON bodies, never audio or media.
const maxBodySize = 1 << 20

// Registry is the subset of the Active Call Registry ingress needs;
// *registry.Registry satisfies it. Billing's hangup-event debit is
// already applied inside OnEvent, right after the transition to completed
// succeeds, rather than called separately here.
type Registry interface {
	OnEvent(ctx context.Context, callID string, event provider.Event, fields provider.WebhookFields) error
}

// Ingress is an http.Handler exposing /{provider}/ring, /stream-start, and
// /hangup for each configured provider. It holds no per-call state: every
// request is parsed, normalized, and applied independently.
type Ingress struct {
	router   chi.Router
	provider provider.Port
	registry Registry
	log      *slog.Logger
}

// New builds an Ingress handler over the Provider Port and Active Call
// Registry.
func New(port provider.Port, reg Registry, log *slog.Logger) *Ingress {
	if log == nil {
		log = slog.Default()
	}
	ing := &Ingress{
		router:   chi.NewRouter(),
		provider: port,
		registry: reg,
		log:      log.With("component", "webhook"),
	}
	ing.routes()
	return ing
}

// ServeHTTP implements http.Handler.
func (ing *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ing.router.ServeHTTP(w, r)
}

func (ing *Ingress) routes() {
	for _, name := range []provider.Name{provider.Twilio, provider.Plivo} {
		name := name
		ing.router.Route("/"+string(name), func(r chi.Router) {
			r.Post("/ring", ing.handle(name))
			r.Post("/stream-start", ing.handle(name))
			r.Post("/hangup", ing.handle(name))
		})
	}
}

// handle parses the raw body, normalizes it via the Provider Port, and
// applies the resulting event to the registry. The transition table is
// idempotent against repeated provider retries, so a 200 is returned even
// when the underlying transition was a no-op. An unreadable body or a
// normalization failure returns 400; a registry error returns 500.
func (ing *Ingress) handle(name provider.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			ing.log.Warn("reading webhook body failed", "provider", name, "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token := r.URL.Query().Get("token")
		normalized, err := ing.provider.NormalizeWebhook(r.Context(), name, body, token)
		if err != nil {
			ing.log.Warn("normalizing webhook failed", "provider", name, "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := ing.registry.OnEvent(r.Context(), normalized.CallID, normalized.Event, normalized.Fields); err != nil {
			ing.log.Error("applying webhook event failed",
				"provider", name, "call_id", normalized.CallID, "event", normalized.Event, "error", err,
			)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ackResponse{OK: true})
	}
}

type ackResponse struct {
	OK bool `json:"ok"`
}
