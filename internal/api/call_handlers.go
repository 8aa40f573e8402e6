package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/outboundly/campaigns/internal/api/middleware"
	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/registry"
)

// singleCallRequest is the body for POST /v1/calls/single, which bypasses
// campaigns but shares admission, warmup, and billing with
// campaign-sourced calls.
type singleCallRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	BotEndpoint  string `json:"bot_endpoint"`
	ProviderHint string `json:"provider_hint"`
}

func (s *Server) handleSingleCall(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	var req singleCallRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	providerName := provider.Name(req.ProviderHint)
	if providerName == "" {
		providerName = s.cfg.DefaultProvider
	}

	admission, err := s.reg.TryAdmit(r.Context(), tenantID, "", 0, req.From, req.To, providerName)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "insufficient balance")
		case errors.Is(err, registry.ErrConcurrencyFull):
			writeError(w, http.StatusTooManyRequests, "concurrency limit reached")
		default:
			s.log.Error("single call admission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "admission failed")
		}
		return
	}

	if req.BotEndpoint != "" {
		if err := s.reg.Warmup(r.Context(), admission.CallID, req.BotEndpoint); err != nil {
			writeError(w, http.StatusBadGateway, "bot endpoint not ready")
			return
		}
	}

	creds, err := s.provider.ResolveCredentials(r.Context(), tenantID, providerName)
	if err != nil {
		s.log.Error("resolving provider credentials failed", "error", err)
		_ = s.reg.RecordDialFailed(r.Context(), admission.CallID)
		writeError(w, http.StatusInternalServerError, "resolving provider credentials failed")
		return
	}

	token, err := s.signer.Sign(admission.CallID)
	if err != nil {
		s.log.Error("signing callback token failed", "error", err)
		_ = s.reg.RecordDialFailed(r.Context(), admission.CallID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	base := fmt.Sprintf("%s/webhooks/%s", s.cfg.WebhookBaseURL, providerName)
	cb := provider.Callbacks{
		RingURL:        fmt.Sprintf("%s/ring?token=%s", base, token),
		StreamStartURL: fmt.Sprintf("%s/stream-start?token=%s", base, token),
		HangupURL:      fmt.Sprintf("%s/hangup?token=%s", base, token),
	}

	providerCallRef, err := s.provider.PlaceCall(r.Context(), providerName, creds, req.From, req.To, cb)
	if err != nil {
		_ = s.reg.RecordDialFailed(r.Context(), admission.CallID)
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			writeError(w, http.StatusBadRequest, rejected.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "provider unavailable")
		return
	}
	if err := s.reg.RecordDialed(r.Context(), admission.CallID, providerCallRef); err != nil {
		s.log.Error("recording dialed call failed", "call_id", admission.CallID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"call_id": admission.CallID})
}
