package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/outboundly/campaigns/internal/api/middleware"
	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
)

// createCampaignRequest is the body for POST /v1/campaigns.
type createCampaignRequest struct {
	Name          string `json:"name"`
	ListID        string `json:"list_id"`
	FromNumber    string `json:"from_number"`
	ProviderHint  string `json:"provider_hint"`
	BotEndpoint   string `json:"bot_endpoint"`
	TotalContacts int    `json:"total_contacts"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	var req createCampaignRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Name == "" || req.ListID == "" || req.FromNumber == "" {
		writeError(w, http.StatusBadRequest, "name, list_id, and from_number are required")
		return
	}
	if req.TotalContacts <= 0 {
		writeError(w, http.StatusBadRequest, "total_contacts must be positive")
		return
	}

	campaign := &models.Campaign{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Name:          req.Name,
		ListID:        req.ListID,
		FromNumber:    req.FromNumber,
		ProviderHint:  req.ProviderHint,
		BotEndpoint:   req.BotEndpoint,
		TotalContacts: req.TotalContacts,
	}
	if err := s.campaigns.Create(r.Context(), campaign); err != nil {
		s.log.Error("creating campaign failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating campaign failed")
		return
	}

	s.runner.Start(campaign.ID)

	writeJSON(w, http.StatusCreated, map[string]any{"campaign_id": campaign.ID})
}

// loadOwnedCampaign fetches id and confirms it belongs to the authenticated
// tenant, mirroring handleCampaignProgress's check. A mismatch returns
// not-found rather than forbidden so a valid API key can't be used to probe
// for the existence of another tenant's campaigns.
func (s *Server) loadOwnedCampaign(w http.ResponseWriter, r *http.Request, id string) (*models.Campaign, bool) {
	c, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.writeCampaignError(w, err)
		return nil, false
	}
	if c.TenantID != middleware.TenantIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return nil, false
	}
	return c, true
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadOwnedCampaign(w, r, id); !ok {
		return
	}
	if err := s.campaigns.Pause(r.Context(), id, models.PauseReasonUser); err != nil {
		s.writeCampaignError(w, err)
		return
	}
	s.runner.Stop(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadOwnedCampaign(w, r, id); !ok {
		return
	}
	if err := s.campaigns.Resume(r.Context(), id); err != nil {
		s.writeCampaignError(w, err)
		return
	}

	campaign, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.writeCampaignError(w, err)
		return
	}
	s.runner.Start(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"remaining": campaign.TotalContacts - campaign.CurrentIndex,
	})
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadOwnedCampaign(w, r, id); !ok {
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())
	if err := s.campaigns.Cancel(r.Context(), id, tenantID); err != nil {
		s.writeCampaignError(w, err)
		return
	}
	s.runner.Stop(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// heartbeatHealth classifies a campaign's heartbeat age: healthy <60s,
// stale <OrphanThreshold, inactive >=OrphanThreshold.
func (s *Server) heartbeatHealth(c *models.Campaign) string {
	age := time.Since(c.Heartbeat)
	switch {
	case age < 60*time.Second:
		return "healthy"
	case age < s.cfg.OrphanThreshold:
		return "stale"
	default:
		return "inactive"
	}
}

func (s *Server) handleCampaignProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.writeCampaignError(w, err)
		return
	}
	if c.TenantID != middleware.TenantIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           c.Status,
		"current_index":    c.CurrentIndex,
		"total":            c.TotalContacts,
		"processed":        c.ProcessedContacts,
		"connected":        c.ConnectedCount,
		"failed":           c.FailedCount,
		"heartbeat":        c.Heartbeat,
		"heartbeat_health": s.heartbeatHealth(c),
		"paused_at":        c.PausedAt,
		"resumed_at":       c.ResumedAt,
	})
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	pagination, msg := parsePagination(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	filter := store.CampaignFilter{
		TenantID: tenantID,
		Status:   models.CampaignStatus(r.URL.Query().Get("status")),
		Limit:    pagination.Limit,
		Offset:   pagination.Offset,
	}
	campaigns, err := s.campaigns.List(r.Context(), filter)
	if err != nil {
		s.log.Error("listing campaigns failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing campaigns failed")
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  campaigns,
		Total:  len(campaigns),
		Limit:  pagination.Limit,
		Offset: pagination.Offset,
	})
}

// writeCampaignError maps store sentinel errors onto HTTP status codes:
// InvalidState -> 409, NotFound -> 404.
func (s *Server) writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, store.ErrInvalidState):
		writeError(w, http.StatusConflict, "campaign is not in a valid state for this operation")
	default:
		s.log.Error("campaign operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
