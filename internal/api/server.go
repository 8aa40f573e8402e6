// Package api is the Control API: tenant-scoped HTTP endpoints for
// creating and driving campaigns, and for placing a single bypass call
// through the same admission/billing path.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/outboundly/campaigns/internal/api/middleware"
	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/registry"
	"github.com/outboundly/campaigns/internal/runner"
	"github.com/outboundly/campaigns/internal/store"
)

// Config tunes the handful of values handlers need but that don't belong
// to any one store (heartbeat health thresholds, the default provider for
// SingleCall, and CORS).
type Config struct {
	OrphanThreshold time.Duration
	DefaultProvider provider.Name
	WebhookBaseURL  string
	CORSOrigins     string
	TLSEnabled      bool
}

// Server holds the Control API's dependencies and chi router.
type Server struct {
	router    *chi.Mux
	campaigns *store.CampaignStore
	apikeys   *store.APIKeyStore
	reg       *registry.Registry
	billing   *billing.Ledger
	runner    *runner.Manager
	provider  provider.Port
	signer    *provider.TokenSigner
	cfg       Config
	log       *slog.Logger
}

// NewServer builds the Control API handler with all routes mounted.
func NewServer(
	campaigns *store.CampaignStore,
	apikeys *store.APIKeyStore,
	reg *registry.Registry,
	ledger *billing.Ledger,
	mgr *runner.Manager,
	prov provider.Port,
	signer *provider.TokenSigner,
	cfg Config,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		campaigns: campaigns,
		apikeys:   apikeys,
		reg:       reg,
		billing:   ledger,
		runner:    mgr,
		provider:  prov,
		signer:    signer,
		cfg:       cfg,
		log:       log.With("component", "api"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.apikeys))

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleCampaignProgress)
				r.Post("/pause", s.handlePauseCampaign)
				r.Post("/resume", s.handleResumeCampaign)
				r.Post("/cancel", s.handleCancelCampaign)
			})
		})

		r.Post("/calls/single", s.handleSingleCall)
	})

	slog.Debug("control api routes mounted")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
