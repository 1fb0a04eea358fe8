package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/fitcoachhq/fitcoach-ai-platform/internal/http/middleware"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/rules"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/webchat"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/whatsapp"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	WhatsAppWebhook *whatsapp.WebhookHandler
	ClientSync      *handlers.ClientSyncHandler
	Webchat         *webchat.Handler
	RulesHandler    *rules.Handler
	AdminDashboard  *handlers.AdminDashboardHandler
	MetricsHandler  http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, chat simulator, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)

		if cfg.WhatsAppWebhook != nil {
			public.Route("/webhooks/whatsapp", func(r chi.Router) {
				r.Get("/", cfg.WhatsAppWebhook.HandleVerification)
				r.Post("/", cfg.WhatsAppWebhook.HandleInbound)
			})
		}
		if cfg.ClientSync != nil {
			public.Route("/api/clients", func(r chi.Router) {
				r.Get("/", cfg.ClientSync.ListClients)
				r.Post("/", cfg.ClientSync.SyncClients)
			})
		}
		if cfg.Webchat != nil {
			public.Route("/api/chat", func(r chi.Router) {
				r.Post("/start", cfg.Webchat.HandleStart)
				r.Post("/message", cfg.Webchat.HandleMessage)
				r.Post("/reset", cfg.Webchat.HandleReset)
			})
			public.Get("/webchat/ws", cfg.Webchat.HandleWebSocket)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.RulesHandler != nil || cfg.AdminDashboard != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.RulesHandler != nil {
				admin.Get("/rules", cfg.RulesHandler.GetRules)
				admin.Put("/rules", cfg.RulesHandler.UpdateRules)
			}
			if cfg.AdminDashboard != nil {
				admin.Get("/dashboard", cfg.AdminDashboard.GetDashboardOverview)
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
