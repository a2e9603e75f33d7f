package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/visionclass/backend/internal/api/handlers"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/cache"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/config"
	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/marketplace"
	"github.com/visionclass/backend/internal/metrics"
	"github.com/visionclass/backend/internal/middleware"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/multimodal"
	"github.com/visionclass/backend/internal/ratelimit"
	"github.com/visionclass/backend/internal/repository"
	"github.com/visionclass/backend/internal/stream"
	"github.com/visionclass/backend/internal/upload"
	"github.com/visionclass/backend/internal/workspace"
)

// Server bundles the router with the components main manages across shutdown.
type Server struct {
	Router  *chi.Mux
	Streams *stream.Manager
}

// NewServer wires every component and configures the main router
func NewServer(cfg *config.Config, db *database.DB, store cache.Store) *Server {
	r := chi.NewRouter()

	// Initialize repositories and stores
	userRepo := repository.NewUserRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	subStore := billing.NewPGSubscriptionStore(db)
	usageStore := billing.NewPGUsageStore(db)

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiration)
	apiKeyService := auth.NewAPIKeyService(db)
	authMiddleware := auth.NewAuthMiddleware(jwtService, apiKeyService, userRepo)

	// Billing and rate limiting
	ledger := billing.NewLedger(usageStore, subStore)
	analytics := billing.NewAnalytics(usageStore)
	dashboard := billing.NewDashboard(db)
	limiter := ratelimit.New(store, cfg.RateLimitFailOpen)
	meter := middleware.NewMeter(apiKeyService, subStore, ledger, limiter)

	// Classification pipeline
	backends := []classify.Backend{
		classify.NewMobileNetBackend(),
		classify.NewResNetBackend(),
		classify.NewMockBackend(),
	}
	if vision := classify.NewVisionAPIBackend(cfg.VisionAPIKey, cfg.VisionAPIURL); vision != nil {
		backends = append(backends, vision)
	}
	registry := classify.NewRegistry(backends...)
	resultCache := classify.NewResultCache(store, cfg.CacheTTL, cfg.CacheTimeout, cfg.CacheEnabled)
	dispatcher := classify.NewDispatcher(registry, resultCache, cfg.DefaultModel, cfg.ConfidenceThreshold, cfg.ClassifyTimeout)

	validator := upload.NewValidator(cfg.MaxUploadBytes)
	streamManager := stream.NewManager(dispatcher, ledger, cfg.StreamFrameInterval, cfg.MaxStreamsPerUser)
	multimodalService := multimodal.NewService(dispatcher)
	modelRegistry := marketplace.NewRegistry(db, cfg.ModelStoragePath)
	workspaceService := workspace.NewService(db)

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Timing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))
	if cfg.EnableMetrics {
		r.Use(metrics.Middleware)
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthChecker(db, store)
	authHandler := handlers.NewAuthHandler(userRepo, jwtService, apiKeyService, subStore)
	classifyHandler := handlers.NewClassifyHandler(dispatcher, validator, historyRepo, modelRegistry)
	multimodalHandler := handlers.NewMultimodalHandler(multimodalService, cfg.MaxUploadBytes)
	modelsHandler := handlers.NewModelsHandler(dispatcher)
	historyHandler := handlers.NewHistoryHandler(historyRepo)
	billingHandler := handlers.NewBillingHandler(subStore, analytics, dashboard, cfg.AdminEmails)
	streamHandler := handlers.NewStreamHandler(streamManager, subStore)
	marketplaceHandler := handlers.NewMarketplaceHandler(modelRegistry)
	workspaceHandler := handlers.NewWorkspaceHandler(workspaceService)
	statusHandler := handlers.NewStatusHandler(cfg, dispatcher, streamManager)

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", handlers.LivenessProbe)
	r.Get("/health/ready", healthHandler.ReadinessProbe)

	if cfg.EnableMetrics {
		r.Handle("/metrics", metrics.Handler())
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.RefreshToken)

		// Public catalog endpoints
		r.Get("/models", modelsHandler.ListModels)
		r.Get("/status", statusHandler.GetStatus)
		r.Get("/billing/plans", billingHandler.ListPlans)
		r.Get("/billing/pricing", billingHandler.ListServicePricing)

		// Public marketplace browsing; authenticated callers also see their
		// own private listings.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.OptionalAuth)
			r.Get("/marketplace/models", marketplaceHandler.List)
			r.Get("/marketplace/models/{id}", marketplaceHandler.Get)
			r.Get("/marketplace/stats", marketplaceHandler.Stats)
		})

		// Metered classification endpoints (API key required)
		r.Group(func(r chi.Router) {
			r.Use(meter.Require(billing.ServiceImageClassification))
			r.Post("/classify", classifyHandler.Classify)
		})
		r.Group(func(r chi.Router) {
			r.Use(meter.Require(billing.ServiceBatchProcessing))
			r.Post("/classify/batch", classifyHandler.ClassifyBatch)
		})
		r.Group(func(r chi.Router) {
			r.Use(meter.Require(billing.ServiceVideoClassification))
			r.Post("/classify/video", multimodalHandler.ClassifyVideo)
		})
		r.Group(func(r chi.Router) {
			r.Use(meter.Require(billing.ServiceAudioClassification))
			r.Post("/classify/audio", multimodalHandler.ClassifyAudio)
		})
		r.Group(func(r chi.Router) {
			r.Use(meter.Require(billing.ServiceCustomModelInference))
			r.Post("/classify/custom/{id}", classifyHandler.ClassifyCustom)
		})

		// Authenticated endpoints (JWT or API key)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/user/me", authHandler.GetCurrentUser)
			r.Post("/user/api-keys", authHandler.CreateAPIKey)
			r.Get("/user/api-keys", authHandler.ListAPIKeys)
			r.Delete("/user/api-keys/{keyID}", authHandler.RevokeAPIKey)

			r.Get("/history", historyHandler.List)
			r.Get("/history/stats", historyHandler.Stats)
			r.Get("/history/{id}", historyHandler.Get)
			r.Delete("/history/{id}", historyHandler.Delete)

			r.Get("/billing/subscription", billingHandler.GetSubscription)
			r.Put("/billing/subscription", billingHandler.ChangeTier)
			r.Delete("/billing/subscription", billingHandler.CancelSubscription)
			r.Get("/billing/usage", billingHandler.GetUsage)
			r.Get("/billing/dashboard", billingHandler.Dashboard)

			r.Get("/stream", streamHandler.Connect)

			r.Route("/marketplace", func(r chi.Router) {
				// Selling models is a professional feature
				r.With(authMiddleware.RequireTier(models.TierProfessional)).
					Post("/models", marketplaceHandler.Publish)
				r.Post("/models/{id}/download", marketplaceHandler.Download)
				r.Delete("/models/{id}", marketplaceHandler.Delete)
			})

			r.Route("/workspaces", func(r chi.Router) {
				r.Post("/", workspaceHandler.Create)
				r.Get("/", workspaceHandler.List)
				r.Get("/{id}", workspaceHandler.Get)
				r.Get("/{id}/members", workspaceHandler.ListMembers)
				r.Post("/{id}/members", workspaceHandler.AddMember)
				r.Delete("/{id}/members/{userID}", workspaceHandler.RemoveMember)
				r.Get("/{id}/projects", workspaceHandler.ListProjects)
				r.Post("/{id}/projects", workspaceHandler.CreateProject)
				r.Get("/{id}/activity", workspaceHandler.Activity)
			})
		})
	})

	return &Server{Router: r, Streams: streamManager}
}
