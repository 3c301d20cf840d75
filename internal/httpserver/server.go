package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multibuzz/attribution-engine/internal/attribution"
	"github.com/multibuzz/attribution-engine/internal/config"
	"github.com/multibuzz/attribution-engine/internal/database"
	"github.com/multibuzz/attribution-engine/internal/geo"
	"github.com/multibuzz/attribution-engine/internal/identity"
	"github.com/multibuzz/attribution-engine/internal/ingest"
	"github.com/multibuzz/attribution-engine/internal/metrics"
	"github.com/multibuzz/attribution-engine/internal/middleware"
	"github.com/multibuzz/attribution-engine/internal/models"
	"github.com/multibuzz/attribution-engine/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server. DB, Redis
// and ClickHouse may be nil; the server degrades to in-memory storage, a
// local rate limiter and no archive.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps the HTTP handlers and the ingestion/attribution services.
type Server struct {
	pipeline          *ingest.Pipeline
	ingestWorker      *ingest.Worker
	attributionWorker *attribution.Worker
	identityService   *identity.Service

	visitors    storage.VisitorRepo
	sessions    storage.SessionRepo
	events      storage.EventRepo
	conversions storage.ConversionRepo
	archive     *storage.EventArchive
	geoResolver *geo.MaxMindResolver

	db      *database.PostgresDB
	redis   *database.RedisDB
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
}

// NewServer wires repositories, services and workers and returns the server
// plus its root http.Handler.
func NewServer(deps *Dependencies) (*Server, http.Handler) {
	cfg := deps.Config

	// Repositories: Postgres when available, in-memory twins otherwise.
	var (
		visitors    storage.VisitorRepo
		identities  storage.IdentityRepo
		sessions    storage.SessionRepo
		events      storage.EventRepo
		conversions storage.ConversionRepo
		modelRepo   storage.AttributionModelRepo
		credits     storage.CreditRepo
		apiKeys     storage.APIKeyRepo
	)
	if deps.DB != nil {
		visitors = storage.NewPostgresVisitorRepo(deps.DB.Pool)
		identities = storage.NewPostgresIdentityRepo(deps.DB.Pool)
		sessions = storage.NewPostgresSessionRepo(deps.DB.Pool)
		events = storage.NewPostgresEventRepo(deps.DB.Pool)
		conversions = storage.NewPostgresConversionRepo(deps.DB.Pool)
		modelRepo = storage.NewPostgresAttributionModelRepo(deps.DB.Pool)
		credits = storage.NewPostgresCreditRepo(deps.DB.Pool)
		apiKeys = storage.NewPostgresAPIKeyRepo(deps.DB.Pool)
	} else {
		visitors = storage.NewInMemoryVisitorRepo()
		identities = storage.NewInMemoryIdentityRepo()
		sessions = storage.NewInMemorySessionRepo()
		events = storage.NewInMemoryEventRepo()
		conversions = storage.NewInMemoryConversionRepo()
		modelRepo = storage.NewInMemoryAttributionModelRepo()
		credits = storage.NewInMemoryCreditRepo()

		keyRepo := storage.NewInMemoryAPIKeyRepo()
		if cfg.Auth.BootstrapKey != "" {
			keyRepo.Add(&models.APIKey{
				ID:          uuid.NewString(),
				AccountID:   "default",
				Key:         cfg.Auth.BootstrapKey,
				Environment: "live",
			})
			keyRepo.Add(&models.APIKey{
				ID:          uuid.NewString(),
				AccountID:   "default",
				Key:         cfg.Auth.BootstrapKey + "-test",
				Environment: "test",
			})
		}
		apiKeys = keyRepo
	}

	// Optional GeoIP enrichment.
	var geoResolver *geo.MaxMindResolver
	var countryResolver ingest.CountryResolver
	if cfg.Geo.Enabled {
		resolver, err := geo.NewMaxMindResolver(cfg.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo resolver, continuing without", zap.Error(err))
		} else {
			geoResolver = resolver
			countryResolver = resolver
		}
	}

	// Optional ClickHouse event archive.
	var archive *storage.EventArchive
	var archiver ingest.Archiver
	if deps.ClickHouse != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a, err := storage.NewEventArchive(ctx, deps.ClickHouse.Conn,
			cfg.ClickHouse.FlushInterval, cfg.ClickHouse.BatchSize, deps.Logger)
		cancel()
		if err != nil {
			deps.Logger.Warn("failed to initialize event archive, continuing without", zap.Error(err))
		} else {
			archive = a
			archiver = a
		}
	}

	pipeline := ingest.NewPipeline(visitors, sessions, events,
		ingest.NewEnricher(countryResolver), archiver, deps.Metrics, deps.Logger)

	ingestWorker := ingest.NewWorker(pipeline, cfg.Ingest.QueueSize, deps.Metrics, deps.Logger)
	ingestWorker.Start(cfg.Ingest.Workers)

	calculator := attribution.NewCalculator(sessions,
		attribution.NewJourneyBuilder(sessions), cfg.Attribution.HalfLifeDays)
	attributionService := attribution.NewService(modelRepo, credits, calculator, deps.Metrics, deps.Logger)
	attributionWorker := attribution.NewWorker(attributionService, cfg.Attribution.QueueSize, deps.Logger)
	attributionWorker.Start(cfg.Attribution.Workers)

	s := &Server{
		pipeline:          pipeline,
		ingestWorker:      ingestWorker,
		attributionWorker: attributionWorker,
		identityService:   identity.NewService(identities, visitors, deps.Logger),
		visitors:          visitors,
		sessions:          sessions,
		events:            events,
		conversions:       conversions,
		archive:           archive,
		geoResolver:       geoResolver,
		db:                deps.DB,
		redis:             deps.Redis,
		logger:            deps.Logger,
		config:            cfg,
		metrics:           deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// Tracking API
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/conversions", s.handleConversions)
	mux.HandleFunc("/api/v1/identify", s.handleIdentify)
	mux.HandleFunc("/api/v1/alias", s.handleAlias)
	mux.HandleFunc("/api/v1/validate", s.handleValidate)

	// Middleware chain, outermost first: recovery, logging, auth, rate limit.
	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, redisClientOf(deps.Redis), deps.Logger)
	rateLimiter.SetMetrics(deps.Metrics)

	var handler http.Handler = mux
	handler = rateLimiter.Handler(handler)
	handler = middleware.NewAuthMiddleware(cfg.Auth, apiKeys, deps.Logger).Handler(handler)
	handler = middleware.NewLoggingMiddleware(deps.Logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(deps.Logger).Handler(handler)

	return s, handler
}

// Close drains the background workers and flushes the archive.
func (s *Server) Close() {
	s.ingestWorker.Close()
	s.attributionWorker.Close()
	if s.archive != nil {
		s.archive.Close()
	}
	if s.geoResolver != nil {
		_ = s.geoResolver.Close()
	}
}

// account returns the authenticated tenant, or the default account when
// auth is disabled.
func (s *Server) account(r *http.Request) *middleware.Account {
	if a, ok := middleware.AccountFromContext(r.Context()); ok {
		return a
	}
	return &middleware.Account{ID: "default"}
}

// requestMeta extracts the transport attributes used for event enrichment.
func requestMeta(r *http.Request) ingest.RequestMeta {
	return ingest.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Language:  r.Header.Get("Accept-Language"),
		DNT:       r.Header.Get("DNT"),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func redisClientOf(db *database.RedisDB) *redis.Client {
	if db == nil {
		return nil
	}
	return db.Client
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := "ok"

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			checks["postgres"] = "down"
			status = "degraded"
		} else {
			checks["postgres"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.Health(ctx); err != nil {
			checks["redis"] = "down"
			status = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.jsonResponse(w, code, map[string]string{"error": message})
}

func (s *Server) errorsResponse(w http.ResponseWriter, errs []string, code int) {
	s.jsonResponse(w, code, map[string][]string{"errors": errs})
}
