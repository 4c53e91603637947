// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"qrlogin-service/internal/config"
	"qrlogin-service/internal/db"
	identityHandler "qrlogin-service/internal/handlers/identity"
	qrHandler "qrlogin-service/internal/handlers/qr"
	"qrlogin-service/internal/metrics"
	"qrlogin-service/internal/middleware"
	"qrlogin-service/internal/pkg/jwt"
	"qrlogin-service/internal/pkg/qrcode"
	"qrlogin-service/internal/pkg/ratelimit"
	"qrlogin-service/internal/repository/postgres"
	redisrepo "qrlogin-service/internal/repository/redis"
	auditUsecase "qrlogin-service/internal/service/audit"
	identityUsecase "qrlogin-service/internal/service/identity"
	qrUsecase "qrlogin-service/internal/service/qrsession"
	"qrlogin-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	httpServer   *http.Server
	sweeper      *qrUsecase.Sweeper
	auditCleaner *auditUsecase.Cleaner
	hubStop      chan struct{}
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine, hubStop: make(chan struct{})}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- Logger -----
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	s.logger = logger

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", s.cfg.RedisAddr))

	// ----- PostgreSQL (audit trail; optional) -----
	var auditRepo qrUsecase.AuditRecorder
	if s.cfg.DatabaseURL != "" {
		if err := db.RunMigrations(s.cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		repo := postgres.NewAuditRepository(pool)
		auditRepo = repo
		s.auditCleaner = auditUsecase.NewCleaner(repo, s.cfg.AuditRetention, time.Hour, logger)
		s.auditCleaner.Start(ctx)
		logger.Info("audit trail enabled")
	} else {
		logger.Warn("DATABASE_URL not set, audit trail disabled")
	}

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- QR payload sealer -----
	if s.cfg.QRSecret == "" {
		return fmt.Errorf("QR_SECRET is required")
	}
	sealer, err := qrcode.NewSealer(s.cfg.QRSecret, s.cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to build qr sealer: %w", err)
	}

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// ----- Stores & Rate Limiter -----
	sessionStore := redisrepo.NewQRSessionRepository(redisClient, s.cfg.RecordRetention)
	jtiStore := redisrepo.NewJTIStore(redisClient)
	rateLimiter := ratelimit.NewRateLimiter(redisClient)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(logger)
	go hub.Run(s.hubStop)

	// ----- Services -----
	qrService := qrUsecase.NewService(
		sessionStore,
		sealer,
		jwtManager,
		auditRepo,
		hub,
		collector,
		logger,
		qrUsecase.Config{
			TTL:          s.cfg.SessionTTL,
			PollInterval: s.cfg.PollInterval,
		},
	)
	provider := identityUsecase.NewProvider(jwtManager.Verifier, jtiStore, s.cfg.ExchangeTTL, logger)

	// ----- Expiry Sweeper -----
	s.sweeper = qrUsecase.NewSweeper(sessionStore, auditRepo, hub, collector, logger, s.cfg.SweepInterval)
	s.sweeper.Start(ctx)

	// ----- Handlers -----
	qrHandlerInst := qrHandler.NewQRHandler(qrService, rateLimiter, logger)
	exchangeHandlerInst := identityHandler.NewExchangeHandler(provider, logger)
	wsHandlerInst := websocket.NewHandler(hub, sessionStore, logger)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.RequestLogger(logger),
		middleware.CORSMiddleware(s.cfg.AllowedOrigins),
	)

	// ----- Router -----
	SetupRouter(s.engine, &Handlers{
		QRHandler:       qrHandlerInst,
		ExchangeHandler: exchangeHandlerInst,
		WSHandler:       wsHandlerInst,
		MetricsHandler:  metrics.Handler(registry),
	})

	// ----- HTTP server -----
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the sweeper, closes websocket clients, and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.auditCleaner != nil {
		s.auditCleaner.Stop()
	}
	close(s.hubStop)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
