// Command conferenced is the conference control plane process
// entrypoint: config load, dependency wiring, HTTP router, background
// tasks, and graceful shutdown — the teacher's
// cmd/v1/session/main.go shape, generalized from a single in-memory Hub
// to the full store/backend/signaling/vacuum/ingress stack.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/foxford-conf/conferenced/internal/v1/apperr"
	"github.com/foxford-conf/conferenced/internal/v1/auth"
	"github.com/foxford-conf/conferenced/internal/v1/backend"
	"github.com/foxford-conf/conferenced/internal/v1/broker"
	"github.com/foxford-conf/conferenced/internal/v1/cache"
	"github.com/foxford-conf/conferenced/internal/v1/config"
	"github.com/foxford-conf/conferenced/internal/v1/health"
	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/ingress"
	"github.com/foxford-conf/conferenced/internal/v1/logging"
	"github.com/foxford-conf/conferenced/internal/v1/middleware"
	"github.com/foxford-conf/conferenced/internal/v1/presence"
	"github.com/foxford-conf/conferenced/internal/v1/ratelimit"
	"github.com/foxford-conf/conferenced/internal/v1/rwconfig"
	"github.com/foxford-conf/conferenced/internal/v1/signaling"
	"github.com/foxford-conf/conferenced/internal/v1/store"
	"github.com/foxford-conf/conferenced/internal/v1/vacuum"
	"github.com/foxford-conf/conferenced/pkg/janusclient"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm/logger"
)

const pluginName = "janus.plugin.conference"

func main() {
	configPath := os.Getenv("CONFERENCED_CONFIG")
	if configPath == "" {
		configPath = "conferenced.yaml"
	}

	// .env is a local-dev convenience only; production deployments set
	// real environment variables (teacher's cmd/v1/session/main.go
	// pattern, minus the multi-path search since conferenced always
	// runs from the repo root or a container workdir).
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded, relying on environment/config file", "error", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	development := cfg.Sentry.Environment == "" || cfg.Sentry.Environment == "development"
	if err := logging.Initialize(development); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	log := logging.GetLogger()
	defer log.Sync() //nolint:errcheck

	reporter, err := apperr.NewReporter(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.ID)
	if err != nil {
		log.Error("failed to initialize sentry reporter", zap.Error(err))
		os.Exit(1)
	}
	defer reporter.Flush(2000)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormLogLevel := logger.Warn
	if development {
		gormLogLevel = logger.Info
	}
	db, err := store.Open(cfg.DatabaseURL, logger.Default.LogMode(gormLogLevel))
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	if err := db.AutoMigrate(); err != nil {
		log.Fatal("failed to run automigrate", zap.Error(err))
	}

	brokerSvc, err := broker.NewService(cfg.RedisAddr, "")
	if err != nil {
		log.Fatal("failed to connect to redis broker", zap.Error(err))
	}
	defer brokerSvc.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	caches := cache.New(redisClient, cache.TTLs{
		RoomByID:    cfg.CacheTTL("RoomById"),
		RoomByRtcID: cfg.CacheTTL("RoomByRtcId"),
		RtcByID:     cfg.CacheTTL("RtcById"),
	})

	authValidator, err := auth.NewValidator(ctx, cfg.Authn)
	if err != nil {
		log.Fatal("failed to initialize auth validator", zap.Error(err))
	}

	limiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to initialize rate limiter", zap.Error(err))
	}

	pool := janusclient.NewPool()
	placement := backend.NewLoadModel(db)
	rwEngine := rwconfig.NewEngine(db)
	presenceSvc := presence.NewService(db, brokerSvc)
	orchestrator := signaling.NewOrchestrator(db, placement, pool, brokerSvc, pluginName)
	ingressMgr := ingress.NewManager(db, pool, brokerSvc, orchestrator, pluginName)
	vacuumSvc := vacuum.NewService(db, pool, brokerSvc, cfg, cfg.OrphanThreshold)

	go vacuumSvc.RunOrphanVacuum(ctx, time.Minute)
	go vacuumSvc.RunUploadVacuum(ctx, time.Minute)

	healthHandler := health.NewHandler(brokerSvc, db)

	router := newRouter(authValidator, limiter, healthHandler, db, caches, orchestrator, ingressMgr, presenceSvc, rwEngine, vacuumSvc, brokerSvc)

	srv := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsRouter := gin.New()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.HTTP.BindAddress,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("conferenced listening", zap.String("addr", cfg.HTTPBind))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during http server shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during metrics server shutdown", zap.Error(err))
	}
	log.Info("conferenced exiting")
}

// newRouter builds the gin engine: correlation id, recovery, CORS, rate
// limiting, and the core room/rtc/presence operations, each guarded by
// auth and (where the operation is scoped to one room) classroom access
// (spec §6).
func newRouter(
	validator *auth.Validator,
	limiter *ratelimit.Limiter,
	healthHandler *health.Handler,
	db *store.DB,
	caches *cache.Caches,
	orchestrator *signaling.Orchestrator,
	ingressMgr *ingress.Manager,
	presenceSvc *presence.Service,
	rwEngine *rwconfig.Engine,
	vacuumSvc *vacuum.Service,
	brokerSvc *broker.Service,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	// Cache-aside read: a hit skips the round trip to the store; a miss
	// falls through and seeds the cache for the next lookup.
	roomGetter := middleware.RoomGetter(func(c *gin.Context, roomID id.RoomID) (*store.Room, error) {
		ctx := c.Request.Context()
		if room, err := caches.GetRoom(ctx, roomID); err == nil {
			return room, nil
		}
		room, err := db.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if err := caches.PutRoom(ctx, room); err != nil {
			logging.Warn(ctx, "room cache populate failed", zap.Error(err))
		}
		return room, nil
	})

	authn := router.Group("/")
	authn.Use(middleware.Authenticate(validator))
	authn.Use(limiter.Middleware(ratelimit.ClassGlobal))

	rooms := authn.Group("/rooms")
	rooms.Use(limiter.Middleware(ratelimit.ClassRoomMutation))
	{
		rooms.POST("", handleCreateRoom(db, caches))
		rooms.GET("/:room_id", middleware.RequireClassroomAccess(roomGetter), handleGetRoom())
		rooms.PATCH("/:room_id", middleware.RequireClassroomAccess(roomGetter), handleUpdateRoom(db, vacuumSvc, brokerSvc))
		rooms.POST("/:room_id/enter", middleware.RequireClassroomAccess(roomGetter), handleEnterRoom(presenceSvc))
		rooms.POST("/:room_id/leave", middleware.RequireClassroomAccess(roomGetter), handleLeaveRoom(presenceSvc))
		rooms.POST("/:room_id/rtcs", middleware.RequireClassroomAccess(roomGetter), handleRtcCreate(db))
		rooms.PUT("/:room_id/groups", middleware.RequireClassroomAccess(roomGetter), handleUpdateGroups(rwEngine))
	}

	signalingGroup := authn.Group("/rtcs")
	signalingGroup.Use(limiter.Middleware(ratelimit.ClassSignaling))
	{
		signalingGroup.POST("/connect", handleRtcConnect(orchestrator))
		signalingGroup.POST("/:rtc_id/signal", handleRtcSignal(orchestrator))
		signalingGroup.PUT("/:rtc_id/reader-config", handleSetReaderConfig(rwEngine))
		signalingGroup.PUT("/:rtc_id/writer-config", handleSetWriterConfig(rwEngine))
	}

	backends := authn.Group("/backends")
	{
		backends.POST("/online", handleBackendOnline(ingressMgr))
		backends.POST("/:backend_id/offline", handleBackendOffline(ingressMgr))
	}

	return router
}
