package app

import (
	"coder_edu_progress/internal/client"
	"coder_edu_progress/internal/config"
	"coder_edu_progress/internal/connectivity"
	"coder_edu_progress/internal/controller"
	"coder_edu_progress/internal/offline"
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/configwatcher"
	"coder_edu_progress/pkg/database"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"coder_edu_progress/pkg/security"
	"coder_edu_progress/pkg/tracing"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ConfigDir 配置文件目录，进度代理监听其中的 config.yaml
const ConfigDir = "configs"

// Agent 客户端进度代理：离线缓冲、连接监测、同步和课程进度汇总
type Agent struct {
	Config *config.Config
	Router *gin.Engine

	session    *service.Session
	queue      *offline.Queue
	monitor    *connectivity.Monitor
	aggregator *service.CourseProgressAggregator
	status     *service.StatusBoard
	tracker    *service.ProgressTracker
	viewer     *service.LessonViewer
	reconciler *service.SyncReconciler
	hub        *service.StatusHub

	redis       *redis.Client
	tracer      *sdktrace.TracerProvider
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// openStore 按配置选择离线队列的持久化方式
func (a *Agent) openStore(cfg *config.Config) offline.Store {
	switch cfg.Agent.Queue.Store {
	case util.QueueStoreRedis:
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			// 退化为只在内存中缓冲
			logger.Log.Error("Redis unavailable, offline queue is memory-only", zap.Error(err))
			return nil
		}
		a.redis = rdb
		return offline.NewRedisStore(rdb, cfg.Agent.Queue.Key)
	default:
		return offline.NewFileStore(cfg.Agent.Queue.Path)
	}
}

func NewAgent(cfg *config.Config) *Agent {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)
	monitoring.Init()

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{Config: cfg, ctx: ctx, cancel: cancel}

	a.session = service.NewSession()
	if cfg.Agent.Token != "" {
		if _, err := a.session.SignIn(cfg.Agent.Token); err != nil {
			logger.Log.Warn("Configured agent token rejected", zap.Error(err))
		}
	}

	store := a.openStore(cfg)
	queue, err := offline.Open(ctx, store)
	if err != nil {
		if errors.Is(err, util.ErrUnsupportedQueue) {
			logger.Log.Error("Offline queue written by a newer version, running memory-only", zap.Error(err))
		} else {
			logger.Log.Warn("Offline queue could not be restored", zap.Error(err))
		}
	}
	a.queue = queue
	logger.Log.Info("Offline queue opened", zap.Int("pending", queue.Len()))

	backend := client.NewBackendClient(cfg.Agent.BackendURL, a.session, cfg.Agent.RequestTimeout)

	a.monitor = connectivity.NewMonitor(backend, cfg.Agent.ProbeInterval, cfg.Agent.ProbeTimeout, false)
	a.aggregator = service.NewCourseProgressAggregator(backend)
	a.status = service.NewStatusBoard(a.monitor, a.queue, a.session)
	a.hub = service.NewStatusHub()
	a.status.AddPublisher(a.hub)

	a.tracker = service.NewProgressTracker(backend, a.queue, a.monitor, a.session, a.aggregator, a.status)
	a.viewer = service.NewLessonViewer(a.tracker, cfg.Agent.TickInterval)
	a.reconciler = service.NewSyncReconciler(ctx, a.tracker)
	a.unsubscribe = a.monitor.Subscribe(a.reconciler.OnConnectivityChange)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("coder-edu-progress-agent", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		a.tracer = tp
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(ctx, cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}
	router.Use(monitoring.MetricsMiddleware())
	a.Router = router

	a.registerRoutes(router, &controller.AgentController{
		Session:    a.session,
		Tracker:    a.tracker,
		Viewer:     a.viewer,
		Reconciler: a.reconciler,
		Aggregator: a.aggregator,
		Queue:      a.queue,
		Status:     a.status,
		Hub:        a.hub,
	})

	return a
}

func (a *Agent) registerRoutes(router *gin.Engine, c *controller.AgentController) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	agent := router.Group("/agent")
	{
		agent.GET("/status", c.GetStatus)
		agent.GET("/ws", c.StatusStream)
		agent.PUT("/session", c.SignIn)
		agent.DELETE("/session", c.SignOut)

		agent.POST("/progress", c.TrackProgress)
		agent.POST("/lessons/open", c.OpenLesson)
		agent.POST("/lessons/close", c.CloseLesson)
		agent.POST("/lessons/complete", c.CompleteLesson)
		agent.GET("/courses/:courseId/progress", c.CourseProgress)
		agent.POST("/courses/:courseId/refresh", c.RefreshCourse)
		agent.POST("/sync", c.Sync)
	}
}

// reload 配置文件变更时只调整探测和计时间隔
func (a *Agent) reload(cfg *config.Config) {
	a.monitor.SetInterval(cfg.Agent.ProbeInterval)
	a.viewer.SetInterval(cfg.Agent.TickInterval)
	logger.Log.Info("Agent intervals updated",
		zap.Duration("probeInterval", cfg.Agent.ProbeInterval),
		zap.Duration("tickInterval", cfg.Agent.TickInterval),
	)
}

func (a *Agent) Run() {
	go a.hub.Run(a.ctx)
	go a.monitor.Run(a.ctx)
	go func() {
		configFile := filepath.Join(ConfigDir, "config.yaml")
		if err := configwatcher.WatchConfig(a.ctx, configFile, a.reload); err != nil {
			logger.Log.Warn("Config watcher disabled", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:    "127.0.0.1:" + a.Config.Agent.Port,
		Handler: a.Router,
	}

	go func() {
		logger.Log.Info("Progress agent running",
			zap.String("addr", srv.Addr),
			zap.String("backend", a.Config.Agent.BackendURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down progress agent...")

	// 关闭课时时会补报最后一段时长
	a.viewer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Agent forced to shutdown", zap.Error(err))
	}

	a.unsubscribe()
	a.cancel()
	a.reconciler.Wait()
	a.tracker.Wait()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}

	logger.Log.Info("Progress agent exiting", zap.Int("pending", a.queue.Len()))
	logger.Log.Sync()
}
