// paneld runs the expert-panel deliberation service: an HTTP API over the
// debate runner, with Postgres-backed sessions and billing, Redis-cached
// question analysis, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.helix.panel/internal/analyzer"
	"dev.helix.panel/internal/cache"
	"dev.helix.panel/internal/config"
	"dev.helix.panel/internal/consensus"
	"dev.helix.panel/internal/credits"
	"dev.helix.panel/internal/database"
	"dev.helix.panel/internal/debate"
	"dev.helix.panel/internal/events"
	"dev.helix.panel/internal/experts"
	"dev.helix.panel/internal/llm"
	"dev.helix.panel/internal/metrics"
	"dev.helix.panel/internal/models"
	"dev.helix.panel/internal/moderator"
	"dev.helix.panel/internal/quality"
	"dev.helix.panel/internal/synthesis"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer pool.Close()

	ledger := credits.NewLedger(pool, log)
	if err := ledger.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("Failed to ensure credit schema")
	}
	sessions := database.NewSessionRepository(pool, log)
	if err := sessions.CreateTables(ctx); err != nil {
		log.WithError(err).Fatal("Failed to ensure session schema")
	}

	cacheClient := cache.NewRedisClient(cfg.Redis)
	if err := cacheClient.Ping(ctx); err != nil {
		log.WithError(err).Warn("Redis unavailable, analysis caching disabled")
		cacheClient = nil
	} else {
		defer func() { _ = cacheClient.Close() }()
	}

	registry, err := experts.NewBuilder(cfg.Experts.CatalogPath, log).Build()
	if err != nil {
		log.WithError(err).Fatal("Failed to build expert registry")
	}
	log.Infof("Expert registry loaded with %d profiles", registry.Len())

	generator := llm.NewHTTPClient(llm.HTTPClientConfig{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Timeout:         cfg.LLM.RequestTimeout,
		CostPer1KTokens: cfg.LLM.CostPer1KTokens,
	}, log)
	retry := llm.RetryConfig{
		MaxRetries:   cfg.LLM.MaxRetries,
		InitialDelay: cfg.LLM.InitialBackoff,
		MaxDelay:     cfg.LLM.MaxBackoff,
		Multiplier:   2.0,
	}

	bus := events.NewBus(nil)
	defer bus.Close()
	m := metrics.New()

	runner := debate.NewRunner(cfg, debate.Deps{
		Analyzer:    analyzer.New(generator, cfg.LLM, retry, cacheClient, cfg.Redis.AnalysisTTL, log),
		Matcher:     experts.NewMatcher(registry, log),
		Ledger:      ledger,
		Consensus:   consensus.NewEngine(log),
		Quality:     quality.NewMonitor(cfg.Quality, log),
		Moderator:   moderator.New(cfg.Quality, cfg.LLM, generator, retry, log),
		Synthesizer: synthesis.New(generator, cfg.LLM, retry, log),
		Generator:   generator,
		Bus:         bus,
		Metrics:     m,
		Store:       sessions,
	}, log)

	srv := &server{
		cfg:      cfg,
		log:      log,
		runner:   runner,
		sessions: sessions,
		ledger:   ledger,
		pool:     pool,
		cache:    cacheClient,
		bus:      bus,
		metrics:  m,
		runCtx:   ctx,
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("paneld listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Server exited")
	}
}

// server holds the HTTP surface over the runner and repositories.
type server struct {
	cfg      *config.Config
	log      *logrus.Logger
	runner   *debate.Runner
	sessions *database.SessionRepository
	ledger   *credits.Ledger
	pool     *pgxpool.Pool
	cache    *cache.RedisClient
	bus      *events.Bus
	metrics  *metrics.Metrics

	// runCtx is cancelled on shutdown so in-flight debates fail and refund
	// instead of dying silently with the process.
	runCtx context.Context

	results sync.Map // session id -> *models.DebateResult
}

func (s *server) routes() *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/debates", s.startDebate)
		v1.GET("/debates/:id", s.getDebate)
		v1.GET("/debates/:id/messages", s.getMessages)
		v1.GET("/debates/:id/events", s.streamEvents)
		v1.POST("/debates/:id/pause", s.pauseDebate)
		v1.POST("/debates/:id/input", s.requestInput)
		v1.POST("/debates/:id/resume", s.resumeDebate)

		v1.POST("/credits/accounts", s.createAccount)
		v1.GET("/credits/:user_id", s.getBalance)
	}
	return router
}

type startDebateRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
	Context   string `json:"context"`
	MaxRounds int    `json:"max_rounds"`
}

func (s *server) startDebate(c *gin.Context) {
	var req startDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := uuid.New().String()
	go func() {
		result := s.runner.Run(s.runCtx, debate.Request{
			SessionID: sessionID,
			UserID:    req.UserID,
			Question:  req.Question,
			Context:   req.Context,
			MaxRounds: req.MaxRounds,
		})
		s.results.Store(sessionID, result)
	}()

	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
}

func (s *server) getDebate(c *gin.Context) {
	id := c.Param("id")

	if v, ok := s.results.Load(id); ok {
		c.JSON(http.StatusOK, v.(*models.DebateResult))
		return
	}

	record, err := s.sessions.GetSession(c.Request.Context(), id)
	if errors.Is(err, database.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *server) getMessages(c *gin.Context) {
	messages, err := s.sessions.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// streamEvents forwards the session's bus events over SSE until the client
// disconnects.
func (s *server) streamEvents(c *gin.Context) {
	id := c.Param("id")
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Channel:
			if !ok {
				return false
			}
			if ev.SessionID == id {
				c.SSEvent(string(ev.Type), ev.Payload)
			}
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *server) pauseDebate(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.runner.Pause(c.Param("id"), req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pausing"})
}

type inputRequest struct {
	Prompt string `json:"prompt"`
}

func (s *server) requestInput(c *gin.Context) {
	var req inputRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.runner.RequestInput(c.Param("id"), req.Prompt); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "waiting_input"})
}

type resumeRequest struct {
	ExtraContext string `json:"extra_context"`
}

func (s *server) resumeDebate(c *gin.Context) {
	var req resumeRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.runner.Resume(c.Param("id"), req.ExtraContext); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resuming"})
}

type createAccountRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Balance int    `json:"balance"`
}

func (s *server) createAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ledger.CreateAccount(c.Request.Context(), req.UserID, req.Balance); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": req.UserID})
}

func (s *server) getBalance(c *gin.Context) {
	balance, err := s.ledger.Balance(c.Request.Context(), c.Param("user_id"))
	if errors.Is(err, credits.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "balance": balance})
}

func (s *server) health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	code := http.StatusOK

	if err := s.pool.Ping(c.Request.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.cache != nil {
		if err := s.cache.Ping(c.Request.Context()); err != nil {
			status["cache"] = err.Error()
		}
	}
	c.JSON(code, status)
}
