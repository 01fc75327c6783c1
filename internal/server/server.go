package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"trade-gateway/internal/executor"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/marketdata"
	"trade-gateway/internal/session"
	"trade-gateway/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server is the gateway's HTTP boundary. It owns no trading state; every
// handler delegates to the session, cache, ranker and executor.
type Server struct {
	cfg     *store.Config
	session *session.Manager
	cache   *marketdata.Cache
	ranker  *marketdata.Ranker
	exec    *executor.Executor

	// appCtx bounds background work (the tick consumer) to the process
	// lifetime rather than a single request.
	appCtx        context.Context
	subscribeOnce sync.Once

	httpServer *http.Server
}

type Params struct {
	Cfg      *store.Config
	Session  *session.Manager
	Cache    *marketdata.Cache
	Ranker   *marketdata.Ranker
	Executor *executor.Executor
	AppCtx   context.Context
}

func New(p Params) *Server {
	s := &Server{
		cfg:     p.Cfg,
		session: p.Session,
		cache:   p.Cache,
		ranker:  p.Ranker,
		exec:    p.Executor,
		appCtx:  p.AppCtx,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.POST("/trade", s.handleTrade)
	r.GET("/auth", s.handleLoginURL)
	r.GET("/auth/callback", s.handleAuthCallback)
	r.POST("/webhook/postback", s.handlePostback)
	r.GET("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    p.Cfg.Addr,
		Handler: r,
		// The write timeout must cover a full ranking pass.
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Duration(p.Cfg.Rank.TimeoutSeconds+5) * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}

	return s
}

// Handler exposes the route tree (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Run() error {
	logger.Info(s.appCtx, "Gateway listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestID tags every request, echoing a caller-supplied id when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
