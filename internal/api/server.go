package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oremus-labs/ragmon/internal/handlers"
)

// Options configures the HTTP server wiring.
type Options struct {
	APIToken           string
	AllowAnonymousRead bool
	DevMode            bool
	// GraphQLHandler, when set, is mounted at /graphql behind the token.
	GraphQLHandler     http.Handler
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	// Health + meta
	engine.GET("/", handler.Root)
	engine.GET("/healthz", handler.Health)
	engine.GET("/api/ping", handler.Ping)
	engine.GET("/openapi", handler.OpenAPISpec)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	read := engine.Group("/")
	if !opts.AllowAnonymousRead {
		read.Use(authMiddleware(opts.APIToken))
	}
	read.GET("/system/info", handler.SystemInfo)
	read.GET("/stream", handler.Stream)
	read.GET("/api/events/recent", handler.RecentEvents)
	read.GET("/api/metrics", handler.Metrics)
	read.GET("/api/apps", handler.Apps)
	read.GET("/api/queues", handler.Queues)
	read.GET("/api/instances", handler.Instances)
	read.GET("/api/instances/stream", handler.InstancesStream)

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.APIToken))
	protected.GET("/api/commands", handler.ListCommands)
	protected.Any("/api/proxy/:app/*path", handler.Proxy)
	if opts.GraphQLHandler != nil {
		protected.GET("/graphql", gin.WrapH(opts.GraphQLHandler))
		protected.POST("/graphql", gin.WrapH(opts.GraphQLHandler))
	}
	if opts.DevMode {
		protected.POST("/api/test/publish", handler.TestPublish)
	}

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address. WriteTimeout stays
// zero so push streams are not cut off.
func (s *Server) Start(addr string, onError func(error)) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if onError != nil {
				onError(err)
				return
			}
			panic(err)
		}
	}()
	return srv
}
