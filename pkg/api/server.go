// Package api provides the REST API server for audio2midi
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/recompute"
	"github.com/james-see/audio2midi/pkg/session"
)

// @title audio2midi API
// @version 1.0
// @description Transcribe audio to MIDI and retune the note decoding interactively
// @host localhost:8080
// @BasePath /api/v1

// Config holds server settings
type Config struct {
	Port           int
	MaxUploadBytes int64
	SessionTTL     time.Duration
	Debounce       time.Duration
	AllowedOrigins []string
	Engine         converter.Engine
	Logger         *log.Logger
}

// DefaultConfig returns the settings used by the server binaries
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		MaxUploadBytes: 100 << 20,
		SessionTTL:     session.DefaultTTL,
		Debounce:       recompute.DefaultDebounce,
		AllowedOrigins: []string{"*"},
	}
}

// Server serves the API
type Server struct {
	cfg      Config
	router   *gin.Engine
	conv     *converter.Converter
	sessions *session.Manager
	logger   *log.Logger
}

// NewServer builds the router and session manager
func NewServer(cfg Config) *Server {
	logger := logging.OrDefault(cfg.Logger)
	conv := converter.New(cfg.Engine)
	conv.SetLogger(logger)

	s := &Server{
		cfg:    cfg,
		conv:   conv,
		logger: logger,
	}
	s.sessions = session.NewManager(cfg.SessionTTL, s.sessionOptions, logger)
	s.router = s.routes()
	return s
}

func (s *Server) sessionOptions() session.Options {
	opts := session.DefaultOptions(s.cfg.Engine)
	opts.Controller.Debounce = s.cfg.Debounce
	return opts
}

func (s *Server) routes() *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(corsMiddleware(cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Disposition"},
	})))

	// Health check
	r.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/formats", listFormats)
		v1.GET("/parameters/defaults", defaultParameters)
		v1.POST("/transcribe", s.handleTranscribe)
		v1.POST("/inspect", s.handleInspect)

		sessions := v1.Group("/sessions")
		sessions.GET("", s.listSessions)
		sessions.POST("", s.createSession)
		sessions.GET("/:id", s.getSession)
		sessions.PUT("/:id/parameters", s.updateParameters)
		sessions.GET("/:id/notes", s.getNotes)
		sessions.GET("/:id/midi", s.downloadMIDI)
		sessions.DELETE("/:id", s.deleteSession)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Close()
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// StartServer starts the API server with cfg and blocks until ctx is done
func StartServer(ctx context.Context, cfg Config) error {
	return NewServer(cfg).Run(ctx)
}

// corsMiddleware bridges rs/cors into gin. Preflight requests end here.
func corsMiddleware(c *cors.Cors) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		if ctx.Request.Method == http.MethodOptions && ctx.GetHeader("Access-Control-Request-Method") != "" {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	engine := ""
	if s.cfg.Engine != nil {
		engine = s.cfg.Engine.Name()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "audio2midi",
		"engine":   engine,
		"sessions": s.sessions.Len(),
	})
}
