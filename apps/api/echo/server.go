package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

type Options struct {
	Address        string
	Debug          bool
	TestMode       bool
	DisableReqLogs bool
	SecretKey      string
}

type Server struct {
	opts     Options
	app      *echo.Echo
	logger   core.Logger
	errors   chan error
	shutdown chan os.Signal
}

// NewServer returns the API server, listening on conf.Server.Address once started.
func NewServer(conf *core.Config, logger core.Logger, monitorSvc *monitor.Service) *Server {
	return NewServerWithOptions(
		Options{
			Address:        conf.Server.Address,
			Debug:          conf.Debug,
			TestMode:       conf.TestMode,
			DisableReqLogs: conf.TestMode,
			SecretKey:      conf.SecretKey,
		},
		logger,
		monitorSvc,
	)
}

func NewServerWithOptions(opts Options, logger core.Logger, monitorSvc *monitor.Service) *Server {
	s := &Server{
		opts:     opts,
		app:      echo.New(),
		logger:   logger,
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup(monitorSvc)
	return s
}

func (s *Server) setup(monitorSvc *monitor.Service) {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.opts.Debug || s.opts.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.SignalShutdown)
	s.app.Debug = s.opts.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(s.opts.SecretKey))

	registerMonitorAPI(v1, jwt, monitorSvc)
}

// Start listens on Options.Address; a listener failure is sent to Errors().
func (s *Server) Start() {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Masomo Focus API!")
}
