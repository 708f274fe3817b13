package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/natours/authserver/config"
	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/db"
	"github.com/natours/authserver/internal/handlers"
	"github.com/natours/authserver/internal/logging"
	"github.com/natours/authserver/internal/metrics"
	"github.com/natours/authserver/internal/mq"
	"github.com/natours/authserver/internal/notify"
	"github.com/natours/authserver/internal/services"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/internal/store/mongostore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     logrus.FieldLogger
	closers    []io.Closer
}

// Deps are the collaborators New builds from config when left nil.
type Deps struct {
	Users    services.UserRepository
	Notifier services.Notifier
	Registry *prometheus.Registry
}

// New constructs a Server from cfg, connecting the configured store and queue.
func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*Server, error) {
	return NewWithDeps(ctx, cfg, logger, Deps{})
}

// NewWithDeps is New with some collaborators supplied by the caller.
func NewWithDeps(ctx context.Context, cfg config.Config, logger *logrus.Logger, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{logger: logger}

	if deps.Users == nil {
		users, closer, err := openRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		deps.Users = users
		s.closers = append(s.closers, closer)
	}
	if deps.Notifier == nil {
		notifier, closer, err := openNotifier(ctx, cfg, logger)
		if err != nil {
			s.closeAll()
			return nil, err
		}
		deps.Notifier = notifier
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(deps.Registry)

	tokens, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	resets := auth.NewResetTokenGenerator(cfg.Auth.ResetTokenTTL)

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithMetrics(m),
		services.WithPasswordMinLength(cfg.Auth.PasswordMinLen),
	}
	authService := services.NewAuthService(deps.Users, deps.Notifier, hasher, tokens, opts...)
	recoveryService := services.NewRecoveryService(deps.Users, deps.Notifier, hasher, tokens, resets, opts...)
	userService := services.NewUserService(deps.Users, opts...)

	userHandler := handlers.NewUserHandler(authService, recoveryService, userService, handlers.CookieConfig{
		TTL:             cfg.Auth.CookieTTL,
		TrustForwarding: cfg.Auth.TrustForwarding,
	}, logger)
	authenticator := handlers.NewAuthenticator(tokens, deps.Users, m, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(logger),
		m.Middleware,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", metrics.Handler(deps.Registry))
	router.Route("/api/v1/users", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, authenticator)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8000
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func openRepository(ctx context.Context, cfg config.Config) (services.UserRepository, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		st, err := mongostore.Open(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		dbConn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store.NewUserRepository(dbConn), dbConn, nil
	}
}

func openNotifier(ctx context.Context, cfg config.Config, logger *logrus.Logger) (services.Notifier, io.Closer, error) {
	if cfg.MQ.Driver == config.MQDriverNone {
		logger.Warn("MQ_DRIVER is none, emails are only logged")
		return notify.NewLogNotifier(logger, cfg.Email.From), nil, nil
	}
	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := notify.NewQueueNotifier(queue, cfg.MQ.Channel, cfg.Email.From, logger)
	if err != nil {
		_ = queue.Close()
		return nil, nil, err
	}
	return notifier, queue, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the store and queue connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeAll()
	return err
}

func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.WithError(err).Warn("close failed")
		}
	}
	s.closers = nil
}
