// Package main is the entrypoint for the chatquota API server.
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chatquota/chatquota/internal/auth"
	"github.com/chatquota/chatquota/internal/cache"
	"github.com/chatquota/chatquota/internal/config"
	"github.com/chatquota/chatquota/internal/handler"
	"github.com/chatquota/chatquota/internal/metrics"
	"github.com/chatquota/chatquota/internal/middleware"
	"github.com/chatquota/chatquota/internal/quota"
	"github.com/chatquota/chatquota/internal/repository"
	"github.com/chatquota/chatquota/internal/server"
	"github.com/chatquota/chatquota/internal/service"
	"github.com/chatquota/chatquota/internal/upstream"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := repo.Migrate(ctx); err != nil {
		logger.Error("failed to apply migrations", "error", sanitizeError(err, cfg.DatabaseURL))
		repo.Close()
		os.Exit(1)
	}

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	calendar, err := quota.NewCalendar(cfg.QuotaTimezone)
	if err != nil {
		logger.Error("invalid quota timezone", "error", err)
		os.Exit(1)
	}

	prom := metrics.NewPrometheus()
	client := newUpstreamClient(cfg)

	settingsService := service.NewSettingsService(repo, cacheClient, service.SettingsDefaults{
		DailyMinutes: cfg.DefaultDailyMinutes,
		Personality:  cfg.DefaultPersonality,
	}, logger)
	if err := settingsService.Seed(ctx); err != nil {
		logger.Error("failed to seed settings", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	userService := service.NewUserService(repo, cacheClient, tokens, settingsService, calendar, logger)
	adminService := service.NewAdminService(repo, cacheClient, settingsService, calendar, logger)
	chatService := service.NewChatService(
		quota.NewLedger(repo, nil),
		calendar,
		client,
		settingsService,
		service.ChatConfig{Model: cfg.UpstreamModel, MaxTokens: cfg.UpstreamMaxTokens},
		prom,
		logger,
	)

	if cfg.SuperAdminPassword != "" {
		if _, err := adminService.EnsureSuperAdmin(ctx, cfg.SuperAdminEmail, cfg.SuperAdminPassword); err != nil {
			logger.Error("failed to bootstrap super admin", "error", err)
			os.Exit(1)
		}
	}

	r := setupRouter(routerDeps{
		health:   handler.NewHealthHandler(repo, cacheClient),
		users:    handler.NewUserHandler(userService, logger),
		chat:     handler.NewChatHandler(chatService, logger),
		admin:    handler.NewAdminHandler(adminService, settingsService, logger),
		tokens:   tokens,
		identity: userService,
		limiter:  cacheClient,
		metrics:  prom,
	}, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"upstream", cfg.UpstreamProvider,
		"model", cfg.UpstreamModel,
		"quota_timezone", calendar.Location().String(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newUpstreamClient builds the completion client for the configured provider.
// Config validation guarantees the provider is known and has a key.
func newUpstreamClient(cfg *config.Config) upstream.Client {
	httpClient := upstream.NewHTTPClient(cfg.UpstreamTimeout)
	if cfg.UpstreamProvider == config.ProviderOpenAI {
		return upstream.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, httpClient)
	}
	return upstream.NewAnthropicClient(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, httpClient)
}

// initLogger initializes the slog logger based on configuration. When
// LOG_FILE is set, output is duplicated into a size-rotated file.
func initLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	health   *handler.HealthHandler
	users    *handler.UserHandler
	chat     *handler.ChatHandler
	admin    *handler.AdminHandler
	tokens   middleware.TokenParser
	identity middleware.IdentityResolver
	limiter  middleware.RateLimiter
	metrics  *metrics.PrometheusRecorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(deps routerDeps, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	h := handler.New()
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	r.Use(metrics.Middleware(deps.metrics))

	r.Get("/healthz", deps.health.Healthz)
	r.Get("/readyz", deps.health.Readyz)
	r.Method(http.MethodGet, "/metrics", deps.metrics.Handler())

	authCfg := middleware.AuthConfig{
		Logger:     logger,
		Tokens:     deps.tokens,
		Identities: deps.identity,
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        logger,
		Limiter:       deps.limiter,
		Metrics:       deps.metrics,
		Enabled:       cfg.RateLimitEnabled,
		AuthPerMinute: cfg.RateLimitAuthPerMinute,
		AuthBurst:     cfg.RateLimitAuthBurst,
		ChatPerMinute: cfg.RateLimitChatPerMinute,
		ChatBurst:     cfg.RateLimitChatBurst,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", deps.health.APIHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimitIP(rateLimitCfg)).Post("/register", deps.users.Register)
			r.With(middleware.RateLimitIP(rateLimitCfg)).Post("/login", deps.users.Login)
			r.With(middleware.Auth(authCfg)).Get("/me", deps.users.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authCfg))

			r.Get("/usage/me", deps.users.Usage)
			r.With(middleware.RateLimitUser(rateLimitCfg)).Post("/chat", deps.chat.Chat)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/users", deps.admin.ListUsers)
				r.Post("/users", deps.admin.CreateUser)
				r.Get("/users/{id}", deps.admin.GetUser)
				r.Put("/users/{id}", deps.admin.UpdateUser)
				r.Delete("/users/{id}", deps.admin.DeleteUser)
				r.Get("/settings", deps.admin.GetSettings)
				r.Put("/settings", deps.admin.UpdateSettings)
				r.Get("/stats", deps.admin.Stats)
			})
		})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
