package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/authgate/internal/config"
	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/handler"
	"github.com/sumire/authgate/internal/mail"
	"github.com/sumire/authgate/internal/oauth"
	"github.com/sumire/authgate/internal/repository"
	"github.com/sumire/authgate/internal/service"
	"github.com/sumire/authgate/internal/token"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := connectWithRetry(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	userRepo := repository.NewUserRepository(db)
	if err := userRepo.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	codec, err := token.NewCodec(cfg.SecretKey, cfg.Algorithm,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
		time.Duration(cfg.ResetTokenExpireMinutes)*time.Minute,
	)
	if err != nil {
		return fmt.Errorf("build token codec: %w", err)
	}

	var mailer mail.Sender = mail.ConsoleSender{}
	if cfg.SMTP.Server != "" {
		mailer = mail.NewSMTPSender(cfg.SMTP.Server, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password)
	}

	authSvc := service.NewAuthService(
		userRepo,
		oauth.NewStateStore(oauth.DefaultStateTTL),
		buildProviders(cfg),
		codec,
		mailer,
		cfg.FrontendURL,
	)
	authHandler := handler.NewAuthHandler(authSvc)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.GET("/", func(c echo.Context) error {
		return handler.JSON(c, http.StatusOK, map[string]string{"message": "Auth Service API", "version": "1.0.0"})
	})
	e.GET("/health", func(c echo.Context) error {
		if err := userRepo.Ping(c.Request().Context()); err != nil {
			return err
		}
		return handler.JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/register", authHandler.Register)
	e.POST("/login", authHandler.Login)
	e.POST("/forgot-password", authHandler.ForgotPassword)
	e.POST("/reset-password", authHandler.ResetPassword)

	// Both naming variants are served: /auth/google/login and /auth/facebook.
	e.GET("/auth/:provider", authHandler.OAuthLogin)
	e.GET("/auth/:provider/login", authHandler.OAuthLogin)
	e.GET("/auth/:provider/callback", authHandler.OAuthCallback)
	e.POST("/auth/:provider/callback", authHandler.OAuthCallback)

	protected := handler.BearerAuth(authSvc)
	e.GET("/me", authHandler.Me, protected)
	e.GET("/profile", authHandler.Me, protected)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// connectWithRetry establishes database connectivity with bounded exponential
// backoff. Retries apply only here, before any user-visible work.
func connectWithRetry(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	var db *sqlx.DB
	operation := func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, "pgx", databaseURL)
		if err != nil {
			slog.Warn("database not ready, retrying", "error", err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx)); err != nil {
		return nil, err
	}
	return db, nil
}

// buildProviders wires an adapter for every provider with configured
// credentials.
func buildProviders(cfg config.Config) map[domain.AuthProvider]oauth.Provider {
	providers := make(map[domain.AuthProvider]oauth.Provider)
	if cfg.Google.ClientID != "" {
		providers[domain.AuthProviderGoogle] = oauth.NewGoogle(oauth.Credentials{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURI:  cfg.Google.RedirectURI,
		})
	}
	if cfg.Facebook.ClientID != "" {
		providers[domain.AuthProviderFacebook] = oauth.NewFacebook(oauth.Credentials{
			ClientID:     cfg.Facebook.ClientID,
			ClientSecret: cfg.Facebook.ClientSecret,
			RedirectURI:  cfg.Facebook.RedirectURI,
		})
	}
	if cfg.Discord.ClientID != "" {
		providers[domain.AuthProviderDiscord] = oauth.NewDiscord(oauth.Credentials{
			ClientID:     cfg.Discord.ClientID,
			ClientSecret: cfg.Discord.ClientSecret,
			RedirectURI:  cfg.Discord.RedirectURI,
		})
	}
	return providers
}
