// Package server assembles the HTTP API: middleware chain, authentication,
// health endpoints and the encounter and transfer routes.
package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/dmvault/dmvault/internal/config"
	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/domain/transfer"
	"github.com/dmvault/dmvault/internal/platform/auth"
	"github.com/dmvault/dmvault/internal/platform/db"
	"github.com/dmvault/dmvault/internal/platform/middleware"
	"github.com/dmvault/dmvault/internal/platform/openapi"
)

// New builds the echo instance serving the API over store.
func New(cfg *config.Config, logger zerolog.Logger, store *Store) (*echo.Echo, error) {
	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = SonicSerializer{}
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders("/api/docs"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, auth.DevUserHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.TransferBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(authMW)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": cfg.AppVersion,
		})
	})
	e.GET("/health/db", db.HealthHandler(store.Probe))

	api := e.Group("/api/v1")
	if cfg.RateLimitRPS > 0 {
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}))
	}

	encSvc := encounter.NewService(store.Repo)
	encSvc.SetAppVersion(cfg.AppVersion)
	encounter.NewHandler(encSvc).RegisterRoutes(api)

	orch := transfer.NewOrchestrator(encSvc)
	orch.SetLogger(logger.With().Str("component", "transfer").Logger())
	orch.SetConcurrency(cfg.TransferConcurrency)
	transfer.NewHandler(orch).RegisterRoutes(api)

	openapi.NewGenerator(e.Routes, cfg.AppVersion, cfg.BaseURL).RegisterRoutes(e.Group("/api"))

	return e, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case "development":
		return auth.DevAuthMiddleware(auth.AuthSkipper), nil
	case "jwt":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
}
