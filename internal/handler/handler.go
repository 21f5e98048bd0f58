package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/middleware"
	"appointment-sync/internal/model"
	"appointment-sync/internal/provider"
	"appointment-sync/internal/webhook"
)

type Connections interface {
	AuthorizeURL(userID string) string
	Connect(ctx context.Context, userID, code, redirectURI string) (*model.Credential, error)
	Disconnect(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (*model.Credential, error)
}

type Syncer interface {
	Sync(ctx context.Context, userID string) (int, error)
}

type Registrar interface {
	Register(ctx context.Context, userID string) (string, error)
}

type Webhooks interface {
	Handle(ctx context.Context, userID, signature string, body []byte) (webhook.Result, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, userID string, fn func([]model.Appointment)) (func(), error)
}

type Appointments interface {
	ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error)
}

type Deps struct {
	Connections  Connections
	Syncer       Syncer
	Registrar    Registrar
	Webhooks     Webhooks
	Distributor  Subscriber
	Appointments Appointments
	Limiter      *middleware.RateLimiter
	Logger       zerolog.Logger

	Secret      string
	RedirectURL string
	SuccessURL  string
	ErrorURL    string

	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
}

type Handler struct {
	Deps
	logger zerolog.Logger
}

func New(d Deps) *Handler {
	if d.KeepAlive <= 0 {
		d.KeepAlive = 25 * time.Second
	}
	return &Handler{Deps: d, logger: d.Logger.With().Str("component", "http").Logger()}
}

// Echo builds the HTTP server with every route mounted.
func (h *Handler) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			ev := h.logger.Debug()
			if v.Error != nil {
				ev = h.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("path", v.URIPath).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	h.Routes(e)
	return e
}

func (h *Handler) Routes(e *echo.Echo) {
	var limit []echo.MiddlewareFunc
	if h.Limiter != nil {
		limit = append(limit, middleware.EchoRateLimit(h.Limiter))
	}
	authed := append(append([]echo.MiddlewareFunc{}, limit...), middleware.Bearer(h.Secret))

	e.GET("/health", h.Health)
	e.POST("/webhook", h.Webhook)
	e.GET("/oauth/callback", h.OAuthCallback, limit...)

	e.GET("/oauth/connect", h.OAuthConnect, authed...)
	e.GET("/connection", h.Connection, authed...)
	e.DELETE("/connection", h.Disconnect, authed...)
	e.POST("/sync", h.Sync, authed...)
	e.POST("/register-webhook", h.RegisterWebhook, authed...)
	e.GET("/appointments", h.ListAppointments, authed...)
	e.GET("/appointments/stream", h.StreamAppointments, authed...)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func uid(c echo.Context) string {
	return middleware.UserID(c.Request().Context())
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, echo.Map{"ok": false, "error": msg})
}

// failFrom maps engine errors onto HTTP statuses.
func (h *Handler) failFrom(c echo.Context, err error) error {
	switch {
	case errors.Is(err, credentials.ErrNotConnected):
		return fail(c, http.StatusBadRequest, "provider not connected")
	case errors.Is(err, provider.ErrProviderRequestFailed),
		errors.Is(err, provider.ErrAuthExchangeFailed),
		errors.Is(err, provider.ErrForeignURI):
		return fail(c, http.StatusBadGateway, "provider request failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fail(c, http.StatusServiceUnavailable, "request cancelled")
	}
	h.logger.Error().Err(err).Str("user_id", uid(c)).Msg("request failed")
	return fail(c, http.StatusInternalServerError, "internal error")
}
