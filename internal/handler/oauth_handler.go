package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/provider"
)

// OAuthCallback completes the provider grant. state carries the local user
// id that started the flow.
func (h *Handler) OAuthCallback(c echo.Context) error {
	if reason := c.QueryParam("error"); reason != "" {
		return h.redirectError(c, reason)
	}
	code, userID := c.QueryParam("code"), c.QueryParam("state")
	if code == "" || userID == "" {
		return h.redirectError(c, "missing_code")
	}

	_, err := h.Connections.Connect(c.Request().Context(), userID, code, h.RedirectURL)
	if errors.Is(err, provider.ErrAuthExchangeFailed) {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("code exchange rejected")
		return h.redirectError(c, "exchange_failed")
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("connect failed")
		return h.redirectError(c, "server_error")
	}
	return c.Redirect(http.StatusFound, h.SuccessURL)
}

func (h *Handler) redirectError(c echo.Context, reason string) error {
	target, err := url.Parse(h.ErrorURL)
	if err != nil {
		return fail(c, http.StatusBadRequest, reason)
	}
	q := target.Query()
	q.Set("error", reason)
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

func (h *Handler) OAuthConnect(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"url": h.Connections.AuthorizeURL(uid(c))})
}

func (h *Handler) Connection(c echo.Context) error {
	cred, err := h.Connections.Get(c.Request().Context(), uid(c))
	if errors.Is(err, credentials.ErrNotConnected) {
		return c.JSON(http.StatusOK, echo.Map{"connected": false})
	}
	if err != nil {
		return h.failFrom(c, err)
	}
	resp := echo.Map{"connected": true}
	if id := credentials.Identity(cred); id.SchedulingURL != "" {
		resp["scheduling_url"] = id.SchedulingURL
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Disconnect(c echo.Context) error {
	if err := h.Connections.Disconnect(c.Request().Context(), uid(c)); err != nil {
		return h.failFrom(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
