package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"appointment-sync/internal/webhook"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

// Webhook answers 2xx for everything it accepted, including deliveries it
// could not resolve, so the provider does not retry them.
func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return fail(c, http.StatusBadRequest, "unreadable body")
	}

	res, err := h.Webhooks.Handle(c.Request().Context(), c.QueryParam("user_id"), c.Request().Header.Get("Signature"), body)
	switch {
	case errors.Is(err, webhook.ErrSignatureInvalid):
		return fail(c, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, webhook.ErrMissingUser):
		return fail(c, http.StatusBadRequest, "user_id required")
	case errors.Is(err, webhook.ErrMalformed):
		return fail(c, http.StatusBadRequest, "malformed payload")
	case err != nil:
		return h.failFrom(c, err)
	}
	return c.JSON(http.StatusOK, webhookResponse{
		Received:  true,
		Duplicate: res.Duplicate,
		Ignored:   res.Disposition == webhook.Ignored,
	})
}
