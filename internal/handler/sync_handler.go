package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type syncResponse struct {
	OK     bool `json:"ok"`
	Synced int  `json:"synced"`
	Count  int  `json:"count"`
}

// Sync runs a sweep bound to the request; a client that disconnects
// cancels it.
func (h *Handler) Sync(c echo.Context) error {
	ctx := c.Request().Context()
	userID := uid(c)

	synced, err := h.Syncer.Sync(ctx, userID)
	if err != nil {
		return h.failFrom(c, err)
	}
	list, err := h.Appointments.ListAppointments(ctx, userID)
	if err != nil {
		return h.failFrom(c, err)
	}
	return c.JSON(http.StatusOK, syncResponse{OK: true, Synced: synced, Count: len(list)})
}

func (h *Handler) RegisterWebhook(c echo.Context) error {
	uri, err := h.Registrar.Register(c.Request().Context(), uid(c))
	if err != nil {
		return h.failFrom(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "webhook_id": uri})
}
