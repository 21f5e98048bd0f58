package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"appointment-sync/internal/model"
)

type appointmentView struct {
	ID           string    `json:"id"`
	EventURI     string    `json:"event_uri"`
	EventType    string    `json:"event_type"`
	InviteeEmail string    `json:"invitee_email"`
	InviteeName  string    `json:"invitee_name"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toView(list []model.Appointment) []appointmentView {
	out := make([]appointmentView, 0, len(list))
	for _, a := range list {
		out = append(out, appointmentView{
			ID:           a.ID,
			EventURI:     a.EventURI,
			EventType:    a.EventType,
			InviteeEmail: a.InviteeEmail,
			InviteeName:  a.InviteeName,
			StartTime:    a.StartTime.UTC(),
			EndTime:      a.EndTime.UTC(),
			Status:       string(a.Status),
			CreatedAt:    a.CreatedAt.UTC(),
		})
	}
	return out
}

func (h *Handler) ListAppointments(c echo.Context) error {
	list, err := h.Appointments.ListAppointments(c.Request().Context(), uid(c))
	if err != nil {
		return h.failFrom(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"appointments": toView(list)})
}

// StreamAppointments is a server-sent event stream of the user's full list,
// one "appointments" event on connect and one per change.
func (h *Handler) StreamAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	userID := uid(c)

	latest := make(chan []model.Appointment, 1)
	stop, err := h.Distributor.Subscribe(ctx, userID, func(list []model.Appointment) {
		select {
		case <-latest:
		default:
		}
		latest <- list
	})
	if err != nil {
		return h.failFrom(c, err)
	}
	defer stop()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ping := time.NewTicker(h.KeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case list := <-latest:
			data, err := json.Marshal(toView(list))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: appointments\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
