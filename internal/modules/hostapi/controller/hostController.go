package controller

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"pushsync/internal/modules/hostapi"
	"pushsync/internal/modules/lifecycle"
	"pushsync/internal/modules/notification"
	"pushsync/internal/session"
	resp "pushsync/pkg/lib/response"
)

// HostController exposes the host side of the session over HTTP, so a
// native shell (or an operator) can feed lifecycle events and push deliveries.
type HostController struct {
	core     hostapi.Core
	inbox    hostapi.Inbox
	log      *slog.Logger
	validate *validator.Validate
}

func NewHostController(core hostapi.Core, inbox hostapi.Inbox, log *slog.Logger) *HostController {
	return &HostController{
		core:     core,
		inbox:    inbox,
		log:      log,
		validate: validator.New(),
	}
}

// Lifecycle handles POST /lifecycle/{event}.
func (c *HostController) Lifecycle(w http.ResponseWriter, r *http.Request) {
	op := "HostController.Lifecycle"
	event := chi.URLParam(r, "event")
	log := c.log.With(slog.String("op", op), slog.String("event", event))

	var err error
	switch event {
	case "background":
		err = c.core.EnterBackground()
	case "foreground":
		err = c.core.EnterForeground()
	case "active":
		err = c.core.BecomeActive()
	case "resign":
		err = c.core.ResignActive()
	default:
		log.Warn("unknown lifecycle event")
		resp.SendError(w, r, http.StatusNotFound, hostapi.ErrUnknownAction.Error())
		return
	}
	if err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendOK(w, r, http.StatusAccepted)
}

// Deliver handles POST /notifications/deliver.
func (c *HostController) Deliver(w http.ResponseWriter, r *http.Request) {
	op := "HostController.Deliver"
	log := c.log.With(slog.String("op", op))

	var req hostapi.DeliverRequest
	if err := decodePayload(r.Body, &req); err != nil {
		log.Warn("failed to decode request body", "error", err)
		resp.SendError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := c.validate.Struct(req); err != nil {
		log.Warn("validation failed", "error", err)
		resp.SendValidationError(w, r, err)
		return
	}

	outcome, err := c.core.DeliverNotification(req.Payload, req.Presented)
	if err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendSuccess(w, r, http.StatusOK, hostapi.DeliverResponse{Outcome: outcome.String()})
}

// Interaction handles POST /notifications/interaction.
func (c *HostController) Interaction(w http.ResponseWriter, r *http.Request) {
	op := "HostController.Interaction"
	log := c.log.With(slog.String("op", op))

	var req hostapi.InteractionRequest
	if err := decodePayload(r.Body, &req); err != nil {
		log.Warn("failed to decode request body", "error", err)
		resp.SendError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := c.validate.Struct(req); err != nil {
		log.Warn("validation failed", "error", err)
		resp.SendValidationError(w, r, err)
		return
	}

	if err := c.core.NotificationActivated(req.Payload, notification.Action(req.Action)); err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendOK(w, r, http.StatusAccepted)
}

// Notifications handles GET /notifications.
func (c *HostController) Notifications(w http.ResponseWriter, r *http.Request) {
	resp.SendSuccess(w, r, http.StatusOK, c.inbox.List())
}

// Status handles GET /status.
func (c *HostController) Status(w http.ResponseWriter, r *http.Request) {
	op := "HostController.Status"
	log := c.log.With(slog.String("op", op))

	snap, err := c.core.Snapshot()
	if err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendSuccess(w, r, http.StatusOK, snap)
}

// Connection handles POST /connection/{action}.
func (c *HostController) Connection(w http.ResponseWriter, r *http.Request) {
	op := "HostController.Connection"
	action := chi.URLParam(r, "action")
	log := c.log.With(slog.String("op", op), slog.String("action", action))

	var err error
	switch action {
	case "connect":
		err = c.core.Connect()
	case "disconnect":
		err = c.core.Disconnect()
	case "enable":
		err = c.core.SetRealtimeEnabled(true)
	case "disable":
		err = c.core.SetRealtimeEnabled(false)
	default:
		log.Warn("unknown connection action")
		resp.SendError(w, r, http.StatusNotFound, hostapi.ErrUnknownAction.Error())
		return
	}
	if err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendOK(w, r, http.StatusAccepted)
}

// SetToken handles PUT /token.
func (c *HostController) SetToken(w http.ResponseWriter, r *http.Request) {
	op := "HostController.SetToken"
	log := c.log.With(slog.String("op", op))

	var req hostapi.TokenRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("failed to decode request body", "error", err)
		resp.SendError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := c.validate.Struct(req); err != nil {
		log.Warn("validation failed", "error", err)
		resp.SendValidationError(w, r, err)
		return
	}

	if err := c.core.SetToken(req.Token); err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendOK(w, r, http.StatusOK)
}

// ClearToken handles DELETE /token.
func (c *HostController) ClearToken(w http.ResponseWriter, r *http.Request) {
	op := "HostController.ClearToken"
	log := c.log.With(slog.String("op", op))

	if err := c.core.ClearToken(); err != nil {
		c.sendCoreError(w, r, log, err)
		return
	}
	resp.SendOK(w, r, http.StatusOK)
}

// decodePayload keeps numbers as json.Number so numeric message ids survive
// beyond float64 precision.
func decodePayload(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *HostController) sendCoreError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, notification.ErrMissingMessageID), errors.Is(err, notification.ErrMalformedPayload):
		log.Warn("rejected payload", "error", err)
		resp.SendError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lifecycle.ErrEmptyToken):
		log.Warn("rejected token", "error", err)
		resp.SendError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotStarted), errors.Is(err, session.ErrClosed):
		log.Warn("session unavailable", "error", err)
		resp.SendError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error("session call failed", "error", err)
		resp.SendError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
