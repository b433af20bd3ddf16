package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/halcyon-social/halcyon"
	"github.com/halcyon-social/halcyon/internal/domain"
	"github.com/halcyon-social/halcyon/internal/present/rest/presenter"
	"github.com/halcyon-social/halcyon/internal/service"
	"github.com/halcyon-social/halcyon/internal/usecase"
)

type Handler struct {
	config  domain.Config
	indexer *usecase.Indexer
	likes   *usecase.LikeQueryUsecase
	counts  *service.CountService
	signal  *service.SignalService
}

func NewHandler(
	config domain.Config,
	indexer *usecase.Indexer,
	likes *usecase.LikeQueryUsecase,
	counts *service.CountService,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		config:  config,
		indexer: indexer,
		likes:   likes,
		counts:  counts,
		signal:  signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/halcyon", h.handleWellKnown)
	e.POST("/commit", h.handleCommit)
	e.POST("/backfill", h.handleBackfill)
	e.GET("/likes", h.handleLikes)
	e.GET("/like-count", h.handleLikeCount)
	e.GET("/realtime", h.handleRealtime)
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := halcyon.WellKnownHalcyon{
		Version: "1.0",
		Domain:  h.config.FQDN,
		Endpoints: map[string]halcyon.HalcyonEndpoint{
			"net.halcyon.commit": {
				Template: "/commit",
				Method:   "POST",
			},
			"net.halcyon.backfill": {
				Template: "/backfill",
				Method:   "POST",
			},
			"net.halcyon.likes": {
				Template: "/likes",
				Method:   "GET",
				Query:    &[]string{"subject", "limit"},
			},
			"net.halcyon.like-count": {
				Template: "/like-count",
				Method:   "GET",
				Query:    &[]string{"subject"},
			},
			"net.halcyon.realtime": {
				Template: "/realtime",
				Method:   "GET",
			},
		},
	}
	return presenter.OK(c, wellknown)
}

func (h *Handler) handleCommit(c echo.Context) error {
	ctx := c.Request().Context()

	var ev halcyon.RecordEvent
	err := c.Bind(&ev)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}

	if !ev.Deleted {
		if ev.ContentHash == "" {
			return presenter.BadRequestMessage(c, "content hash is required")
		}
		if halcyon.GetHash(ev.Payload) != ev.ContentHash {
			return presenter.BadRequestMessage(c, "content hash mismatch")
		}
	}

	err = h.indexer.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			return presenter.BadRequest(c, err)
		}
		// storage failures surface so the event source redelivers
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleBackfill(c echo.Context) error {
	ctx := c.Request().Context()

	var evs []halcyon.RecordEvent
	err := c.Bind(&evs)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	now := time.Now().UTC()
	for i := range evs {
		if evs[i].ObservedAt.IsZero() {
			evs[i].ObservedAt = now
		}
		if evs[i].Deleted {
			continue
		}
		if evs[i].ContentHash == "" {
			return presenter.BadRequestMessage(c, "content hash is required")
		}
		if halcyon.GetHash(evs[i].Payload) != evs[i].ContentHash {
			return presenter.BadRequestMessage(c, "content hash mismatch")
		}
	}

	err = h.indexer.ApplyBulk(ctx, evs)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			return presenter.BadRequest(c, err)
		}
		return presenter.InternalError(c, err)
	}

	return presenter.OK(c, echo.Map{"status": "ok", "count": len(evs)})
}

func (h *Handler) handleLikes(c echo.Context) error {
	ctx := c.Request().Context()

	subject := c.QueryParam("subject")
	if subject == "" {
		return presenter.BadRequestMessage(c, "subject parameter is required")
	}

	limit := 40
	limitStr := c.QueryParam("limit")
	if limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = limitInt
	}
	if limit > 100 {
		limit = 100
	}

	likes, err := h.likes.ListBySubject(ctx, subject, limit)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, likes)
}

func (h *Handler) handleLikeCount(c echo.Context) error {
	ctx := c.Request().Context()

	subject := c.QueryParam("subject")
	if subject == "" {
		return presenter.BadRequestMessage(c, "subject parameter is required")
	}

	count, err := h.counts.GetLikeCount(ctx, subject)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, domain.AggregateCount{
		Subject: subject,
		Count:   count,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type       string   `json:"type"`
	Recipients []string `json:"recipients"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// the signal feed exits on ctx alone; the channels are never closed, so a
	// delivery racing the handler return cannot send on a closed channel
	input := make(chan []string)
	output := make(chan halcyon.Event)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{}, 1)

	go func() {
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				quit <- struct{}{}
				break
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.Recipients:
				case <-ctx.Done():
					return
				}
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
