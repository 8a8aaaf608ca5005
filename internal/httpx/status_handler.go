package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

type Channels interface {
	Handles() []realtime.HandleInfo
}

type AlertSource interface {
	Alerts() []model.Alert
}

type PresenceSource interface {
	Records() []model.PresenceRecord
	Record(userID string) (model.PresenceRecord, bool)
}

type Cache interface {
	Presence(ctx context.Context, userID string) (model.PresenceRecord, bool, error)
	LatestLocation(ctx context.Context, deliveryID string) (model.LocationSample, bool, error)
}

type ConversationSource interface {
	Messages() []model.Message
	UnreadCount() int
	IsOtherUserTyping() bool
	Send(ctx context.Context, body, kind string) (model.Message, error)
}

type StockWriter interface {
	SetStock(ctx context.Context, productID string, qty int) (model.InventorySnapshot, error)
}

// StatusHandler exposes the daemon's local sync state. Any source may be
// nil; its routes then answer 404.
type StatusHandler struct {
	Channels Channels
	Alerts   AlertSource
	Presence PresenceSource
	Cache    Cache
	Stock    StockWriter
	Chat     ConversationSource
}

type ConversationResp struct {
	Messages []model.Message `json:"messages"`
	Unread   int             `json:"unread"`
	Typing   bool            `json:"other_user_typing"`
}

type SendReq struct {
	Body string `json:"body"`
	Type string `json:"type"`
}

type SetStockReq struct {
	StockQuantity *int `json:"stock_quantity"`
}

func (h *StatusHandler) Register(r *chi.Mux) {
	r.Get("/channels", h.listChannels)
	r.Get("/alerts", h.listAlerts)
	r.Get("/presence", h.listPresence)
	r.Get("/presence/{userID}", h.getPresence)
	r.Get("/deliveries/{id}/location", h.getLocation)
	r.Put("/products/{id}/stock", h.setStock)
	r.Get("/conversation", h.getConversation)
	r.Post("/conversation/messages", h.sendMessage)
}

func (h *StatusHandler) listChannels(w http.ResponseWriter, r *http.Request) {
	if h.Channels == nil {
		writeErr(w, http.StatusNotFound, "no channels")
		return
	}
	writeJSON(w, http.StatusOK, h.Channels.Handles())
}

func (h *StatusHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts == nil {
		writeErr(w, http.StatusNotFound, "stock alerts not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Alerts.Alerts())
}

func (h *StatusHandler) listPresence(w http.ResponseWriter, r *http.Request) {
	if h.Presence == nil {
		writeErr(w, http.StatusNotFound, "presence not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Presence.Records())
}

// getPresence answers from the Redis mirror first and falls back to the
// local tracker when the cache misses or fails.
func (h *StatusHandler) getPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.Cache != nil {
		if rec, ok, err := h.Cache.Presence(ctx, userID); err == nil && ok {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	if h.Presence != nil {
		if rec, ok := h.Presence.Record(userID); ok {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeErr(w, http.StatusNotFound, "unknown user")
}

func (h *StatusHandler) getLocation(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeErr(w, http.StatusNotFound, "location cache not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	s, ok, err := h.Cache.LatestLocation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "no location yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *StatusHandler) setStock(w http.ResponseWriter, r *http.Request) {
	if h.Stock == nil {
		writeErr(w, http.StatusNotFound, "stock updates not enabled")
		return
	}
	var req SetStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.StockQuantity == nil || *req.StockQuantity < 0 {
		writeErr(w, http.StatusBadRequest, "stock_quantity must be >= 0")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Stock.SetStock(ctx, chi.URLParam(r, "id"), *req.StockQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		writeErr(w, http.StatusNotFound, "unknown product")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *StatusHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	if h.Chat == nil {
		writeErr(w, http.StatusNotFound, "no conversation open")
		return
	}
	writeJSON(w, http.StatusOK, ConversationResp{
		Messages: h.Chat.Messages(),
		Unread:   h.Chat.UnreadCount(),
		Typing:   h.Chat.IsOtherUserTyping(),
	})
}

func (h *StatusHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	if h.Chat == nil {
		writeErr(w, http.StatusNotFound, "no conversation open")
		return
	}
	var req SendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	m, err := h.Chat.Send(ctx, req.Body, req.Type)
	switch {
	case errs.Is(err, errs.KindValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}
