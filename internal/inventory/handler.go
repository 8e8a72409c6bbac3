package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

// Handler exposes inventory endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	notifier shared.ChangeNotifier
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, notifier shared.ChangeNotifier) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, notifier: notifier}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdInventoryView))
		r.Get("/on-hand/{productID}", h.onHand)
		r.Get("/movements", h.movements)
	})
	r.With(h.rbac.RequireAny(shared.CmdInventoryRecount)).Post("/recount", h.recount)
	r.With(h.rbac.RequireAny(shared.CmdInventoryReceive)).Post("/receive", h.receive)
}

func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.BadRequest(w, "invalid product id")
		return
	}
	qty, err := h.service.OnHand(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "on_hand": qty})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	var (
		filter MovementFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.BadRequest(w, "invalid product_id")
		return
	}
	if filter.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		httpx.BadRequest(w, "invalid user_id")
		return
	}
	filter.Action = Action(r.URL.Query().Get("action"))
	if filter.From, err = httpx.QueryDate(r, "from", false); err != nil {
		httpx.BadRequest(w, "invalid from")
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to", true); err != nil {
		httpx.BadRequest(w, "invalid to")
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.BadRequest(w, "invalid limit")
		return
	}
	out, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type recountRequest struct {
	Entries []RecountEntry `json:"entries"`
}

func (h *Handler) recount(w http.ResponseWriter, r *http.Request) {
	var req recountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.Recount(r.Context(), req.Entries)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusOK, result, result.Changed)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var input ReceiveInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	result, err := h.service.Receive(r.Context(), input)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.Committed(w, r, h.notifier, h.logger, http.StatusCreated, result, result.Changed)
}
