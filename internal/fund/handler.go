package fund

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

// Handler exposes fund ledger endpoints.
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

// MountRoutes registers fund routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.CmdFundTransfer)).Post("/transfers", h.transfer)
	r.With(h.rbac.RequireAny(shared.CmdFundTransfer)).Post("/remit", h.remit)
	r.With(h.rbac.RequireAny(shared.CmdFundPayout)).Post("/payouts", h.payout)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdFundView))
		r.Get("/balances", h.balances)
		r.Get("/balances/{userID}", h.balance)
		r.Get("/history", h.history)
		r.Get("/invoices/{id}/remitted", h.remitted)
	})
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var input TransferInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r)(h.service.Transfer(r.Context(), input))
}

func (h *Handler) remit(w http.ResponseWriter, r *http.Request) {
	var input RemitInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r)(h.service.Remit(r.Context(), input))
}

func (h *Handler) payout(w http.ResponseWriter, r *http.Request) {
	var input PayoutInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r)(h.service.PayoutOut(r.Context(), input))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(TransferResult, error) {
	return func(result TransferResult, err error) {
		if err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
		httpx.Committed(w, r, h.notifier, h.logger, http.StatusCreated, result, result.Changed)
	}
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Balances(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "userID")
	if err != nil {
		httpx.BadRequest(w, "invalid user id")
		return
	}
	out, err := h.service.BalanceOf(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	var (
		filter HistoryFilter
		err    error
	)
	if filter.UserID, err = httpx.QueryInt64(r, "user_id"); err != nil {
		httpx.BadRequest(w, "invalid user_id")
		return
	}
	if filter.InvoiceID, err = httpx.QueryInt64(r, "invoice_id"); err != nil {
		httpx.BadRequest(w, "invalid invoice_id")
		return
	}
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
	out, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) remitted(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid invoice id")
		return
	}
	sum, err := h.service.RemittedForInvoice(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice_id": id, "remitted": sum})
}
