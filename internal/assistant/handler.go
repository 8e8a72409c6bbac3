package assistant

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
)

const maxToolArgs = 64 << 10

// Handler exposes the assistant queries and their tool surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
	tools   *ToolRegistry
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, tools: NewToolRegistry(service), rbac: rbac}
}

// MountRoutes registers assistant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CmdAssistantQuery))
		r.Get("/debts", h.debts)
		r.Get("/ledger", h.ledger)
		r.Get("/inventory", h.inventory)
		r.Get("/tabs", h.tabs)
		r.Get("/tools", h.listTools)
		r.Post("/tools/{name}", h.callTool)
	})
}

func (h *Handler) debts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.UserDebts(r.Context())
	h.respond(w, r, out, err)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	var (
		q   LedgerQuery
		err error
	)
	if q.From, err = httpx.QueryDate(r, "from", false); err != nil {
		httpx.BadRequest(w, "invalid from")
		return
	}
	if q.To, err = httpx.QueryDate(r, "to", true); err != nil {
		httpx.BadRequest(w, "invalid to")
		return
	}
	out, err := h.service.FundLedger(r.Context(), q)
	h.respond(w, r, out, err)
}

func (h *Handler) inventory(w http.ResponseWriter, r *http.Request) {
	q := InventoryQuery{Search: strings.TrimSpace(r.URL.Query().Get("search"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				httpx.BadRequest(w, "invalid ids")
				return
			}
			q.ProductIDs = append(q.ProductIDs, id)
		}
	}
	out, err := h.service.InventoryView(r.Context(), q)
	h.respond(w, r, out, err)
}

func (h *Handler) tabs(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.AllowedTabs(r.Context(), shared.Role(r.URL.Query().Get("role")))
	h.respond(w, r, out, err)
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "openai" {
		httpx.JSON(w, http.StatusOK, h.tools.ToOpenAITools())
		return
	}
	out := make([]toolView, 0, len(h.tools.All()))
	for _, t := range h.tools.All() {
		out = append(out, toolView{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.tools.Get(name); !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown tool "+name)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxToolArgs))
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	out, err := h.tools.Call(r.Context(), name, json.RawMessage(raw))
	h.respond(w, r, out, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, out any, err error) {
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
