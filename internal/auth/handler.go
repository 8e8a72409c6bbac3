package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) (users.User, error)
}

// TabPolicy lists the UI tabs a role may open.
type TabPolicy interface {
	AllowedTabs(role shared.Role) []string
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	users     Authenticator
	tokens    *TokenManager
	tabs      TabPolicy
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, users Authenticator, tokens *TokenManager, tabs TabPolicy) *Handler {
	return &Handler{logger: logger, users: users, tokens: tokens, tabs: tabs, validator: validator.New()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(loginRateLimit, loginRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many login attempts")
		}),
	)
	r.With(limiter).Post("/login", h.handleLogin)
	r.With(h.tokens.Middleware).Get("/me", h.handleMe)
}

type loginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Session is returned by a successful login and by /me.
type Session struct {
	Token     string      `json:"token,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	UserID    int64       `json:"user_id"`
	Name      string      `json:"name"`
	Role      shared.Role `json:"role"`
	Tabs      []string    `json:"tabs"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validator.Struct(req); err != nil {
		httpx.BadRequest(w, "name and password are required")
		return
	}
	user, err := h.users.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("login failed", slog.String("name", req.Name), slog.Any("error", err))
		}
		httpx.Fail(w, r, h.logger, err)
		return
	}
	actor := shared.Actor{UserID: user.ID, Name: user.Name, Role: user.Role}
	token, expires, err := h.tokens.Issue(actor)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	session := h.session(actor)
	session.Token = token
	session.ExpiresAt = &expires
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no acting user")
		return
	}
	httpx.JSON(w, http.StatusOK, h.session(actor))
}

func (h *Handler) session(actor shared.Actor) Session {
	tabs := []string{}
	if h.tabs != nil {
		tabs = h.tabs.AllowedTabs(actor.Role)
	}
	return Session{UserID: actor.UserID, Name: actor.Name, Role: actor.Role, Tabs: tabs}
}
