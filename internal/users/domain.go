package users

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
)

// User is a till operator. Balance is the cash the user is accountable for.
type User struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Role         shared.Role     `json:"role"`
	Balance      decimal.Decimal `json:"balance"`
	PasswordHash string          `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateInput describes a new user.
type CreateInput struct {
	Name     string      `json:"name" validate:"required,min=3,max=64"`
	Password string      `json:"password" validate:"required,min=6,max=72"`
	Role     shared.Role `json:"role" validate:"required,oneof=admin accountant staff"`
}

// UpdateInput carries optional changes to a user.
type UpdateInput struct {
	Role     *shared.Role `json:"role,omitempty" validate:"omitempty,oneof=admin accountant staff"`
	Password *string      `json:"password,omitempty" validate:"omitempty,min=6,max=72"`
}

// Seed credentials inserted when the user table is empty.
const (
	SeedAdminName     = "admin"
	SeedAdminPassword = "admin123"
)
