package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/lubepos/lubepos/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	CountUsers(ctx context.Context) (int, error)
	InsertUser(ctx context.Context, u User) (int64, error)
	UpdateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByName(ctx context.Context, name string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	authz shared.Authorizer
	audit shared.AuditPort
	now   func() time.Time
	cost  int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, authz shared.Authorizer, audit shared.AuditPort) *Service {
	return &Service{repo: repo, authz: authz, audit: audit, now: time.Now, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost, mainly to keep tests fast.
func (s *Service) WithHashCost(cost int) {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.cost = cost
	}
}

// EnsureSeedAdmin inserts the default admin when no user exists yet.
func (s *Service) EnsureSeedAdmin(ctx context.Context) (bool, error) {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedAdminPassword), s.cost)
	if err != nil {
		return false, err
	}
	_, err = s.repo.InsertUser(ctx, User{
		Name:         SeedAdminName,
		Role:         shared.RoleAdmin,
		Balance:      decimal.Zero,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate validates name/password credentials.
func (s *Service) Authenticate(ctx context.Context, name, password string) (User, error) {
	user, err := s.repo.GetUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// CreateUser registers a new user with zero balance.
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (User, shared.ChangeSet, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdUsersManage)
	if err != nil {
		return User{}, nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input, shared.ErrInvalidUser); err != nil {
		return User{}, nil, err
	}
	if _, err := s.repo.GetUserByName(ctx, input.Name); err == nil {
		return User{}, nil, fmt.Errorf("%w: user %q already exists", shared.ErrInvalidUser, input.Name)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return User{}, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return User{}, nil, err
	}
	user := User{
		Name:         input.Name,
		Role:         input.Role,
		Balance:      decimal.Zero,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	id, err := s.repo.InsertUser(ctx, user)
	if err != nil {
		return User{}, nil, err
	}
	user.ID = id
	s.record(ctx, actor, "users:create", id, map[string]any{"role": user.Role})
	return user, shared.Changes(shared.CollectionUsers), nil
}

// UpdateUser changes a user's role or password.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, shared.ChangeSet, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdUsersManage)
	if err != nil {
		return User{}, nil, err
	}
	if err := shared.ValidateStruct(input, shared.ErrInvalidUser); err != nil {
		return User{}, nil, err
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, nil, LookupError(err, id)
	}
	if input.Role != nil {
		user.Role = *input.Role
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), s.cost)
		if err != nil {
			return User{}, nil, err
		}
		user.PasswordHash = string(hash)
	}
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return User{}, nil, err
	}
	s.record(ctx, actor, "users:update", id, map[string]any{"role": user.Role, "password_changed": input.Password != nil})
	return user, shared.Changes(shared.CollectionUsers), nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdUsersView); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, LookupError(err, id)
	}
	return user, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}

// LookupError maps a repository miss to InvalidUser.
func LookupError(err error, id int64) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: user %d not found", shared.ErrInvalidUser, id)
	}
	return err
}
