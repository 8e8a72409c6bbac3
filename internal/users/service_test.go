package users_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/store/memory"
	"github.com/lubepos/lubepos/internal/users"
)

func newUsers(t *testing.T) (*users.Service, context.Context) {
	t.Helper()
	svc := users.NewService(memory.New().Users(), rbac.MustDefaultPolicy(), nil)
	svc.WithHashCost(bcrypt.MinCost)
	created, err := svc.EnsureSeedAdmin(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	admin, err := svc.Authenticate(context.Background(), users.SeedAdminName, users.SeedAdminPassword)
	require.NoError(t, err)
	ctx := shared.ContextWithActor(context.Background(), shared.Actor{UserID: admin.ID, Name: admin.Name, Role: admin.Role})
	return svc, ctx
}

func TestSeedAdminOnlyOnEmptyStore(t *testing.T) {
	svc, ctx := newUsers(t)
	created, err := svc.EnsureSeedAdmin(ctx)
	require.NoError(t, err)
	require.False(t, created)

	all, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, shared.RoleAdmin, all[0].Role)
	require.True(t, all[0].Balance.IsZero())
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc, ctx := newUsers(t)
	_, err := svc.Authenticate(ctx, "admin", "wrong-password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ghost", "admin123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	user, err := svc.Authenticate(ctx, "  admin ", "admin123")
	require.NoError(t, err)
	require.Equal(t, "admin", user.Name)
}

func TestCreateUser(t *testing.T) {
	svc, ctx := newUsers(t)
	user, changed, err := svc.CreateUser(ctx, users.CreateInput{Name: " sari ", Password: "kasir123", Role: shared.RoleStaff})
	require.NoError(t, err)
	require.Equal(t, "sari", user.Name)
	require.NotZero(t, user.ID)
	require.True(t, changed.Has(shared.CollectionUsers))
	require.NotEqual(t, "kasir123", user.PasswordHash)

	_, err = svc.Authenticate(context.Background(), "sari", "kasir123")
	require.NoError(t, err)

	_, _, err = svc.CreateUser(ctx, users.CreateInput{Name: "sari", Password: "another1", Role: shared.RoleStaff})
	require.ErrorIs(t, err, shared.ErrInvalidUser)
}

func TestCreateUserValidation(t *testing.T) {
	svc, ctx := newUsers(t)
	cases := map[string]users.CreateInput{
		"short name":     {Name: "jo", Password: "secret1", Role: shared.RoleStaff},
		"short password": {Name: "joko", Password: "123", Role: shared.RoleStaff},
		"unknown role":   {Name: "joko", Password: "secret1", Role: "owner"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.CreateUser(ctx, input)
			require.ErrorIs(t, err, shared.ErrInvalidUser)
		})
	}
}

func TestUpdateUserRoleAndPassword(t *testing.T) {
	svc, ctx := newUsers(t)
	user, _, err := svc.CreateUser(ctx, users.CreateInput{Name: "budi", Password: "kasir123", Role: shared.RoleStaff})
	require.NoError(t, err)

	role := shared.RoleAccountant
	password := "ledger456"
	updated, _, err := svc.UpdateUser(ctx, user.ID, users.UpdateInput{Role: &role, Password: &password})
	require.NoError(t, err)
	require.Equal(t, shared.RoleAccountant, updated.Role)

	_, err = svc.Authenticate(ctx, "budi", "kasir123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	got, err := svc.Authenticate(ctx, "budi", "ledger456")
	require.NoError(t, err)
	require.Equal(t, shared.RoleAccountant, got.Role)

	_, _, err = svc.UpdateUser(ctx, 999, users.UpdateInput{Role: &role})
	require.ErrorIs(t, err, shared.ErrInvalidUser)

	bad := shared.Role("owner")
	_, _, err = svc.UpdateUser(ctx, user.ID, users.UpdateInput{Role: &bad})
	require.ErrorIs(t, err, shared.ErrInvalidUser)
}

func TestOnlyAdminManagesUsers(t *testing.T) {
	svc, ctx := newUsers(t)
	staff, _, err := svc.CreateUser(ctx, users.CreateInput{Name: "rina", Password: "kasir123", Role: shared.RoleStaff})
	require.NoError(t, err)

	staffCtx := shared.ContextWithActor(context.Background(), shared.Actor{UserID: staff.ID, Name: staff.Name, Role: staff.Role})
	_, _, err = svc.CreateUser(staffCtx, users.CreateInput{Name: "intruder", Password: "secret1", Role: shared.RoleAdmin})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.ListUsers(staffCtx)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.GetUser(staffCtx, 404)
	require.ErrorIs(t, err, shared.ErrInvalidUser)
}
