package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("%w: product 3", ErrInsufficientStock), KindInsufficientStock},
		{fmt.Errorf("wrap: %w", fmt.Errorf("%w: x", ErrExceedsSYS)), KindExceedsSYS},
		{ErrInvalidCredentials, KindPermissionDenied},
		{context.DeadlineExceeded, KindStorageBusy},
		{errors.New("connection reset"), KindStorageFailure},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, KindFor(tc.err), tc.err.Error())
	}

	_, ok := KindOf(nil)
	require.False(t, ok)
	_, ok = KindOf(errors.New("raw"))
	require.False(t, ok)
}

func TestChangesNormalises(t *testing.T) {
	set := Changes(CollectionTransfers, CollectionBalances, "", CollectionTransfers)
	require.Equal(t, ChangeSet{CollectionBalances, CollectionTransfers}, set)

	merged := set.Merge(Changes(CollectionMovements, CollectionBalances))
	require.Equal(t, ChangeSet{CollectionBalances, CollectionMovements, CollectionTransfers}, merged)
	require.True(t, merged.Has(CollectionMovements))
	require.False(t, merged.Has(CollectionUsers))
}

func TestRequireActor(t *testing.T) {
	_, err := RequireActor(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = RequireActor(ContextWithActor(context.Background(), Actor{Name: "nobody"}))
	require.ErrorIs(t, err, ErrPermissionDenied)

	actor, err := Authorize(ContextWithActor(context.Background(), Actor{UserID: 3, Role: RoleStaff}), nil, CmdInvoiceCreate)
	require.NoError(t, err)
	require.Equal(t, int64(3), actor.UserID)

	id, err := ScopeUser(context.Background(), nil, 8)
	require.NoError(t, err)
	require.Equal(t, int64(8), id)
}

func TestValidateStructUsesKind(t *testing.T) {
	type input struct {
		Name string `validate:"required,min=3"`
	}
	err := ValidateStruct(input{Name: "ab"}, ErrInvalidUser)
	require.ErrorIs(t, err, ErrInvalidUser)
	require.ErrorContains(t, err, "Name failed min")
	require.NoError(t, ValidateStruct(input{Name: "abc"}, ErrInvalidUser))
}
