package shared

import (
	"context"
	"errors"
)

// Kind names a failure category reported to callers. Every failed command maps to exactly one kind.
type Kind string

const (
	KindInsufficientStock       Kind = "InsufficientStock"
	KindExceedsSYS              Kind = "ExceedsSYS"
	KindBelowWholesaleThreshold Kind = "BelowWholesaleThreshold"
	KindRequiresAuthorization   Kind = "RequiresAuthorization"
	KindInvalidQuantity         Kind = "InvalidQuantity"
	KindInvalidAmount           Kind = "InvalidAmount"
	KindInvalidTier             Kind = "InvalidTier"
	KindInvalidProduct          Kind = "InvalidProduct"
	KindInvalidUser             Kind = "InvalidUser"
	KindMissingReason           Kind = "MissingReason"
	KindInsufficientBalance     Kind = "InsufficientBalance"
	KindSameParty               Kind = "SameParty"
	KindPermissionDenied        Kind = "PermissionDenied"
	KindStorageBusy             Kind = "StorageBusy"
	KindStorageFailure          Kind = "StorageFailure"
)

var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrExceedsSYS              = errors.New("request exceeds system stock")
	ErrBelowWholesaleThreshold = errors.New("quantity below wholesale threshold")
	ErrRequiresAuthorization   = errors.New("plan requires authorization")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidTier             = errors.New("invalid tier")
	ErrInvalidProduct          = errors.New("invalid product")
	ErrInvalidUser             = errors.New("invalid user")
	ErrMissingReason           = errors.New("missing recount reason")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrSameParty               = errors.New("sender and recipient are the same user")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrStorageBusy             = errors.New("storage busy")
	ErrStorageFailure          = errors.New("storage failure")
)

// ErrNotFound is returned by repositories for missing rows. Services translate it
// into the matching Invalid* kind before it reaches callers.
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials indicates a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrExceedsSYS, KindExceedsSYS},
	{ErrBelowWholesaleThreshold, KindBelowWholesaleThreshold},
	{ErrRequiresAuthorization, KindRequiresAuthorization},
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidTier, KindInvalidTier},
	{ErrInvalidProduct, KindInvalidProduct},
	{ErrInvalidUser, KindInvalidUser},
	{ErrMissingReason, KindMissingReason},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrSameParty, KindSameParty},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrInvalidCredentials, KindPermissionDenied},
	{ErrStorageBusy, KindStorageBusy},
	{ErrStorageFailure, KindStorageFailure},
}

// KindOf reports the taxonomy kind of err. The boolean is false for errors that
// carry no domain kind, such as raw driver errors.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind, true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStorageBusy, true
	}
	return "", false
}

// KindFor returns the kind of err, defaulting to StorageFailure for unclassified errors.
func KindFor(err error) Kind {
	if kind, ok := KindOf(err); ok {
		return kind
	}
	return KindStorageFailure
}
