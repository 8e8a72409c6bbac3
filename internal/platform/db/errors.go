package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lubepos/lubepos/internal/shared"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Retryable reports whether err is a transient conflict worth retrying.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// Classify maps driver errors onto the StorageBusy/StorageFailure kinds.
// Errors that already carry a domain kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := shared.KindOf(err); ok && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out waiting for storage", shared.ErrStorageBusy)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%w: %s", shared.ErrStorageBusy, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", shared.ErrStorageFailure, err)
}
