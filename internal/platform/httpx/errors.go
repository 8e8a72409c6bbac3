// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/lubepos/lubepos/internal/shared"
)

// ErrorKindHeader carries the failure kind so middleware can count outcomes.
const ErrorKindHeader = "X-Error-Kind"

// DetailedError exposes structured failure data, such as stock shortages or a plan.
type DetailedError interface {
	error
	Details() any
}

var kindStatus = map[shared.Kind]int{
	shared.KindInsufficientStock:       http.StatusConflict,
	shared.KindExceedsSYS:              http.StatusConflict,
	shared.KindInsufficientBalance:     http.StatusConflict,
	shared.KindBelowWholesaleThreshold: http.StatusUnprocessableEntity,
	shared.KindInvalidQuantity:         http.StatusUnprocessableEntity,
	shared.KindInvalidAmount:           http.StatusUnprocessableEntity,
	shared.KindInvalidTier:             http.StatusUnprocessableEntity,
	shared.KindInvalidProduct:          http.StatusUnprocessableEntity,
	shared.KindInvalidUser:             http.StatusUnprocessableEntity,
	shared.KindMissingReason:           http.StatusUnprocessableEntity,
	shared.KindSameParty:               http.StatusUnprocessableEntity,
	shared.KindRequiresAuthorization:   http.StatusPreconditionRequired,
	shared.KindPermissionDenied:        http.StatusForbidden,
	shared.KindStorageBusy:             http.StatusServiceUnavailable,
	shared.KindStorageFailure:          http.StatusInternalServerError,
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindFor(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if errors.Is(err, shared.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
	}
	problem := ProblemDetail{
		Type:   "about:blank",
		Title:  string(kind),
		Status: status,
		Kind:   kind,
	}
	if kind != shared.KindStorageFailure {
		problem.Detail = err.Error()
	}
	var detailed DetailedError
	if errors.As(err, &detailed) {
		problem.Data = detailed.Details()
	}
	w.Header().Set(ErrorKindHeader, string(kind))
	w.Header().Set("Content-Type", "application/problem+json")
	JSON(w, status, problem)
}

// BadRequest responds to a malformed request body or parameter.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Bad Request", detail)
}
