package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/lubepos/lubepos/internal/shared"
)

type shortageError struct{ product int64 }

func (e shortageError) Error() string { return fmt.Sprintf("product %d short", e.product) }
func (e shortageError) Unwrap() error { return shared.ErrInsufficientStock }
func (e shortageError) Details() any  { return map[string]int64{"product_id": e.product} }

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   shared.Kind
	}{
		{fmt.Errorf("%w: x", shared.ErrInvalidQuantity), http.StatusUnprocessableEntity, shared.KindInvalidQuantity},
		{shared.ErrPermissionDenied, http.StatusForbidden, shared.KindPermissionDenied},
		{shared.ErrInvalidCredentials, http.StatusUnauthorized, shared.KindPermissionDenied},
		{shared.ErrRequiresAuthorization, http.StatusPreconditionRequired, shared.KindRequiresAuthorization},
		{shared.ErrStorageBusy, http.StatusServiceUnavailable, shared.KindStorageBusy},
		{shared.ErrInsufficientBalance, http.StatusConflict, shared.KindInsufficientBalance},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, string(tc.kind), rec.Header().Get(ErrorKindHeader))
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesStorageDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: password authentication failed"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	require.Equal(t, string(shared.KindStorageFailure), body["kind"])
	require.NotContains(t, body, "detail")
}

func TestRespondErrorCarriesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("sale: %w", shortageError{product: 4}))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeProblem(t, rec)
	require.Equal(t, map[string]any{"product_id": float64(4)}, body["data"])
}

type recordingNotifier struct{ got []shared.ChangeSet }

func (n *recordingNotifier) Invalidate(_ context.Context, changed shared.ChangeSet) error {
	n.got = append(n.got, changed)
	return nil
}

func TestCommittedNotifiesChangedCollections(t *testing.T) {
	notifier := &recordingNotifier{}
	req := httptest.NewRequest(http.MethodPost, "/api/invoices", nil)

	rec := httptest.NewRecorder()
	Committed(rec, req, notifier, nil, http.StatusCreated, map[string]int{"id": 1}, shared.Changes(shared.CollectionInvoices))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, notifier.got, 1)

	rec = httptest.NewRecorder()
	Committed(rec, req, notifier, nil, http.StatusOK, map[string]int{"id": 1}, nil)
	require.Len(t, notifier.got, 1)
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?user_id=7&limit=20&from=2024-05-01&to=2024-05-01", nil)
	id, err := QueryInt64(req, "user_id")
	require.NoError(t, err)
	require.Equal(t, int64(7), id)

	missing, err := QueryInt64(req, "invoice_id")
	require.NoError(t, err)
	require.Zero(t, missing)

	limit, err := QueryInt(req, "limit")
	require.NoError(t, err)
	require.Equal(t, 20, limit)

	from, err := QueryDate(req, "from", false)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), from)
	to, err := QueryDate(req, "to", true)
	require.NoError(t, err)
	require.Equal(t, 2024, to.Year())
	require.Equal(t, 23, to.Hour())

	_, err = QueryDate(httptest.NewRequest(http.MethodGet, "/x?from=yesterday", nil), "from", false)
	require.Error(t, err)
}

func TestPathInt64(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	r.Get("/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := PathInt64(r, "id")
		require.NoError(t, err)
		got = id
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/42", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(42), got)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	require.Error(t, DecodeJSON(req, &target))
}

func TestIdempotentReplaysResponse(t *testing.T) {
	store := shared.NewLocalIdempotencyStore(time.Hour)
	calls := 0
	handler := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		JSON(w, http.StatusCreated, map[string]int{"invoice_id": calls})
	}))

	send := func(user int64, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, key)
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: user, Role: shared.RoleStaff}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send(2, "sale-1")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get(IdempotencyReplayedHeader))

	replay := send(2, "sale-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "true", replay.Header().Get(IdempotencyReplayedHeader))
	require.JSONEq(t, `{"invoice_id":1}`, replay.Body.String())
	require.Equal(t, 1, calls)

	otherUser := send(3, "sale-1")
	require.Equal(t, http.StatusCreated, otherUser.Code)
	require.Equal(t, 2, calls)

	tooLong := send(2, strings.Repeat("k", maxIdempotencyKey+1))
	require.Equal(t, http.StatusBadRequest, tooLong.Code)
}

func TestIdempotentReleasesOnServerError(t *testing.T) {
	store := shared.NewLocalIdempotencyStore(time.Hour)
	calls := 0
	handler := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			RespondError(w, errors.New("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, want := range []int{http.StatusInternalServerError, http.StatusNoContent, http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodPost, "/api/funds/transfer", nil)
		req.Header.Set(IdempotencyKeyHeader, "t-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code)
	}
	require.Equal(t, 2, calls)
}

func TestIdempotentConflictWhileInFlight(t *testing.T) {
	store := shared.NewLocalIdempotencyStore(time.Hour)
	_, err := store.Begin(context.Background(), "lubepos:idempotency:0:POST:/api/exports/execute:exp-1")
	require.NoError(t, err)

	handler := Idempotent(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/exports/execute", nil)
	req.Header.Set(IdempotencyKeyHeader, "exp-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
