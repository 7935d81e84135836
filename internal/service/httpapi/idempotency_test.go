package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/ordering"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/memory"
)

func TestIdempotency_ReplaysSuccessfulCreate(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{IdempotencyKeyHeader: "key-1"}
	body := orderBody("alice", "latte", 1)

	first, firstBody := f.do(t, http.MethodPost, "/api/v1/orders", body, headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	require.Empty(t, first.Header.Get(ReplayedHeader))

	second, secondBody := f.do(t, http.MethodPost, "/api/v1/orders", body, headers)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	require.Equal(t, "true", second.Header.Get(ReplayedHeader))
	require.JSONEq(t, string(firstBody), string(secondBody))

	// Повтор не занял второй слот в очереди.
	third := f.createOrder(t, "bob", 1)
	require.Equal(t, 2, third.QueuePosition)

	record, err := f.idem.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, domain.RequestStateAccepted, record.State)
	require.Equal(t, http.StatusCreated, record.Response.Status)

	var order orderResponse
	require.NoError(t, json.Unmarshal(firstBody, &order))
	require.Equal(t, order.OrderID, record.Response.OrderID)
}

func TestIdempotency_DifferentPayloadConflicts(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{IdempotencyKeyHeader: "key-2"}

	resp, _ := f.do(t, http.MethodPost, "/api/v1/orders", orderBody("alice", "latte", 1), headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/v1/orders", orderBody("alice", "latte", 2), headers)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, codeIdempotencyReused, decodeError(t, body).Code)
}

func TestIdempotency_CachesBusinessFailure(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{IdempotencyKeyHeader: "key-3"}
	body := orderBody("alice", "mocha", 1)

	resp, firstBody := f.do(t, http.MethodPost, "/api/v1/orders", body, headers)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, secondBody := f.do(t, http.MethodPost, "/api/v1/orders", body, headers)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get(ReplayedHeader))
	require.JSONEq(t, string(firstBody), string(secondBody))

	record, err := f.idem.Get(context.Background(), "key-3")
	require.NoError(t, err)
	require.Equal(t, domain.RequestStateRejected, record.State)
	require.Equal(t, http.StatusUnprocessableEntity, record.Response.Status)
	require.Empty(t, record.Response.OrderID)
}

type flakyService struct {
	OrderService
	calls int
}

func (s *flakyService) CreateOrder(context.Context, ordering.CreateOrderRequest) (domain.Order, error) {
	s.calls++
	if s.calls == 1 {
		return domain.Order{}, errors.New("database is locked")
	}
	return domain.Order{ID: "order-2", Status: domain.OrderStatusPending, QueuePosition: 1}, nil
}

func TestIdempotency_InternalFailureReleasesKey(t *testing.T) {
	svc := &flakyService{}
	idem := memory.NewIdempotencyRepository()
	server := httptest.NewServer(NewHandler(svc, WithIdempotency(idem, time.Hour)).Routes())
	defer server.Close()

	post := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/orders", strings.NewReader(orderBody("alice", "latte", 1)))
		require.NoError(t, err)
		req.Header.Set(IdempotencyKeyHeader, "key-5")
		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	require.Equal(t, http.StatusInternalServerError, post().StatusCode)
	_, err := idem.Get(context.Background(), "key-5")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	resp := post()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Empty(t, resp.Header.Get(ReplayedHeader))
	require.Equal(t, 2, svc.calls)
}

func TestIdempotency_InFlightDuplicate(t *testing.T) {
	f := newAPIFixture(t)
	body := orderBody("alice", "latte", 1)

	hash := requestHash(http.MethodPost, "/api/v1/orders", []byte(body))
	_, err := f.idem.Reserve(context.Background(), "key-4", hash, time.Now(), time.Hour)
	require.NoError(t, err)

	resp, respBody := f.do(t, http.MethodPost, "/api/v1/orders", body, map[string]string{IdempotencyKeyHeader: "key-4"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, codeIdempotencyBusy, decodeError(t, respBody).Code)
}

func TestIdempotency_WithoutHeaderCreatesEachTime(t *testing.T) {
	f := newAPIFixture(t)
	body := orderBody("alice", "latte", 1)

	first, _ := f.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	second, _ := f.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	require.Equal(t, http.StatusCreated, second.StatusCode)
}

func TestRequestHash_DependsOnPathAndBody(t *testing.T) {
	base := requestHash(http.MethodPost, "/api/v1/orders", []byte(`{"a":1}`))
	require.Equal(t, base, requestHash(http.MethodPost, "/api/v1/orders", []byte(`{"a":1}`)))
	require.NotEqual(t, base, requestHash(http.MethodPost, "/api/v1/orders", []byte(`{"a":2}`)))
	require.NotEqual(t, base, requestHash(http.MethodPut, "/api/v1/orders", []byte(`{"a":1}`)))
}
