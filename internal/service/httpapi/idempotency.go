package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности запроса.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется на ответах, отданных из кеша.
	ReplayedHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
)

// withIdempotency кеширует результат fn по заголовку Idempotency-Key.
// Без заголовка или без репозитория запрос обрабатывается как обычно.
func (h *Handler) withIdempotency(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if h.idem == nil || key == "" {
			h.serve(fn)(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			status, resp := h.fail(r, domain.Errorf(domain.KindValidation, "failed to read request body: %v", err))
			writeJSON(w, status, resp)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		logger := h.logger.WithField("idempotency_key", key)
		hash := requestHash(r.Method, r.URL.Path, body)
		record, err := h.idem.Reserve(r.Context(), key, hash, h.now(), h.idemTTL)
		if err != nil {
			h.replay(w, r, logger, record, err)
			return
		}

		status, resp := fn(r)
		data, err := json.Marshal(resp)
		if err != nil {
			logger.WithError(err).Error("failed to encode response")
			status, resp = h.fail(r, err)
			data, _ = json.Marshal(resp)
		}
		writeRaw(w, status, data)

		// Ответ уже отправлен: клиент мог отключиться, но результат всё равно фиксируется.
		ctx := context.WithoutCancel(r.Context())
		switch outcome := resp.(type) {
		case orderResponse:
			err = h.idem.Finish(ctx, key, domain.RequestStateAccepted, domain.StoredResponse{Status: status, Body: data, OrderID: outcome.OrderID})
		case errorResponse:
			if outcome.Code == codeInternal {
				// Сбой инфраструктуры: ключ освобождается, клиент может повторить.
				err = h.idem.Release(ctx, key)
				break
			}
			err = h.idem.Finish(ctx, key, domain.RequestStateRejected, domain.StoredResponse{Status: status, Body: data})
		default:
			err = h.idem.Release(ctx, key)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, reserveErr error) {
	now := h.now()
	switch {
	case errors.Is(reserveErr, domain.ErrIdempotencyKeyReused):
		writeJSON(w, http.StatusConflict, newErrorResponse(r, http.StatusConflict, codeIdempotencyReused,
			"Idempotency Key Reused", "idempotency key is already used with a different request payload", now))
	case errors.Is(reserveErr, domain.ErrIdempotencyKeyInUse):
		switch {
		case record.Replayable():
			h.metrics.RecordReplay()
			w.Header().Set(ReplayedHeader, "true")
			writeRaw(w, record.Response.Status, record.Response.Body)
		case record.State == domain.RequestStateInFlight:
			writeJSON(w, http.StatusConflict, newErrorResponse(r, http.StatusConflict, codeIdempotencyBusy,
				"Request In Progress", "request with the same idempotency key is already processing", now))
		default:
			logger.WithField("state", record.State).Error("idempotency record has no stored response")
			writeJSON(w, http.StatusInternalServerError, newErrorResponse(r, http.StatusInternalServerError, codeInternal,
				"Internal Server Error", "idempotency cache is empty", now))
		}
	case errors.Is(reserveErr, domain.ErrIdempotencyKeyRequired), errors.Is(reserveErr, domain.ErrIdempotencyRequestHashRequired):
		status, resp := h.fail(r, domain.Errorf(domain.KindValidation, "%v", reserveErr))
		writeJSON(w, status, resp)
	default:
		logger.WithError(reserveErr).Error("failed to reserve idempotency key")
		status, resp := h.fail(r, reserveErr)
		writeJSON(w, status, resp)
	}
}

// requestHash — sha256 от метода, пути и тела запроса.
func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
