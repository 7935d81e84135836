package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// errorResponse — тело любого ответа с ошибкой.
type errorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Status    int       `json:"status"`
	Path      string    `json:"path"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	codeInternal          = "INTERNAL"
	codeNotFound          = "NOT_FOUND"
	codeIdempotencyReused = "IDEMPOTENCY_KEY_REUSED"
	codeIdempotencyBusy   = "IDEMPOTENCY_IN_PROGRESS"
)

// statusForKind сопоставляет тип бизнес-ошибки HTTP-статусу.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindCustomerNotFound, domain.KindShopNotFound, domain.KindMenuItemNotFound, domain.KindOrderNotFound:
		return http.StatusNotFound
	case domain.KindQueueFull:
		return http.StatusServiceUnavailable
	case domain.KindValidation, domain.KindInvalidQuantity:
		return http.StatusBadRequest
	case domain.KindMenuItemUnavailable:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidStateTransition, domain.KindCannotCancelCompletedOrder:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func titleForKind(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindCustomerNotFound:
		return "Customer Not Found"
	case domain.KindShopNotFound:
		return "Shop Not Found"
	case domain.KindMenuItemNotFound:
		return "Menu Item Not Found"
	case domain.KindOrderNotFound:
		return "Order Not Found"
	case domain.KindQueueFull:
		return "Queue Full"
	case domain.KindValidation:
		return "Validation Failed"
	case domain.KindInvalidQuantity:
		return "Invalid Quantity"
	case domain.KindMenuItemUnavailable:
		return "Menu Item Unavailable"
	case domain.KindInvalidStateTransition:
		return "Invalid State Transition"
	case domain.KindCannotCancelCompletedOrder:
		return "Cannot Cancel Order"
	default:
		return "Internal Server Error"
	}
}

// errorFor строит ответ для ошибки сервиса. Внутренние ошибки наружу не раскрываются.
func errorFor(r *http.Request, err error, now time.Time) errorResponse {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	resp := errorResponse{
		Error:     titleForKind(kind),
		Code:      string(kind),
		Message:   err.Error(),
		Status:    status,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: now.UTC(),
	}
	if kind == "" {
		resp.Code = codeInternal
		resp.Message = "An unexpected error occurred"
	}
	return resp
}

func newErrorResponse(r *http.Request, status int, code, title, message string, now time.Time) errorResponse {
	return errorResponse{
		Error:     title,
		Code:      code,
		Message:   message,
		Status:    status,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: now.UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
