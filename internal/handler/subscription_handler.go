package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/davpush/internal/metrics"
	"github.com/hitoshi/davpush/internal/middleware"
	"github.com/hitoshi/davpush/internal/model"
)

// SubscriptionServiceInterface は購読管理ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// ListSubscriptions はユーザーの購読一覧を返す。
	ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error)
	// Unsubscribe は購読を削除し、削除した購読のトランスポートタイプを返す。
	Unsubscribe(ctx context.Context, userID, subscriptionID string) (string, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	metrics metrics.MetricsCollector
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, collector metrics.MetricsCollector) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		metrics: collector,
	}
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID             string    `json:"id"`
	CollectionName string    `json:"collection_name"`
	TransportType  string    `json:"transport_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListSubscriptions はユーザーの購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		responses = append(responses, toSubscriptionResponse(sub))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// Unsubscribe は購読を解除する。
// DELETE /api/subscriptions/:id
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	subscriptionID := chi.URLParam(r, "id")

	transportType, err := h.service.Unsubscribe(r.Context(), userID, subscriptionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordUnsubscribe(transportType)
	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toSubscriptionResponse はmodel.SubscriptionからAPIレスポンスに変換する。
func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:             sub.ID,
		CollectionName: sub.CollectionName,
		TransportType:  sub.TransportType,
		ExpiresAt:      sub.ExpiresAt,
		CreatedAt:      sub.CreatedAt,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
