package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/davpush/internal/davxml"
	"github.com/hitoshi/davpush/internal/metrics"
	"github.com/hitoshi/davpush/internal/middleware"
	"github.com/hitoshi/davpush/internal/registration"
)

// RegistrationServiceInterface は登録ハンドラーが必要とするサービスインターフェース。
type RegistrationServiceInterface interface {
	// Register は登録ドキュメントを処理し、構造化された結果を返す。
	Register(ctx context.Context, userID, collectionName string, children []*etree.Element) *registration.Outcome
}

// RegisterHandler はコレクションへのPOSTを受け、プッシュ購読登録ドキュメントを処理する。
// 登録ドキュメント以外のリクエスト（Content-TypeがXMLでない、ルート要素が違う等）は
// レスポンスを一切書かずにnextへ委譲する。同じパスで他のDAV操作が動く前提のため。
type RegisterHandler struct {
	service RegistrationServiceInterface
	metrics metrics.MetricsCollector
	next    http.Handler
	logger  *slog.Logger
}

// NewRegisterHandler はRegisterHandlerを生成する。
// nextがnilの場合、委譲対象のリクエストには404を返す。
func NewRegisterHandler(service RegistrationServiceInterface, collector metrics.MetricsCollector, next http.Handler, logger *slog.Logger) *RegisterHandler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return &RegisterHandler{
		service: service,
		metrics: collector,
		next:    next,
		logger:  logger,
	}
}

// Register は購読登録リクエストを処理する。
// POST /dav/{collection...}
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !isXMLContentType(r.Header.Get("Content-Type")) {
		h.passThrough(w, r)
		return
	}

	// 委譲時にボディを再生できるよう、先に全体を読む
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read request body", slog.String("error", err.Error()))
		writeRegisterError(w, &registration.Outcome{
			Status: http.StatusBadRequest,
			Errors: []string{"failed to read request body"},
		})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		// XMLとして解釈できないボディは登録ドキュメントではない
		h.passThrough(w, r)
		return
	}

	root := doc.Root()
	if !davxml.IsPushElement(root, davxml.RootRegister) {
		h.passThrough(w, r)
		return
	}

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	collectionName := chi.URLParam(r, "*")

	start := time.Now()
	outcome := h.service.Register(r.Context(), userID, collectionName, root.ChildElements())
	h.metrics.RecordRegistrationLatency(time.Since(start))

	if outcome.Failed() {
		h.metrics.RecordRegistrationFailure(outcome.TransportType, failureReason(outcome))
		writeRegisterError(w, outcome)
		return
	}

	h.metrics.RecordRegistration(outcome.TransportType, outcome.Created)
	writeRegisterSuccess(w, outcome)
}

// passThrough はリクエストを後続ハンドラーに委譲する。
func (h *RegisterHandler) passThrough(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordPassThrough()
	h.next.ServeHTTP(w, r)
}

// isXMLContentType はContent-TypeがXMLボディを示すかを判定する。
func isXMLContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/xml" || mediaType == "application/xml"
}

// failureReason は失敗メトリクスのラベル値を返す。
// エラー文字列そのものはカーディナリティが高すぎるため使わない。
func failureReason(outcome *registration.Outcome) string {
	if outcome.TransportType == "" {
		return "parse"
	}
	return "registration"
}

// writeRegisterSuccess は登録成功レスポンスを書き込む。
// Locationヘッダーに購読解除URL、Expiresヘッダーに有効期限を載せ、
// ボディにはトランスポートの不透明なレスポンス要素をルートで包んで返す。
func writeRegisterSuccess(w http.ResponseWriter, outcome *registration.Outcome) {
	doc, root := davxml.NewDocument(davxml.RootRegister)
	if outcome.Response != nil {
		root.AddChild(outcome.Response.Copy())
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Location", outcome.UnsubscribeLink)
	w.Header().Set("Expires", outcome.ExpiresAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(outcome.Status)
	doc.WriteTo(w)
}

// writeRegisterError は登録失敗レスポンスを書き込む。
// エラー文字列ごとにmessage子要素を1つずつ持つerrorルートを返す。
func writeRegisterError(w http.ResponseWriter, outcome *registration.Outcome) {
	doc, root := davxml.NewDocument(davxml.RootError)
	for _, msg := range outcome.Errors {
		el := davxml.NewElement("message")
		el.SetText(msg)
		root.AddChild(el)
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(outcome.Status)
	doc.WriteTo(w)
}
