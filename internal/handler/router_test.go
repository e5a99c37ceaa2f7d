package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/davpush/internal/metrics"
	"github.com/hitoshi/davpush/internal/middleware"
	"github.com/hitoshi/davpush/internal/model"
	"github.com/hitoshi/davpush/internal/registration"
)

// mockSessionFinderForRouter はRouter統合テスト用のSessionFinderモック。
type mockSessionFinderForRouter struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinderForRouter) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

// mockHealthChecker は常に成功するHealthCheckerモック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(regService RegistrationServiceInterface, subService SubscriptionServiceInterface, davNext http.Handler) http.Handler {
	sessionFinder := &mockSessionFinderForRouter{
		sessions: map[string]*model.Session{
			"valid-session": {
				ID:        "valid-session",
				UserID:    "user-test-1",
				ExpiresAt: time.Now().Add(1 * time.Hour),
			},
		},
	}

	reg := prometheus.NewRegistry()

	deps := &RouterDeps{
		HealthChecker:       &mockHealthChecker{},
		SessionFinder:       sessionFinder,
		CORSAllowedOrigin:   "http://localhost:3000",
		CSRFConfig:          middleware.CSRFConfig{CookieSecure: false},
		RateLimiter:         middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		Metrics:             metrics.NewCollector(reg),
		Gatherer:            reg,
		RegistrationService: regService,
		SubscriptionService: subService,
		DAVNext:             davNext,
	}

	return NewRouter(deps)
}

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	return req
}

func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-token"})
	req.Header.Set("X-CSRF-Token", "test-token")
	return req
}

// TestNewRouter_RegisterFlow_Success はセッション付き登録リクエストの一連の流れを検証する。
func TestNewRouter_RegisterFlow_Success(t *testing.T) {
	expiresAt := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Second)
	regService := &mockRegistrationService{
		registerFn: func(ctx context.Context, userID, collectionName string, children []*etree.Element) *registration.Outcome {
			if userID != "user-test-1" {
				t.Errorf("userID = %q, want user-test-1", userID)
			}
			return &registration.Outcome{
				Status:          http.StatusCreated,
				SubscriptionID:  "sub-1",
				UnsubscribeLink: "https://dav.example.com/subscriptions/sub-1",
				ExpiresAt:       expiresAt,
				Created:         true,
				TransportType:   "web-push",
			}
		},
	}
	router := createTestRouter(regService, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/dav/calendars/work", strings.NewReader(registerBodyXML))
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withSession(req))

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.Header.Get("Location") == "" {
		t.Error("Locationヘッダーが設定されていない")
	}
	if resp.Header.Get("Expires") != expiresAt.Format(http.TimeFormat) {
		t.Errorf("Expires = %q", resp.Header.Get("Expires"))
	}
}

// TestNewRouter_RegisterFlow_NoSession_Returns401 はDAVエンドポイントが認証必須であることを検証する。
func TestNewRouter_RegisterFlow_NoSession_Returns401(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/dav/calendars/work", strings.NewReader(registerBodyXML))
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestNewRouter_RegisterFlow_NoCSRFRequired はDAVエンドポイントがCSRF検証の対象外であることを検証する。
// DAVクライアントはCSRFトークンを扱えないため、POSTでもトークンなしで通る必要がある。
func TestNewRouter_RegisterFlow_NoCSRFRequired(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/dav/calendars/work", strings.NewReader(registerBodyXML))
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withSession(req))

	if w.Result().StatusCode == http.StatusForbidden {
		t.Error("DAVエンドポイントでCSRF検証が行われている")
	}
}

// TestNewRouter_RegisterFlow_PassThroughToDAVNext は登録ドキュメント以外の
// コレクションPOSTが後続ハンドラーへ委譲されることを検証する。
func TestNewRouter_RegisterFlow_PassThroughToDAVNext(t *testing.T) {
	next := &markerHandler{}
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, next)

	body := `<D:propfind xmlns:D="DAV:"><D:prop/></D:propfind>`
	req := httptest.NewRequest(http.MethodPost, "/dav/calendars/work", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withSession(req))

	if !next.called {
		t.Fatal("後続ハンドラーに委譲されていない")
	}
	if w.Result().StatusCode != http.StatusMultiStatus {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusMultiStatus)
	}
}

// TestNewRouter_SubscriptionsAPI_RequiresCSRF はJSON APIの状態変更リクエストに
// CSRFトークンが必須であることを検証する。
func TestNewRouter_SubscriptionsAPI_RequiresCSRF(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/sub-1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withSession(req))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("DELETE (no CSRF) status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

// TestNewRouter_SubscriptionsAPI_DeleteFlow はセッション+CSRF付き削除の流れを検証する。
func TestNewRouter_SubscriptionsAPI_DeleteFlow(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/sub-1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withCSRF(withSession(req)))

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
}

// TestNewRouter_SubscriptionsAPI_ListFlow はセッション付き一覧取得の流れを検証する。
func TestNewRouter_SubscriptionsAPI_ListFlow(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, withSession(req))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestNewRouter_CSRFTokenEndpoint_NoAuthRequired はCSRFトークン取得が認証不要であることを検証する。
func TestNewRouter_CSRFTokenEndpoint_NoAuthRequired(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /api/csrf-token status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestNewRouter_HealthEndpoint は/healthがDB疎通を反映することを検証する。
func TestNewRouter_HealthEndpoint(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

// TestNewRouter_MetricsEndpoint は/metricsがPrometheus形式で応答することを検証する。
func TestNewRouter_MetricsEndpoint(t *testing.T) {
	router := createTestRouter(&mockRegistrationService{}, &mockSubscriptionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestNewHealthHandler_Unavailable はDB疎通失敗時に503が返ることを検証する。
func TestNewHealthHandler_Unavailable(t *testing.T) {
	h := newHealthHandler(&mockHealthChecker{err: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "unavailable") {
		t.Errorf("body = %q", body)
	}
}
