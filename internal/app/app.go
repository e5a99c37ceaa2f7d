package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/davpush/internal/config"
	"github.com/hitoshi/davpush/internal/database"
	"github.com/hitoshi/davpush/internal/handler"
	"github.com/hitoshi/davpush/internal/logger"
	"github.com/hitoshi/davpush/internal/metrics"
	"github.com/hitoshi/davpush/internal/middleware"
	"github.com/hitoshi/davpush/internal/registration"
	"github.com/hitoshi/davpush/internal/repository"
	"github.com/hitoshi/davpush/internal/security"
	"github.com/hitoshi/davpush/internal/transport"
	"github.com/hitoshi/davpush/internal/transport/webpush"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	resourceRepo := repository.NewPostgresPushResourceRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()

	// 4. VAPID鍵の用意
	// 未設定の場合は起動時に生成する。再起動で鍵が変わると既存購読の通知が
	// 届かなくなるため、本番では環境変数での固定を前提とする。
	vapidPublic := cfg.VAPIDPublicKey
	vapidPrivate := cfg.VAPIDPrivateKey
	if vapidPublic == "" || vapidPrivate == "" {
		vapidPrivate, vapidPublic, err = webpush.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		slog.Warn("VAPID keys not configured, generated ephemeral keys",
			slog.String("public_key", vapidPublic),
		)
	}

	// 5. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 6. トランスポートと登録サービスの初期化
	pushClient := ssrfGuard.NewSafeClient(cfg.PushResourceTimeout, 1<<20)
	webpushTransport := webpush.New(resourceRepo, ssrfGuard, pushClient, webpush.Config{
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		VAPIDSubject:    cfg.VAPIDSubject,
	}, slog.Default())

	registry := transport.NewRegistry(map[string]transport.Transport{
		webpush.TransportType: webpushTransport,
	})

	regService := registration.NewService(registry, subRepo, cfg.BaseURL, slog.Default())

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		Logger:      slog.Default(),

		Metrics:  collector,
		Gatherer: promRegistry,

		RegistrationService: regService,
		SubscriptionService: regService,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// rateLimiterConfig はConfigのreq/min値をレートリミッター設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitRegister > 0 {
		rl.RegisterRate = rate.Limit(float64(cfg.RateLimitRegister) / 60.0)
		rl.RegisterBurst = cfg.RateLimitRegister
	}
	return rl
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
