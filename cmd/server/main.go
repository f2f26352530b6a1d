package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bot-admission-gateway/internal/clientip"
	"bot-admission-gateway/internal/config"
	"bot-admission-gateway/internal/core"
	"bot-admission-gateway/internal/database"
	"bot-admission-gateway/internal/detector"
	"bot-admission-gateway/internal/estimator"
	"bot-admission-gateway/internal/geo"
	"bot-admission-gateway/internal/handler"
	"bot-admission-gateway/internal/ledger"
	"bot-admission-gateway/internal/limiter"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/middleware"
	"bot-admission-gateway/internal/notify"
	"bot-admission-gateway/internal/proxy"
	mongorepo "bot-admission-gateway/internal/repository/mongo"
	sqlrepo "bot-admission-gateway/internal/repository/sql"
	"bot-admission-gateway/internal/router"
	"bot-admission-gateway/internal/service"
	"bot-admission-gateway/internal/tracker"
	"bot-admission-gateway/internal/trafficlog"

	"golang.org/x/crypto/acme/autocert"
)

func main() {
	// 1. Config
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log.Info("starting bot admission gateway", "env", cfg.AppEnv, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// store is whatever backend STORE_BACKEND selected.
type store struct {
	ledger  core.LedgerRepository
	logs    core.LogRepository
	pingers map[string]handler.Pinger
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store, error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		client, err := database.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		ledgerRepo := mongorepo.NewLedgerRepository(client, cfg.MongoDB)
		logRepo := mongorepo.NewLogRepository(client, cfg.MongoDB)
		if err := ledgerRepo.EnsureIndexes(ctx); err != nil {
			log.Warn("could not create ledger indexes", "error", err)
		}
		if err := logRepo.EnsureIndexes(ctx); err != nil {
			log.Warn("could not create log indexes", "error", err)
		}
		log.Info("connected to mongo", "db", cfg.MongoDB)
		return &store{
			ledger: ledgerRepo,
			logs:   logRepo,
			pingers: map[string]handler.Pinger{
				"mongo": func(ctx context.Context) error { return client.Ping(ctx, nil) },
			},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			},
		}, nil

	case config.StoreMySQL:
		db, err := database.ConnectSQL(ctx, cfg.MySQLUser, cfg.MySQLPass, cfg.MySQLHost, cfg.MySQLName)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		if err := sqlrepo.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql schema: %w", err)
		}
		log.Info("connected to mysql", "host", cfg.MySQLHost, "db", cfg.MySQLName)
		return &store{
			ledger:  sqlrepo.NewLedgerRepository(db),
			logs:    sqlrepo.NewLogRepository(db),
			pingers: map[string]handler.Pinger{"mysql": db.PingContext},
			close:   func() { db.Close() },
		}, nil
	}

	return &store{pingers: map[string]handler.Pinger{}, close: func() {}}, nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 2. Estimator
	provider := estimator.NewProvider(estimator.Source{
		Path:           cfg.ModelPath,
		URL:            cfg.ModelURL,
		TrainOnMissing: cfg.ModelTrainOnMissing,
		Train:          estimator.DefaultTrainConfig(),
	}, log.With("component", "estimator"))
	if err := provider.Load(ctx); err != nil {
		log.Warn("starting without a model, rules only", "error", err)
	}

	// 3. Pipeline
	tr := tracker.New(cfg.RateWindow, geo.Locate)
	engine := detector.NewEngine(detector.Thresholds{
		RateLimit:          cfg.RateLimit,
		SpikeCount:         cfg.SpikeCount,
		SpikeSpan:          cfg.SpikeSpan,
		CoordinatedSources: cfg.CoordinatedSources,
		CoordinatedSpan:    cfg.CoordinatedSpan,
	}, tr)
	led := ledger.New()
	logs := trafficlog.New(cfg.LogCapacity)
	gate := service.NewAdmissionGate(tr, engine, provider, led, logs, service.GateConfig{
		MLThreshold:  cfg.MLThreshold,
		BlockOnSpike: cfg.BlockOnSpike,
	}, log.With("component", "gate"))

	// 4. Persistence
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var wg sync.WaitGroup
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer func() {
		stopPersist()
		wg.Wait()
	}()

	if st.ledger != nil || st.logs != nil {
		persister := service.NewPersister(st.ledger, st.logs, cfg.FlushInterval, log.With("component", "persister"))
		if err := persister.Restore(ctx, led); err != nil {
			log.Warn("could not restore ledger, starting empty", "error", err)
		}
		persister.Attach(gate)
		wg.Add(1)
		go func() {
			defer wg.Done()
			persister.Run(persistCtx)
		}()
	}

	if cfg.AlertsEnabled() {
		mailer := &notify.SMTPMailer{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			User:       cfg.SMTPUser,
			Pass:       cfg.SMTPPass,
			SenderName: "Bot Gateway Alerts",
		}
		led.OnEvent(notify.New(mailer, cfg.AlertEmail, cfg.AlertCooldown, log.With("component", "notify")).HandleEvent)
		log.Info("block alerts enabled", "to", cfg.AlertEmail)
	}

	loginAttempts := limiter.New(cfg.LoginAttempts, cfg.LoginWindow)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepLimiter(persistCtx, loginAttempts, cfg.LoginWindow)
	}()

	// 5. Front door
	upstream, err := proxy.NewUpstream(cfg.OriginURL, cfg.StaticDir, log.With("component", "proxy"))
	if err != nil {
		return err
	}
	resolver := clientip.NewResolver(cfg.MockIPHeader, cfg.TrustedProxies, log)
	if cfg.MockIPHeader != "" && cfg.AppEnv != "development" {
		log.Warn("MOCK_IP_HEADER is set, clients can choose their own source id", "header", cfg.MockIPHeader)
	}

	// 6. Handlers & routes
	mux := router.Setup(router.Handlers{
		Auth: handler.NewAuthHandler(handler.AuthConfig{
			User:         cfg.AdminUser,
			PasswordHash: cfg.AdminPasswordHash,
			JWTSecret:    cfg.JWTSecret,
			SecureCookie: cfg.AppEnv == "production",
			Attempts:     loginAttempts,
			ClientID:     resolver.SourceID,
		}),
		Dashboard: handler.NewDashboardHandler(gate),
		Blocklist: handler.NewBlocklistHandler(gate),
		Logs:      handler.NewLogHandler(logs, st.logs, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(provider, st.pingers),
		WAF:       handler.NewWAFHandler(gate, resolver, upstream),
	}, cfg.JWTSecret)

	switch {
	case cfg.JWTSecret == "":
		log.Warn("JWT_SECRET not set, operator commands are unauthenticated")
	case !cfg.AuthEnabled():
		log.Warn("ADMIN_PASSWORD_HASH not set, operator login is disabled")
	}

	// 7. Middleware Chain
	loggedRouter := middleware.RequestLogger(log)(mux)
	finalHandler := middleware.CORS(cfg.AllowedOrigins)(loggedRouter)

	// 8. Start Server
	return serve(ctx, cfg, finalHandler, log)
}

func sweepLimiter(ctx context.Context, l *limiter.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, h http.Handler, log *slog.Logger) error {
	// no WriteTimeout: /api/stream and /api/ws are long-lived
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var challenge *http.Server
	if len(cfg.TLSHosts) > 0 {
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLSHosts...),
			Cache:      autocert.DirCache(cfg.CertCacheDir),
		}
		srv.Addr = ":443"
		srv.TLSConfig = &tls.Config{
			GetCertificate: certManager.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}
		challenge = &http.Server{
			Addr:              ":80",
			Handler:           certManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("ACME challenge server listening", "addr", challenge.Addr)
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("challenge server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if challenge != nil {
		_ = challenge.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}
