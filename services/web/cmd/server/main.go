package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sokogo/internal/providertoken"
	"sokogo/internal/util"
	"sokogo/pkg/auth"
	"sokogo/pkg/storage"
	"sokogo/pkg/store"
	"sokogo/services/web/internal/apiclient"
	"sokogo/services/web/internal/config"
	"sokogo/services/web/internal/server"
	"sokogo/services/web/internal/upload"
)

const (
	sweepInterval = 5 * time.Minute
	batchMaxIdle  = 30 * time.Minute
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL, 7*24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	httpTimeout, err := config.ParseDuration("httpTimeout", cfg.HTTPTimeout, 15*time.Second)
	if err != nil {
		log.Fatalf("failed to parse http timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	sessions, purge, err := openSessions(cfg, rdb, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session storage: %v", err)
	}
	photos, uploadDir, err := openPhotoStore(cfg)
	if err != nil {
		log.Fatalf("failed to init photo storage: %v", err)
	}
	sealer, err := auth.NewSealer(cfg.SessionSecret)
	if err != nil {
		log.Fatalf("failed to init sealer: %v", err)
	}
	var provider server.ProviderVerifier
	if cfg.GoogleClientID != "" {
		verifier, err := providertoken.NewVerifier(providertoken.Config{
			JWKSURL:  cfg.GoogleJWKSURL,
			Issuers:  cfg.GoogleIssuers,
			ClientID: cfg.GoogleClientID,
		})
		if err != nil {
			log.Fatalf("failed to init provider verifier: %v", err)
		}
		provider = verifier
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	uploads := upload.NewRegistry(upload.NewPreviews(""), upload.Options{
		MaxFiles: cfg.MaxUploadFiles,
		OnSuccess: func(urls []string) {
			logger.Info("photos uploaded", "count", len(urls))
		},
		OnError: func(err error) {
			logger.Warn("photo upload failed", "err", err)
		},
	})

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	httpServer, err := server.New(server.Config{
		Sessions: sessions,
		API: apiclient.Config{
			BaseURL:    cfg.BackendURL,
			UploadURL:  publicURL + "/api/upload",
			HTTPClient: &http.Client{Timeout: httpTimeout},
		},
		Sealer:                     sealer,
		Provider:                   provider,
		Uploads:                    uploads,
		Photos:                     photos,
		UploadDir:                  uploadDir,
		UploadPath:                 uploadPath(cfg.UploadPublicURL),
		Redis:                      rdb,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		SessionCookieName:          cfg.SessionCookieName,
		ProviderCookieName:         cfg.ProviderCookieName,
		CookieSecure:               cfg.CookieSecure,
		SessionTTL:                 sessionTTL,
		CORSOrigins:                cfg.CORSOrigins,
		ImageOrigins:               cfg.ImageOrigins,
		TrustedProxies:             trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go housekeeping(ctx, logger, uploads, purge, sessionTTL)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr, "backend", cfg.BackendURL, "sessions", cfg.SessionBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	uploads.CloseAll()
	slog.Info("server stopped")
}

// openSessions returns the browser storage backend and, for SQL storage, a
// purge func for expired sessions.
func openSessions(cfg config.FileConfig, rdb *redis.Client, ttl time.Duration) (store.Backend, func(time.Time) (int64, error), error) {
	switch cfg.SessionBackend {
	case "memory":
		return store.NewMemoryBackend(), nil, nil
	case "postgres":
		backend, err := store.NewGormBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.PurgeBefore, nil
	default:
		return store.NewRedisBackendWithClient(rdb, "sokogo:web:session", ttl), nil, nil
	}
}

// openPhotoStore returns the photo store and the directory to serve when
// photos live on local disk.
func openPhotoStore(cfg config.FileConfig) (storage.ObjectStore, string, error) {
	if cfg.UploadBackend == "minio" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		return objects, "", nil
	}
	files, err := storage.NewFileStore(cfg.UploadDir, cfg.UploadPublicURL)
	if err != nil {
		return nil, "", err
	}
	return files, files.Root(), nil
}

// uploadPath is the local route for a disk store's public URL. Absolute
// URLs keep their path component.
func uploadPath(publicURL string) string {
	p := publicURL
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	return p
}

func housekeeping(ctx context.Context, logger *slog.Logger, uploads *upload.Registry, purge func(time.Time) (int64, error), ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := uploads.Sweep(batchMaxIdle); n > 0 {
				logger.Info("closed idle upload batches", "count", n)
			}
			if purge != nil {
				n, err := purge(time.Now().Add(-ttl))
				if err != nil {
					logger.Warn("purge expired sessions failed", "err", err)
				} else if n > 0 {
					logger.Info("purged expired sessions", "count", n)
				}
			}
		}
	}
}
