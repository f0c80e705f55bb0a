package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debt-titles/internal/clients"
	"debt-titles/internal/config"
	"debt-titles/internal/metrics"
	"debt-titles/internal/repository"
	"debt-titles/internal/service"
	"debt-titles/internal/transport/auth"
	"debt-titles/internal/transport/rest"
	"debt-titles/internal/transport/websocket"
	"debt-titles/pkg/database/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const anonymousUserID int64 = 1

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	db := mustInitPostgres(ctx, cfg.Postgres)
	defer postgres.Close(db)

	redisClient := mustInitRedis(cfg.Redis)
	defer redisClient.Close()

	storageClient, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	files := mustInitFileStore(ctx, cfg.S3, storageClient)

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	m := metrics.New(prometheus.DefaultRegisterer)

	titleRepo := repository.NewDebtTitleRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db)

	titleSvc := service.NewDebtTitleService(titleRepo, wsClient, m)
	exportSvc := service.NewExportService(titleSvc, redisClient, files, wsClient, m, cfg.ExportPrefix)

	authMiddleware := auth.StaticUserMiddleware(anonymousUserID)
	if cfg.AuthEnabled {
		authMiddleware = auth.TokenMiddleware(tokenRepo)
	} else {
		log.Printf("[AUTH] authentication disabled, every request runs as user %d", anonymousUserID)
	}

	handler := rest.NewHandler(titleSvc, exportSvc, exportSvc)
	router := handler.InitRouterWithAuth(authMiddleware)

	// websocket clients pass ?token= since browsers cannot set headers
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetUserID(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		wsHub.HandleWebSocket(w, r, userID)
	})

	// /files, /health and /metrics stay public; everything else goes through auth
	root := chi.NewRouter()

	root.Get("/files/{file}", func(w http.ResponseWriter, r *http.Request) {
		file := chi.URLParam(r, "file")
		path, err := storageClient.Open(file)
		if err != nil {
			if os.IsNotExist(err) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "failed to access file", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", clients.OriginalName(file)))
		http.ServeFile(w, r, path)
	})

	root.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, checkCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer checkCancel()

		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		healthy := true
		if err := db.PingContext(checkCtx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
		if err := redisClient.Ping(checkCtx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}

		if !healthy {
			rest.Response(w, "unhealthy", checks, 503, "error", http.StatusServiceUnavailable)
			return
		}
		rest.Success(w, "ok", checks)
	})

	root.Handle("/metrics", promhttp.Handler())

	root.Mount("/", router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(root),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	if !cfg.S3.Enabled {
		go cleanupExports(ctx, storageClient, cfg.ExportFileMaxAge)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Shutdown signal received: %v", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown error: %v", err)
		}

		// let running exports write their final status before redis goes away
		exportSvc.Wait()
		cancel()

		log.Println("Shutdown complete")
	}
}

func mustInitPostgres(ctx context.Context, cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Username:     cfg.User,
		DBName:       cfg.DBName,
		SSLMode:      cfg.SSLMode,
		Password:     cfg.Password,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}

	if cfg.AutoMigrate {
		migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
		defer migrateCancel()
		if err := postgres.Migrate(migrateCtx, db); err != nil {
			log.Fatalf("postgres migrate error: %v", err)
		}
	}
	return db
}

func mustInitRedis(cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	return client
}

// mustInitFileStore picks the S3 bucket when enabled, local storage otherwise.
func mustInitFileStore(ctx context.Context, cfg config.S3Config, local *clients.StorageClient) service.FileStore {
	if !cfg.Enabled {
		return local
	}

	s3, err := clients.NewS3Client(ctx, clients.S3Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
		URLTTL:          cfg.URLTTL,
	})
	if err != nil {
		log.Fatalf("s3 init error: %v", err)
	}
	log.Printf("exports stored in s3 bucket %q", cfg.Bucket)
	return s3
}

func cleanupExports(ctx context.Context, storage *clients.StorageClient, maxAge time.Duration) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := storage.CleanupOlderThan(maxAge); err != nil {
				log.Printf("storage cleanup error: %v", err)
			}
		}
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
