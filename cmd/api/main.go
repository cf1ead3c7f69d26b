package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quoteflow/api/internal/app"
	"quoteflow/api/internal/authpw"
	"quoteflow/api/internal/blob"
	"quoteflow/api/internal/config"
	"quoteflow/api/internal/email"
	"quoteflow/api/internal/render"
	"quoteflow/api/internal/search"
	"quoteflow/api/internal/session"
	"quoteflow/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Using MinIO bucket %q for uploads", cfg.MinioBucket)
		blobs = minioStore
	} else {
		localStore, err := blob.NewLocalStore(cfg.UploadsDir)
		if err != nil {
			log.Fatalf("uploads dir failed: %v", err)
		}
		log.Printf("Using local directory %q for uploads", cfg.UploadsDir)
		blobs = localStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewSQLSearch(db))
	go searchService.ReindexAll(ctx)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if mail.IsConfigured() {
		log.Printf("Email notifications enabled via %s", cfg.SMTPHost)
	} else {
		log.Printf("Email not configured; verification tokens are returned in API responses")
	}

	service := app.New(cfg, dataStore, sessions, authpw.NewService(dataStore),
		blobs, render.NewRenderer(), mail, searchService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("QuoteFlow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
