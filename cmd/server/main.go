package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hirpha/mini-chat-backend/internal/cache"
	"github.com/hirpha/mini-chat-backend/internal/config"
	"github.com/hirpha/mini-chat-backend/internal/repository"
	"github.com/hirpha/mini-chat-backend/internal/server"
	"github.com/hirpha/mini-chat-backend/internal/service"
	"github.com/hirpha/mini-chat-backend/internal/storage"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "chat-server",
		Short:         "Phone-authenticated chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not run schema migrations on startup")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg)
			if err != nil {
				return err
			}
			if err := repository.Migrate(db); err != nil {
				return err
			}
			log.Printf("migrations applied driver=%s", cfg.DBDriver)
			return nil
		},
	}
}

func runServe(parent context.Context, skipMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize database connection
	db, err := repository.Open(cfg)
	if err != nil {
		return err
	}
	if !skipMigrate {
		if err := repository.Migrate(db); err != nil {
			return err
		}
	}

	// Initialize Redis cache (best-effort)
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache.", err)
		_ = redisCache.Close()
		redisCache = nil
	} else {
		log.Println("Redis cache connected successfully")
		// Presence from a previous process is stale.
		if err := cache.NewUserCache(redisCache).ResetOnline(pingCtx); err != nil {
			log.Printf("WARNING: failed to reset cached presence: %v", err)
		}
	}
	cancel()

	// Initialize S3/MinIO storage (best-effort; feature endpoints return 503 if missing)
	var store storage.ObjectStore
	if s3cfg, err := storage.LoadS3Config(); err != nil {
		log.Printf("WARNING: S3 storage not configured: %v", err)
	} else if !s3cfg.Enabled() {
		log.Println("S3 storage disabled; avatar endpoints will return 503")
	} else if st, err := storage.NewS3Storage(s3cfg); err != nil {
		log.Printf("WARNING: Failed to initialize S3 storage: %v", err)
	} else {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := st.EnsureBucket(bucketCtx, s3cfg.Region); err != nil {
			log.Printf("WARNING: S3 bucket check failed: %v", err)
		}
		cancel()
		store = st
		log.Printf("S3 storage initialized successfully (bucket=%s)", s3cfg.Bucket)
	}

	srv := server.New(server.Deps{
		Config:    cfg,
		DB:        db,
		Redis:     redisCache,
		Store:     store,
		OTPSender: service.LogOTPSender{},
		Logging:   true,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s...", cfg.Port)
		errCh <- srv.App.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	if err := srv.Shutdown(10 * time.Second); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if redisCache != nil {
		_ = redisCache.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
