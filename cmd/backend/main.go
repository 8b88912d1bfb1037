package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"ephemeral-drop/internal/db"
	"ephemeral-drop/internal/server"
)

func main() {
	cfg, err := server.LoadConfig(os.Args[1:])
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "invalid_config", err)
		os.Exit(1)
	}
	server.WarnOnOptionalMissingConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := openDeps(ctx, cfg)
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "dependency_failed", err)
		os.Exit(1)
	}
	defer closeDeps()

	srv, err := server.New(cfg, deps)
	if err != nil {
		log.Printf("service=backend msg=%q dir=%s err=%v", "sessions_root_failed", cfg.SessionsDir, err)
		os.Exit(1)
	}
	srv.Run(ctx)

	// Serve in the background so the main goroutine can wait for signals.
	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=backend msg=%q addr=%s version=%s sessions=%s",
			"starting", cfg.Addr, cfg.Version, cfg.SessionsDir)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Printf("service=backend msg=%q", "shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("service=backend msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=backend msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=backend msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

// openDeps connects the optional audit database and object-storage mirror.
// A configured service that cannot be reached is a startup error.
func openDeps(ctx context.Context, cfg server.Config) (server.Deps, func(), error) {
	var deps server.Deps
	closeAll := func() {
		if deps.DB != nil {
			_ = deps.DB.Close()
		}
	}

	if cfg.DatabaseURL != "" {
		conn, err := server.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return deps, closeAll, err
		}
		deps.DB = conn

		log.Printf("service=backend msg=%q", "running_migrations")
		if err := db.RunMigrations(conn); err != nil {
			closeAll()
			return server.Deps{}, func() {}, err
		}
		version, dirty, err := db.SchemaVersion(conn)
		if err != nil {
			closeAll()
			return server.Deps{}, func() {}, err
		}
		log.Printf("service=backend msg=%q version=%d dirty=%t", "migrations_complete", version, dirty)
	}

	if cfg.MirrorEnabled() {
		mc, err := server.NewMinioClient(ctx, cfg)
		if err != nil {
			closeAll()
			return server.Deps{}, func() {}, err
		}
		deps.Minio = mc
		log.Printf("service=backend msg=%q endpoint=%s bucket=%s", "mirror_enabled", cfg.S3Endpoint, cfg.Bucket)
	}

	return deps, closeAll, nil
}
