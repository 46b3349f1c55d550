package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ktiyab/coheara/internal/backup"
	"github.com/ktiyab/coheara/internal/certs"
	"github.com/ktiyab/coheara/internal/config"
	"github.com/ktiyab/coheara/internal/database"
	"github.com/ktiyab/coheara/internal/logging"
	"github.com/ktiyab/coheara/internal/server"
	"github.com/ktiyab/coheara/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFile)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	backupMgr := backup.NewManager(backup.Config{
		Bucket:        cfg.Backup.Bucket,
		Region:        cfg.Backup.Region,
		AccessKey:     cfg.Backup.AccessKey,
		SecretKey:     cfg.Backup.SecretKey,
		Endpoint:      cfg.Backup.Endpoint,
		Passphrase:    cfg.Backup.Passphrase,
		DBPath:        cfg.DBPath,
		RetentionDays: 30,
	}, db, logger.With("component", "backup"))

	useTLS := cfg.TLSSecret != ""
	var caPEM []byte
	var tlsConfig *tls.Config
	if useTLS {
		ca, err := certs.LoadOrCreate(store.NewTLSStore(db), cfg.TLSSecret)
		if err != nil {
			log.Fatalf("failed to load certificate authority: %v", err)
		}
		leaf, err := ca.IssueLeaf(cfg.TLSHosts)
		if err != nil {
			log.Fatalf("failed to issue server certificate: %v", err)
		}
		caPEM = ca.CertPEM()
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{leaf},
			MinVersion:   tls.VersionTLS12,
		}
	}

	srv := server.New(db, backupMgr, caPEM, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		TLSConfig:    tlsConfig,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backupMgr.Start(ctx)
	go cleanupLoop(ctx, srv, cfg.TombstoneRetentionDays, logger)

	go func() {
		scheme := "http"
		if useTLS {
			scheme = "https"
		}
		fmt.Printf("Coheara hub running at %s://localhost:%s\n", scheme, cfg.Port)
		var err error
		if useTLS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	cancel()
	backupMgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// cleanupLoop periodically expires sessions, tickets and pairing attempts,
// prunes old tombstones, and sweeps the in-memory lockout and rate-limit maps.
func cleanupLoop(ctx context.Context, srv *server.Server, tombstoneRetentionDays int, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	retention := time.Duration(tombstoneRetentionDays) * 24 * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := srv.SessionStore().DeleteExpired(now); err != nil {
				logger.Error("cleanup expired sessions", "error", err)
			}
			if _, err := srv.TicketStore().DeleteExpired(now); err != nil {
				logger.Error("cleanup expired tickets", "error", err)
			}
			if _, err := srv.PairingStore().DeleteExpired(now); err != nil {
				logger.Error("cleanup expired pairing attempts", "error", err)
			}
			if _, err := srv.DeletionStore().Prune(retention); err != nil {
				logger.Error("prune tombstones", "error", err)
			}
			srv.Lockout().Cleanup()
			srv.RateLimiter().Cleanup()
		}
	}
}
