package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"triad/api/internal/app"
	"triad/api/internal/avatar"
	"triad/api/internal/email"
	"triad/api/internal/logging"
	"triad/api/internal/session"
	"triad/api/internal/store"
)

// serveCmd migrates the database and serves HTTP until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	opts := app.Options{
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		opts.Sessions = redisStore
		logging.Info().Msg("using Redis for refresh token storage")
	} else {
		logging.Info().Msg("using PostgreSQL for refresh token storage")
	}

	if strings.TrimSpace(cfg.AvatarEndpoint) != "" {
		avatars, err := avatar.NewStore(ctx, avatar.Config{
			Endpoint:  cfg.AvatarEndpoint,
			AccessKey: cfg.AvatarAccessKey,
			SecretKey: cfg.AvatarSecretKey,
			Bucket:    cfg.AvatarBucket,
			UseSSL:    cfg.AvatarUseSSL,
			PublicURL: cfg.AvatarPublicURL,
		})
		if err != nil {
			// Uploads answer 503 until storage is reachable on a later start.
			logging.Warn().Err(err).Msg("avatar storage unavailable")
		} else {
			opts.Avatars = avatars
		}
	}

	service := app.New(cfg, dataStore, opts)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Addr).Str("timezone", cfg.Location().String()).Msg("Triad API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
