package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"crm-backup/internal/api"
	apperrors "crm-backup/internal/errors"
)

// serveCmd runs the admin HTTP endpoints
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the backup admin HTTP API",
	Long: `Serve the admin endpoints:

  POST /api/admin/backups           download a new backup artifact
  POST /api/admin/backups/restore   restore the artifact in the request body
  GET  /healthz                     liveness and key status
  GET  /metrics                     prometheus metrics

Admin endpoints require a bearer token from api.tokens with the admin role.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe starts the HTTP server and stops it on SIGINT or SIGTERM
func runServe(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	svc, err := env.backupService(ctx, connectNow)
	if err != nil {
		return err
	}
	if !svc.KeyConfigured() {
		env.logger.Warnf("%s is not set, backup and restore requests will be refused", env.cfg.Backup.EncryptionKeyEnv)
	}
	if drift, err := env.schemaDrift(ctx); err != nil {
		env.logger.Warnf("Could not check the live schema: %v", err)
	} else if !drift.IsEmpty() {
		env.logger.WithField("drift", drift.String()).Warn("Live database does not match the governed tables, restores will fail")
	}
	if version, err := env.dbSvc.GetVersion(ctx, env.db); err == nil {
		env.logger.WithField("version", version).Info("Connected to database server")
	}
	env.checkArtifactStore(ctx)
	if len(env.cfg.API.Tokens) == 0 {
		env.logger.Warn("No API tokens configured, admin endpoints will reject every request")
	}

	router := api.NewRouter(svc, api.NewStaticTokenAuthenticator(env.cfg.API.Tokens), api.Options{
		MaxRestoreBytes: env.cfg.API.MaxRestoreBytes,
		Gatherer:        env.registry,
		Logger:          env.logger,
	})

	server := &http.Server{
		Addr:              env.cfg.API.ListenAddr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       env.cfg.API.ReadTimeout,
		WriteTimeout:      env.cfg.API.WriteTimeout,
	}

	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		env.logger.Info("Shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), env.cfg.API.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	})
	shutdown.Start()
	defer shutdown.Stop()

	env.logger.WithField("addr", server.Addr).Info("HTTP server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	<-shutdown.Done()
	return nil
}
