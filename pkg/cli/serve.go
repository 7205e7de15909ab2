package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	httpctrl "github.com/secmon-lab/mnemosyne/pkg/controller/http"
	"github.com/secmon-lab/mnemosyne/pkg/service/embedding"
	"github.com/secmon-lab/mnemosyne/pkg/service/worker"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

func cmdServe() *cli.Command {
	var addr string
	var authSecret string
	var repoCfg config.Repository
	var geminiCfg config.Gemini
	var policyCfg config.Policy
	var sentryCfg config.Sentry
	var notifyCfg config.Notify
	var qdrantCfg config.Qdrant
	var neo4jCfg config.Neo4j
	var archiveCfg config.Archive

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Ops HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("MNEMOSYNE_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "auth-secret",
			Usage:       "HS256 signing secret for ops API bearer tokens (empty trusts the agent header)",
			Sources:     cli.EnvVars("MNEMOSYNE_AUTH_SECRET"),
			Destination: &authSecret,
		},
	}

	// Add shared config flags
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, policyCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)
	flags = append(flags, notifyCfg.Flags()...)
	flags = append(flags, qdrantCfg.Flags()...)
	flags = append(flags, neo4jCfg.Flags()...)
	flags = append(flags, archiveCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the memory store with its workers and ops API",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			flush, err := sentryCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to initialize error reporting")
			}
			defer flush()
			if sentryCfg.Enabled() {
				logger.Info("Sentry error reporting enabled")
			}

			policy, err := policyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load policy configuration")
			}
			if policyCfg.Path() != "" {
				logger.Info("Policy overrides loaded", "path", policyCfg.Path())
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			ucOpts := []usecase.Option{usecase.WithPolicy(policy)}

			index, err := qdrantCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure vector index")
			}
			if index != nil {
				ucOpts = append(ucOpts, usecase.WithVectorIndex(index))
				logger.Info("Qdrant vector index enabled")
			} else {
				logger.Info("No vector index configured, duplicate detection falls back to exact hashes")
			}

			graph, err := neo4jCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure graph store")
			}
			if graph != nil {
				ucOpts = append(ucOpts, usecase.WithGraphStore(graph))
				logger.Info("Neo4j relation graph enabled")
			}

			llmClient, err := geminiCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to configure Gemini client")
			}
			if llmClient != nil {
				embedSvc, err := embedding.New(llmClient)
				if err != nil {
					return goerr.Wrap(err, "failed to initialize embedding service")
				}
				ucOpts = append(ucOpts,
					usecase.WithEmbedder(embedSvc),
					usecase.WithComposer(embedSvc),
				)
				logger.Info("Gemini embedding and merge drafting enabled")
			} else {
				logger.Info("Gemini not configured, records are stored without embeddings")
			}

			notifier, err := notifyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure notifier")
			}
			ucOpts = append(ucOpts, usecase.WithNotifier(notifier))
			if notifyCfg.Enabled() {
				logger.Info("Slack notifications enabled")
			}

			archiver, err := archiveCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to configure archive store")
			}
			if archiver != nil {
				ucOpts = append(ucOpts, usecase.WithArchiver(archiver))
				logger.Info("GCS cold archive enabled")
			}

			uc, err := usecase.New(repo, ucOpts...)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize use cases")
			}

			sweepWorker := worker.NewSweepWorker(uc.Lifecycle, repo.Events(), notifier, policy.SweepInterval, policy.Retention)
			if err := sweepWorker.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start sweep worker")
			}

			dedupWorker := worker.NewDedupWorker(uc.Dedup, uc.Bus(), policy.SweepInterval)
			if err := dedupWorker.Start(ctx); err != nil {
				sweepWorker.Stop()
				return goerr.Wrap(err, "failed to start dedup worker")
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, httpctrl.WithAuthSecret(authSecret)),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting ops HTTP server", "addr", addr, "auth", authSecret != "")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				sweepWorker.Stop()
				dedupWorker.Stop()
				return err
			case sig := <-sigCh:
				logger.Info("Received shutdown signal", "signal", sig)

				// Stop workers first so no sweep runs against a closing store
				dedupWorker.Stop()
				sweepWorker.Stop()

				// Create shutdown context with timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				// Attempt graceful shutdown
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logger.Info("Server shutdown completed")
				return nil
			}
		},
	}
}
