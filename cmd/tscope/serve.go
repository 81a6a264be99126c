package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teamscope/teamscope/internal/logging"
	"github.com/teamscope/teamscope/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TeamScope HTTP API",
	Long: `Starts the HTTP server exposing the query and ingestion APIs:

  POST /api/query            answer a natural-language question
  POST /api/ingest/{source}  ingest a github or slack payload
  GET  /api/status           index coverage and recent batches
  GET  /healthz              liveness check`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The server is the long-running path: lifecycle events go to a
	// rotating file log as well as stdout.
	if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
		return err
	}
	defer logging.Close()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	logging.Info("server starting", "addr", addr, "version", Version)

	srv := server.New(addr, server.Deps{
		Backend:     a.backend,
		Retriever:   a.retriever,
		Synthesizer: a.synthesizer,
		Ingester:    a.ingester,
		Indexer:     a.indexer,
		Answers:     a.answers,
		Ledger:      a.ledger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	// Drain the embedding retry queue in the background.
	stopDrain := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := a.indexer.DrainQueue(ctx, 256); err != nil {
					logrus.WithError(err).Warn("Embedding queue drain failed")
				} else if n > 0 {
					logrus.WithField("re_embedded", n).Info("Drained embedding retry queue")
				}
			case <-stopDrain:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stopDrain)
		return err
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		logging.Info("server stopping", "signal", sig.String())
		close(stopDrain)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
