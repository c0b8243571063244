package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sugu-Inc/modern-onap-so/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator as a long-lived worker",
	Long: `Starts the workflow worker and the metrics endpoint and blocks until
interrupted. With a durable engine (goworkflows or dbos) this process
picks up and resumes workflows other invocations started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.cfg.Engine.Kind == config.EngineSync {
			rt.log.Warn().Msg("sync engine selected: workflows are not durable and die with this process")
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		srv := &http.Server{Addr: rt.cfg.Metrics.Addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		rt.log.Info().
			Str("engine", rt.cfg.Engine.Kind).
			Str("metrics_addr", rt.cfg.Metrics.Addr).
			Bool("simulate", simulate).
			Msg("orchestrator running")

		select {
		case <-ctx.Done():
			rt.log.Info().Msg("shutting down")
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
