package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const flagEndBlock = "end-block"

// serveCommand runs the block hooks once over the snapshot and then serves
// the module metrics and health report until interrupted.
func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics and the health report for a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, cfg, err := loadWorld(cmd)
			if err != nil {
				return err
			}
			runEndBlock, err := cmd.Flags().GetBool(flagEndBlock)
			if err != nil {
				return err
			}
			if runEndBlock {
				if err := w.endBlock(); err != nil {
					return err
				}
				if err := w.engine(cfg, cfg.Snapshot).Commit(); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              cfg.Metrics.Address,
				Handler:           w.mux(cfg),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			w.keeper.Logger().Info("Serving sybil metrics", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().Bool(flagEndBlock, true, "Run jail expiry and the interval-gated scan before serving")

	return cmd
}

// mux routes the metrics path and /health. Store reads are serialized.
func (w *world) mux(cfg Config) *http.ServeMux {
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, w.keeper.PrometheusHandler(w.ctx.ChainID()))
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		report, err := w.keeper.GetSystemHealthReport(w.ctx)
		mu.Unlock()
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(report)
	})
	return mux
}
