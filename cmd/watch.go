package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/provmap/internal/log"
	"github.com/zjrosen/provmap/internal/watcher"
)

var (
	watchAll         bool
	watchDebounce    time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the provider map again whenever the database changes",
	Long: `Print the provider map, then reload and print it again every time another
provmap invocation changes the database. Stops on interrupt.

With --metrics-addr the Prometheus metrics of this process, including the
binding counts after each reload, are served at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchAll, "all", "a", false, "include details and authority mappings")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultConfig("").DebounceDur,
		"wait this long after the last write before reloading")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	w, err := watcher.New(watcher.Config{DBPath: cfg.StorePath(), DebounceDur: watchDebounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	if err != nil {
		return err
	}

	if watchMetricsAddr != "" {
		stop, err := serveMetrics(watchMetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := mgr.Dump(ctx, out, watchAll); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-onChange:
			if err := mgr.Restore(ctx); err != nil {
				return err
			}
			log.Debug(log.CatCLI, "reloaded provider map", "path", cfg.StorePath())
			if _, err := fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly)); err != nil {
				return err
			}
			if err := mgr.Dump(ctx, out, watchAll); err != nil {
				return err
			}
		}
	}
}

// serveMetrics starts the metrics endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatCLI, "metrics server failed", err, "addr", addr)
		}
	}()
	log.Info(log.CatCLI, "serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
