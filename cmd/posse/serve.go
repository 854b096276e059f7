package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/posse-io/posse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// createServeCommand creates the serve subcommand running a deputy
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a deputy on this host",
		Long: `Run the deputy HTTP server that owns the processes on this host.
The server handles process spawn, stop, restart and output capture, and
keeps serving until SIGINT or SIGTERM.

Examples:
  posse serve --listen :4334
  posse serve --listen :4334 --hostname worker-1 --log-file /var/log/posse.log
  posse serve --restart-interval 10s --max-retries 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags, serveFlags)
		},
	}

	cmd.Flags().StringVar(&serveFlags.Listen, "listen", ":4334", "listen address for the deputy HTTP server")
	cmd.Flags().StringVar(&serveFlags.Hostname, "hostname", "", "hostname reported for owned processes (default os hostname)")
	cmd.Flags().StringVar(&serveFlags.LogFile, "log-file", "", "rotating log file path (default stderr)")
	cmd.Flags().DurationVar(&serveFlags.RestartInterval, "restart-interval", 5*time.Second, "delay before restarting a died process")
	cmd.Flags().IntVar(&serveFlags.MaxRetries, "max-retries", 0, "restart attempts per process (0 = unlimited)")
	cmd.Flags().BoolVar(&serveFlags.Metrics, "metrics", true, "expose Prometheus metrics on /metrics")
	cmd.Flags().StringVar(&serveFlags.TLSCert, "tls-cert", "", "server certificate (PEM); enables TLS with --tls-key")
	cmd.Flags().StringVar(&serveFlags.TLSKey, "tls-key", "", "server key (PEM)")
	cmd.Flags().StringVar(&serveFlags.TLSClientCA, "tls-client-ca", "", "require client certificates signed by this CA")

	return cmd
}

func runServe(globalFlags *GlobalFlags, serveFlags *ServeFlags) error {
	logger := posse.NewLogger(posse.LogConfig{
		Level: globalFlags.LogLevel,
		File:  serveFlags.LogFile,
	})

	if serveFlags.Metrics {
		if err := posse.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	sup := posse.NewSupervisor(posse.SupervisorConfig{
		Hostname: serveFlags.Hostname,
		Restart: posse.RestartPolicy{
			Interval:   serveFlags.RestartInterval,
			MaxRetries: serveFlags.MaxRetries,
		},
		Logger: logger,
	})

	tlsOpts := posse.TLSServerOptions{
		CertFile:     serveFlags.TLSCert,
		KeyFile:      serveFlags.TLSKey,
		ClientCAFile: serveFlags.TLSClientCA,
	}
	var server *http.Server
	if tlsOpts.Enabled() {
		var err error
		server, err = posse.NewDeputyServerTLS(serveFlags.Listen, sup, logger, tlsOpts)
		if err != nil {
			return err
		}
	} else {
		server = posse.NewDeputyServer(serveFlags.Listen, sup, logger)
	}
	logger.Info("deputy serving", "listen", serveFlags.Listen, "tls", tlsOpts.Enabled())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	sup.Shutdown()
	return nil
}
