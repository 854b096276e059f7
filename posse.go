// Package posse supervises OS processes across a fleet of hosts: a deputy
// owns the processes on one host, a sheriff routes commands to deputies
// and mirrors fleet-wide state.
package posse

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/posse-io/posse/internal/config"
	"github.com/posse-io/posse/internal/deputy"
	"github.com/posse-io/posse/internal/logger"
	"github.com/posse-io/posse/internal/metrics"
	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/internal/sheriff"
	"github.com/posse-io/posse/internal/supervisor"
	postls "github.com/posse-io/posse/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = record.Record

type Transport = record.Transport

type RestartPolicy = supervisor.RestartPolicy

type SupervisorConfig = supervisor.Config

type Supervisor = supervisor.Supervisor

type SheriffConfig = sheriff.Config

type Sheriff = sheriff.Sheriff

type DeputyHealth = sheriff.DeputyHealth

type HostStats = supervisor.HostStats

type LogConfig = logger.Config

type ConfigFile = cfg.File

type ConfigProcess = cfg.Process

// NewSupervisor creates the per-host process engine.
func NewSupervisor(c SupervisorConfig) *Supervisor { return supervisor.New(c) }

// NewSheriff creates a fleet coordinator.
func NewSheriff(c SheriffConfig) *Sheriff { return sheriff.New(c) }

// NewDeputyServer starts a deputy HTTP server on addr around sup.
func NewDeputyServer(addr string, sup *Supervisor, lg *slog.Logger) *http.Server {
	return deputy.NewServer(addr, deputy.New(sup, lg))
}

type TLSServerOptions = postls.ServerOptions

// NewDeputyServerTLS starts a deputy HTTPS server on addr.
func NewDeputyServerTLS(addr string, sup *Supervisor, lg *slog.Logger, o TLSServerOptions) (*http.Server, error) {
	tc, err := postls.ServerConfig(o)
	if err != nil {
		return nil, err
	}
	return deputy.NewServerTLS(addr, deputy.New(sup, lg), tc), nil
}

// ClientTLSConfig builds the TLS config sheriffs use to reach TLS deputies.
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	return postls.ClientConfig(caFile)
}

// DeputyHandler returns the deputy HTTP surface for mounting elsewhere.
func DeputyHandler(sup *Supervisor, lg *slog.Logger) http.Handler {
	return deputy.New(sup, lg).Handler()
}

// NewLogger builds a slog.Logger from the config.
func NewLogger(c LogConfig) *slog.Logger { return logger.New(c) }

// ReadConfig parses a fleet config file without applying it.
func ReadConfig(path string) (ConfigFile, error) {
	return cfg.Read(path)
}

// LoadConfig applies a fleet config file to the sheriff.
func LoadConfig(path string, s *Sheriff, lg *slog.Logger) error {
	return cfg.Load(path, s, lg)
}

// SaveConfig writes the sheriff's deputies and process specs to path.
func SaveConfig(path string, s *Sheriff) error {
	return cfg.Save(path, s)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
