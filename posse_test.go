package posse

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/posse-io/posse/pkg/client"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFacadeDeputyRoundTrip(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Hostname: "facade-host"})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(DeputyHandler(sup, nil))
	t.Cleanup(srv.Close)

	c := client.New(client.Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "facade-host", h.Hostname)

	rec := Record{Name: "facade-proc", Command: "sleep 5", Autostart: true}
	require.NoError(t, c.StartProcess(ctx, rec.ToTransport()))

	tr, err := c.Process(ctx, "facade-proc")
	require.NoError(t, err)
	require.Equal(t, "running", tr.Status)
	require.NotNil(t, tr.PID)

	require.NoError(t, c.StopProcess(ctx, "facade-proc"))
}

func TestFacadeSheriffAgainstDeputy(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Hostname: "facade-host"})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(DeputyHandler(sup, nil))
	t.Cleanup(srv.Close)

	s := NewSheriff(SheriffConfig{})
	require.NoError(t, s.AddDeputy(srv.URL))
	require.NoError(t, s.StartProcess(Record{
		Name: "fleet-proc", Command: "sleep 5", Host: "facade-host", Autostart: true,
	}))

	rec, err := s.ProcessInfo("fleet-proc")
	require.NoError(t, err)
	require.Equal(t, "running", rec.Status)
	require.NoError(t, s.DeleteProcess("fleet-proc"))
}

func TestRegisterMetricsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
}
