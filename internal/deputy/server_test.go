package deputy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(supervisor.Config{Hostname: "dep-test"})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(New(sup, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, sup
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthReportsHostname(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dep-test", body["hostname"])
	assert.Contains(t, body, "cpu_percent")
	assert.Contains(t, body, "memory_percent")
	assert.Contains(t, body, "disk_percent")
}

func TestAddThenInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/add", record.Record{Name: "svc", Command: "sleep 1"}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decode[map[string]string](t, resp)["status"])

	resp2, err := http.Get(srv.URL + "/process/svc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	tr := decode[record.Transport](t, resp2)
	assert.Equal(t, "svc", tr.Name)
	assert.Equal(t, record.StatusStopped, tr.Status)
	assert.Nil(t, tr.PID)
}

func TestStartHonorsAutostart(t *testing.T) {
	srv, sup := newTestServer(t)

	// autostart=false registers without spawning.
	resp := postJSON(t, srv.URL+"/process/start", record.Record{Name: "lazy", Command: "sleep 30"}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	rec, err := sup.Info("lazy")
	require.NoError(t, err)
	assert.Equal(t, record.StatusStopped, rec.Status)

	// autostart=true spawns.
	resp = postJSON(t, srv.URL+"/process/start", record.Record{Name: "eager", Command: "sleep 30", Autostart: true}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	rec, err = sup.Info("eager")
	require.NoError(t, err)
	assert.Equal(t, record.StatusRunning, rec.Status)
	assert.NotZero(t, rec.PID)
}

func TestStartSpawnFailureReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/start", record.Record{Name: "bad", Command: "/no/such/bin", Autostart: true}.ToTransport())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.NotEmpty(t, body["detail"])
}

func TestStopLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/start", record.Record{Name: "svc", Command: "sleep 30", Autostart: true}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, srv.URL+"/process/stop/svc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Stopping again fails with 400.
	resp = postJSON(t, srv.URL+"/process/stop/svc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDeleteRemovesRecord(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/add", record.Record{Name: "svc", Command: "sleep 1"}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, srv.URL+"/process/delete/svc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp2, err := http.Get(srv.URL + "/process/svc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	_ = resp2.Body.Close()
}

func TestUpdateUnknownReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/update/ghost", record.Record{Name: "ghost", Command: "sleep 1"}.ToTransport())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestProcessesListsAll(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, name := range []string{"a", "b"} {
		resp := postJSON(t, srv.URL+"/process/add", record.Record{Name: name, Command: "sleep 1"}.ToTransport())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
	resp, err := http.Get(srv.URL + "/processes")
	require.NoError(t, err)
	trs := decode[[]record.Transport](t, resp)
	require.Len(t, trs, 2)
	assert.Equal(t, "a", trs[0].Name)
	assert.Equal(t, "b", trs[1].Name)
}

func TestOutputVisibleOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/process/start", record.Record{Name: "echoer", Command: "echo hi", Autostart: true}.ToTransport())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/process/echoer")
		if err != nil {
			return false
		}
		tr := decode[record.Transport](t, resp)
		return tr.Status == record.StatusDied && len(tr.Stdout) == 1 && tr.Stdout[0] == "hi"
	}, 5*time.Second, 100*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
