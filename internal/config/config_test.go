package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posse-io/posse/internal/deputy"
	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/internal/sheriff"
	"github.com/posse-io/posse/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posse.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadParsesShape(t *testing.T) {
	path := writeConfig(t, `{
		"deputies": ["localhost:8000"],
		"processes": [
			{"name": "web", "command": "sleep 30", "working_dir": "/tmp", "host": "node-1", "autostart": true, "auto_restart": true}
		]
	}`)
	f, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:8000"}, f.Deputies)
	require.Len(t, f.Processes, 1)
	assert.Equal(t, "web", f.Processes[0].Name)
	assert.True(t, f.Processes[0].Autostart)
	assert.True(t, f.Processes[0].AutoRestart)
}

func TestReadMissingFileFails(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestProcessRecordDefaultsHost(t *testing.T) {
	rec := Process{Name: "x", Command: "sleep 1"}.Record()
	assert.Equal(t, "localhost", rec.Host)
	assert.Equal(t, record.StatusStopped, rec.Status)
}

func TestLoadAppliesConfigToSheriff(t *testing.T) {
	sup := supervisor.New(supervisor.Config{Hostname: "d1"})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(deputy.New(sup, nil).Handler())
	t.Cleanup(srv.Close)

	path := writeConfig(t, `{
		"deputies": ["`+srv.URL+`"],
		"processes": [
			{"name": "run-me", "command": "sleep 30", "host": "d1", "autostart": true},
			{"name": "lazy", "command": "sleep 30", "host": "d1"},
			{"name": "orphan", "command": "sleep 30", "host": "missing-host"}
		]
	}`)

	s := sheriff.New(sheriff.Config{Timeout: 2 * time.Second})
	require.NoError(t, Load(path, s, nil))

	// autostart spawned, the lazy one is registered only, the orphan skipped.
	got, err := sup.Info("run-me")
	require.NoError(t, err)
	assert.Equal(t, record.StatusRunning, got.Status)

	got, err = sup.Info("lazy")
	require.NoError(t, err)
	assert.Equal(t, record.StatusStopped, got.Status)

	_, err = sup.Info("orphan")
	assert.Error(t, err)
	assert.Len(t, s.Processes(), 2)
}

func TestSaveRoundTrips(t *testing.T) {
	sup := supervisor.New(supervisor.Config{Hostname: "d1"})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(deputy.New(sup, nil).Handler())
	t.Cleanup(srv.Close)

	s := sheriff.New(sheriff.Config{Timeout: 2 * time.Second})
	require.NoError(t, s.AddDeputy(srv.URL))
	require.NoError(t, s.AddProcess(record.Record{
		Name: "web", Command: "sleep 30", WorkingDir: "/tmp", Host: "d1", AutoRestart: true,
	}))

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, Save(path, s))

	f, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL}, f.Deputies)
	require.Len(t, f.Processes, 1)
	assert.Equal(t, Process{
		Name: "web", Command: "sleep 30", WorkingDir: "/tmp", Host: "d1", AutoRestart: true,
	}, f.Processes[0])
}
