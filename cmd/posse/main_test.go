package main

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/posse-io/posse"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRootHasAllSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{
		"serve", "add-deputy", "remove-deputy", "deputies",
		"register", "start", "stop", "restart", "delete",
		"status", "apply", "monitor",
	}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		require.True(t, have[name], "missing subcommand %q", name)
	}
}

// startDeputy runs an in-process deputy and returns its base URL.
func startDeputy(t *testing.T, hostname string) string {
	t.Helper()
	sup := posse.NewSupervisor(posse.SupervisorConfig{Hostname: hostname})
	t.Cleanup(sup.Shutdown)
	srv := httptest.NewServer(posse.DeputyHandler(sup, nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeFleetConfig(t *testing.T, f posse.ConfigFile) string {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fleet.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestApplyStartsAutostartProcesses(t *testing.T) {
	url := startDeputy(t, "d1")
	path := writeFleetConfig(t, posse.ConfigFile{
		Deputies: []string{url},
		Processes: []posse.ConfigProcess{
			{Name: "runner", Command: "sleep 5", Host: "d1", Autostart: true},
			{Name: "lazy", Command: "sleep 5", Host: "d1"},
		},
	})

	c := command{flags: &GlobalFlags{ConfigPath: path, LogLevel: "error"}}
	require.NoError(t, c.Apply())

	s, err := c.newSheriff(c.logger())
	require.NoError(t, err)
	recs := s.AllProcesses()
	byName := make(map[string]posse.Record)
	for _, r := range recs {
		byName[r.Name] = r
	}
	require.Equal(t, "running", byName["runner"].Status)
	require.Equal(t, "stopped", byName["lazy"].Status)
}

func TestStartStopDeleteRoundTrip(t *testing.T) {
	url := startDeputy(t, "d1")
	path := writeFleetConfig(t, posse.ConfigFile{Deputies: []string{url}})
	c := command{flags: &GlobalFlags{ConfigPath: path, LogLevel: "error"}}

	err := c.Start(ProcessFlags{Name: "svc", Command: "sleep 5", Host: "d1"})
	require.NoError(t, err)

	require.NoError(t, c.forward("svc", (*posse.Sheriff).StopProcess))
	require.NoError(t, c.forward("svc", (*posse.Sheriff).DeleteProcess))

	s, err := c.newSheriff(c.logger())
	require.NoError(t, err)
	require.Empty(t, s.AllProcesses())
}

func TestSavePersistsDeputyRegistry(t *testing.T) {
	url := startDeputy(t, "d1")
	path := writeFleetConfig(t, posse.ConfigFile{})
	c := command{flags: &GlobalFlags{ConfigPath: path, LogLevel: "error"}}

	require.NoError(t, c.AddDeputy(DeputyFlags{URL: url, Save: true}))

	f, err := posse.ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{url}, f.Deputies)
}

func TestApplyWithoutConfigFails(t *testing.T) {
	c := command{flags: &GlobalFlags{LogLevel: "error"}}
	require.Error(t, c.Apply())
}
