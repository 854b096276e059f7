package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/posse-io/posse/internal/record"
	"github.com/posse-io/posse/internal/sheriff"
)

// File is the fleet config shape:
//
//	{"deputies": ["host:port", ...],
//	 "processes": [{"name": ..., "command": ..., ...}, ...]}
type File struct {
	Deputies  []string  `json:"deputies" mapstructure:"deputies"`
	Processes []Process `json:"processes" mapstructure:"processes"`
}

// Process carries only the spec-owned fields; live state never round-trips
// through config files.
type Process struct {
	Name        string `json:"name" mapstructure:"name"`
	Command     string `json:"command" mapstructure:"command"`
	WorkingDir  string `json:"working_dir" mapstructure:"working_dir"`
	Host        string `json:"host" mapstructure:"host"`
	Autostart   bool   `json:"autostart" mapstructure:"autostart"`
	AutoRestart bool   `json:"auto_restart" mapstructure:"auto_restart"`
}

// Record converts the config entry to a process record.
func (p Process) Record() record.Record {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	return record.Record{
		Name:        p.Name,
		Command:     p.Command,
		WorkingDir:  p.WorkingDir,
		Host:        host,
		Autostart:   p.Autostart,
		AutoRestart: p.AutoRestart,
		Status:      record.StatusStopped,
	}
}

// Read parses a fleet config file.
func Read(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Load applies a fleet config to the sheriff: deputies are registered
// first, then each process is started (autostart) or merely added. A
// process whose host is not a known deputy is skipped and logged.
func Load(path string, s *sheriff.Sheriff, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := Read(path)
	if err != nil {
		return err
	}
	for _, url := range f.Deputies {
		if err := s.AddDeputy(url); err != nil {
			logger.Warn("config deputy not added", "url", url, "error", err)
		}
	}
	for _, p := range f.Processes {
		rec := p.Record()
		if !s.HasDeputy(rec.Host) {
			logger.Warn("skipping process, deputy unknown", "name", rec.Name, "host", rec.Host)
			continue
		}
		if rec.Autostart {
			err = s.StartProcess(rec)
		} else {
			err = s.AddProcess(rec)
		}
		if err != nil {
			logger.Error("config process not applied", "name", rec.Name, "error", err)
		}
	}
	return nil
}

// Save writes the sheriff's current deputies and process specs back out in
// the same shape Load reads.
func Save(path string, s *sheriff.Sheriff) error {
	f := File{Deputies: s.DeputyURLs()}
	for _, rec := range s.Processes() {
		f.Processes = append(f.Processes, Process{
			Name:        rec.Name,
			Command:     rec.Command,
			WorkingDir:  rec.WorkingDir,
			Host:        rec.Host,
			Autostart:   rec.Autostart,
			AutoRestart: rec.AutoRestart,
		})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
