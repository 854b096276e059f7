package main

import "time"

// GlobalFlags holds persistent flags shared by the sheriff commands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	TLSCA      string
}

// ServeFlags holds flags for the deputy serve command.
type ServeFlags struct {
	Listen          string
	Hostname        string
	LogFile         string
	RestartInterval time.Duration
	MaxRetries      int
	Metrics         bool
	TLSCert         string
	TLSKey          string
	TLSClientCA     string
}

// DeputyFlags holds flags for the add-deputy and remove-deputy commands.
type DeputyFlags struct {
	URL      string
	Hostname string
	Save     bool
}

// ProcessFlags holds flags for the process lifecycle commands.
type ProcessFlags struct {
	Name        string
	Command     string
	Host        string
	WorkDir     string
	Autostart   bool
	AutoRestart bool
	Save        bool
}

// MonitorFlags holds flags for the monitor command.
type MonitorFlags struct {
	Interval time.Duration
}
