package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/posse-io/posse"
	"github.com/spf13/cobra"
)

// command bundles the state shared by the sheriff subcommands. Each
// invocation builds a fresh sheriff from the fleet config file.
type command struct {
	flags *GlobalFlags
}

func (c command) logger() *slog.Logger {
	return posse.NewLogger(posse.LogConfig{Level: c.flags.LogLevel})
}

// newSheriff registers the deputies from the config file without touching
// any process. Deputies that do not answer are skipped with a warning.
func (c command) newSheriff(logger *slog.Logger) (*posse.Sheriff, error) {
	var tc *tls.Config
	if c.flags.TLSCA != "" {
		var err error
		if tc, err = posse.ClientTLSConfig(c.flags.TLSCA); err != nil {
			return nil, err
		}
	}
	s := posse.NewSheriff(posse.SheriffConfig{Logger: logger, TLS: tc})
	if c.flags.ConfigPath == "" {
		return s, nil
	}
	f, err := posse.ReadConfig(c.flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	for _, url := range f.Deputies {
		if err := s.AddDeputy(url); err != nil {
			logger.Warn("deputy unreachable", "url", url, "error", err)
		}
	}
	return s, nil
}

func (c command) save(s *posse.Sheriff, requested bool) error {
	if !requested {
		return nil
	}
	if c.flags.ConfigPath == "" {
		return errors.New("--save requires --config")
	}
	return posse.SaveConfig(c.flags.ConfigPath, s)
}

// createAddDeputyCommand creates the add-deputy subcommand
func createAddDeputyCommand(posseCommand command, deputyFlags *DeputyFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-deputy",
		Short: "Register a deputy with the fleet",
		Long: `Probe a deputy's health endpoint and register it under the hostname it
reports. With --save the deputy is persisted to the fleet config file.

Examples:
  posse add-deputy --url http://worker-1:4334 --config fleet.json --save
  posse add-deputy --url worker-2:4334`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.AddDeputy(*deputyFlags)
		},
	}

	cmd.Flags().StringVar(&deputyFlags.URL, "url", "", "deputy base URL (required)")
	cmd.Flags().BoolVar(&deputyFlags.Save, "save", false, "persist the registry to the config file")

	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}

	return cmd
}

func (c command) AddDeputy(flags DeputyFlags) error {
	logger := c.logger()
	s, err := c.newSheriff(logger)
	if err != nil {
		return err
	}
	if err := s.AddDeputy(flags.URL); err != nil {
		return err
	}
	if err := c.save(s, flags.Save); err != nil {
		return err
	}
	printJSON(s.DeputyStatus())
	return nil
}

// createRemoveDeputyCommand creates the remove-deputy subcommand
func createRemoveDeputyCommand(posseCommand command, deputyFlags *DeputyFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-deputy",
		Short: "Remove a deputy from the fleet",
		Long: `Remove a deputy by hostname. Processes mirrored from that deputy are
dropped from the fleet view; the deputy itself keeps running whatever it
already owns.

Examples:
  posse remove-deputy --hostname worker-1 --config fleet.json --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.RemoveDeputy(*deputyFlags)
		},
	}

	cmd.Flags().StringVar(&deputyFlags.Hostname, "hostname", "", "deputy hostname (required)")
	cmd.Flags().BoolVar(&deputyFlags.Save, "save", false, "persist the registry to the config file")

	if err := cmd.MarkFlagRequired("hostname"); err != nil {
		panic(err)
	}

	return cmd
}

func (c command) RemoveDeputy(flags DeputyFlags) error {
	logger := c.logger()
	s, err := c.newSheriff(logger)
	if err != nil {
		return err
	}
	if err := s.RemoveDeputy(flags.Hostname); err != nil {
		return err
	}
	return c.save(s, flags.Save)
}

// createDeputiesCommand creates the deputies subcommand
func createDeputiesCommand(posseCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "deputies",
		Short: "Show health of every registered deputy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Deputies()
		},
	}
}

func (c command) Deputies() error {
	s, err := c.newSheriff(c.logger())
	if err != nil {
		return err
	}
	printJSON(s.DeputyStatus())
	return nil
}

func processFlagSet(cmd *cobra.Command, flags *ProcessFlags) {
	cmd.Flags().StringVar(&flags.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&flags.Command, "command", "", "command to run (required)")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "deputy hostname that owns the process")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "working directory")
	cmd.Flags().BoolVar(&flags.AutoRestart, "auto-restart", false, "restart the process when it dies")
	cmd.Flags().BoolVar(&flags.Save, "save", false, "persist the fleet state to the config file")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
}

func (f ProcessFlags) record(autostart bool) posse.Record {
	return posse.Record{
		Name:        f.Name,
		Command:     f.Command,
		WorkingDir:  f.WorkDir,
		Host:        f.Host,
		Autostart:   autostart,
		AutoRestart: f.AutoRestart,
	}
}

// createRegisterCommand creates the register subcommand
func createRegisterCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a process without starting it",
		Long: `Register a process spec on its deputy so it can be started later.

Examples:
  posse register --name web --command "python app.py" --host worker-1 --config fleet.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Register(*processFlags)
		},
	}
	processFlagSet(cmd, processFlags)
	return cmd
}

func (c command) Register(flags ProcessFlags) error {
	s, err := c.newSheriff(c.logger())
	if err != nil {
		return err
	}
	if err := s.AddProcess(flags.record(false)); err != nil {
		return err
	}
	return c.save(s, flags.Save)
}

// createStartCommand creates the start subcommand
func createStartCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process on its deputy",
		Long: `Register the process spec on the owning deputy and spawn it.

Examples:
  posse start --name web --command "python app.py" --host worker-1 --config fleet.json
  posse start --name batch --command "./run.sh" --work-dir /srv/batch --auto-restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Start(*processFlags)
		},
	}
	processFlagSet(cmd, processFlags)
	return cmd
}

func (c command) Start(flags ProcessFlags) error {
	s, err := c.newSheriff(c.logger())
	if err != nil {
		return err
	}
	if err := s.StartProcess(flags.record(true)); err != nil {
		return err
	}
	if err := c.save(s, flags.Save); err != nil {
		return err
	}
	rec, err := s.ProcessInfo(flags.Name)
	if err != nil {
		return err
	}
	printJSON(rec.ToTransport())
	return nil
}

func nameOnlyFlagSet(cmd *cobra.Command, flags *ProcessFlags) {
	cmd.Flags().StringVar(&flags.Name, "name", "", "process name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
}

// createStopCommand creates the stop subcommand
func createStopCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.forward(processFlags.Name, (*posse.Sheriff).StopProcess)
		},
	}
	nameOnlyFlagSet(cmd, processFlags)
	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.forward(processFlags.Name, (*posse.Sheriff).RestartProcess)
		},
	}
	nameOnlyFlagSet(cmd, processFlags)
	return cmd
}

// createDeleteCommand creates the delete subcommand
func createDeleteCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Stop a process and remove it from the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.forward(processFlags.Name, (*posse.Sheriff).DeleteProcess)
		},
	}
	nameOnlyFlagSet(cmd, processFlags)
	return cmd
}

// forward runs a name-keyed sheriff operation. The poll fills the mirror
// first so the sheriff can resolve the owning deputy.
func (c command) forward(name string, op func(*posse.Sheriff, string) error) error {
	s, err := c.newSheriff(c.logger())
	if err != nil {
		return err
	}
	s.PollOnce()
	return op(s, name)
}

// createStatusCommand creates the status subcommand
func createStatusCommand(posseCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process state across the fleet",
		Long: `Fetch live process state from every deputy. With --name only that
process is shown, including its captured output.

Examples:
  posse status --config fleet.json
  posse status --name web --config fleet.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Status(*processFlags)
		},
	}
	cmd.Flags().StringVar(&processFlags.Name, "name", "", "show a single process")
	return cmd
}

func (c command) Status(flags ProcessFlags) error {
	s, err := c.newSheriff(c.logger())
	if err != nil {
		return err
	}
	if flags.Name != "" {
		s.PollOnce()
		rec, err := s.ProcessInfo(flags.Name)
		if err != nil {
			return err
		}
		printJSON(rec.ToTransport())
		return nil
	}
	recs := s.AllProcesses()
	out := make([]posse.Transport, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToTransport())
	}
	printJSON(out)
	return nil
}

// createApplyCommand creates the apply subcommand
func createApplyCommand(posseCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply the fleet config file",
		Long: `Register every deputy from the config file, then register every process
on its deputy; processes marked autostart are started.

Examples:
  posse apply --config fleet.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Apply()
		},
	}
}

func (c command) Apply() error {
	if c.flags.ConfigPath == "" {
		return errors.New("apply requires --config")
	}
	logger := c.logger()
	s := posse.NewSheriff(posse.SheriffConfig{Logger: logger})
	if err := posse.LoadConfig(c.flags.ConfigPath, s, logger); err != nil {
		return err
	}
	recs := s.Processes()
	out := make([]posse.Transport, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToTransport())
	}
	printJSON(out)
	return nil
}

// createMonitorCommand creates the monitor subcommand
func createMonitorCommand(posseCommand command, monitorFlags *MonitorFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the fleet and print state on every tick",
		Long: `Run the background poll loop and print the mirrored fleet state on
every tick until SIGINT or SIGTERM.

Examples:
  posse monitor --config fleet.json --interval 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return posseCommand.Monitor(*monitorFlags)
		},
	}
	cmd.Flags().DurationVar(&monitorFlags.Interval, "interval", time.Second, "poll interval")
	return cmd
}

func (c command) Monitor(flags MonitorFlags) error {
	logger := c.logger()
	s, err := c.newSheriff(logger)
	if err != nil {
		return err
	}
	s.StartPolling(flags.Interval)
	defer s.StopPolling()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(flags.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			recs := s.Processes()
			out := make([]posse.Transport, 0, len(recs))
			for _, r := range recs {
				out = append(out, r.ToTransport())
			}
			printJSON(out)
		case sig := <-sigCh:
			fmt.Printf("monitor stopped (%s)\n", sig.String())
			return nil
		}
	}
}
