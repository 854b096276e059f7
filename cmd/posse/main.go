package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	deputyFlags := &DeputyFlags{}
	processFlags := &ProcessFlags{}
	monitorFlags := &MonitorFlags{}

	root := createRootCommand(globalFlags)

	posseCommand := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createAddDeputyCommand(posseCommand, deputyFlags),
		createRemoveDeputyCommand(posseCommand, deputyFlags),
		createDeputiesCommand(posseCommand),
		createRegisterCommand(posseCommand, processFlags),
		createStartCommand(posseCommand, processFlags),
		createStopCommand(posseCommand, processFlags),
		createRestartCommand(posseCommand, processFlags),
		createDeleteCommand(posseCommand, processFlags),
		createStatusCommand(posseCommand, processFlags),
		createApplyCommand(posseCommand),
		createMonitorCommand(posseCommand, monitorFlags),
	)

	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "posse",
		Short: "Distributed process supervision",
		Long: `Posse manages OS processes across a fleet of hosts. A deputy runs on
each host and owns its local processes; the sheriff commands talk to
deputies listed in a fleet config file.

Examples:
  posse serve --listen :4334                    # Run a deputy on this host
  posse add-deputy --url http://host:4334 --config fleet.json --save
  posse start --name web --command "python app.py" --host host --config fleet.json
  posse status --config fleet.json`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to fleet config file (JSON)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.TLSCA, "tls-ca", "", "CA bundle for TLS deputies (PEM)")

	return root
}
