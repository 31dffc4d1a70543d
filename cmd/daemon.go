// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/daemon"
)

// daemonCmd runs the daemon in the foreground — this is what the `start`
// command execs into once it decides to launch a fresh daemon process.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the rec-agent daemon in the foreground",
	Long: `Run the rec-agent daemon process in the foreground.

The daemon loads its configuration, starts the control-plane listeners
(Unix Domain Socket and, if enabled, Kafka), constructs the recording
engine and add-on manager, and blocks handling commands and signals until
told to stop (SIGTERM/SIGINT, SIGHUP for reload, or a daemon.shutdown
command).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	d, err := daemon.New(configFile, socketPath, pidFile)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(os.Stderr, "rec-agent daemon started (socket=%s pidfile=%s)\n", socketPath, pidFile)

	return d.Run()
}
