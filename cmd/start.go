package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/daemon"
)

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rec-agent daemon",
	Long: `Start the rec-agent daemon as a background process.

With --foreground, runs in the current process instead (equivalent to
"rec-agent daemon"); this is the mode a process supervisor such as
systemd should use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if startForeground {
			return runDaemon()
		}
		return runStart()
	},
}

func init() {
	startCmd.Flags().BoolVarP(&startForeground, "foreground", "f", false,
		"run in the foreground instead of spawning a background process")
}

func runStart() error {
	handle := daemon.ProcessHandle{SocketPath: socketPath, PIDFile: pidFile}
	if err := handle.EnsureRunning(configFile); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	fmt.Println("rec-agent daemon started")
	return nil
}
