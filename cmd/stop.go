// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/command"
	"github.com/otus-rec/rec-agent/internal/daemon"
)

// stopCmd represents the stop command.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the rec-agent daemon",
	Long: `Stop the rec-agent daemon gracefully.

Sends daemon.shutdown over the control socket first, giving the daemon a
chance to stop recording, flush add-on sessions, and exit cleanly; falls
back to signalling the process directly if the socket is unreachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func runStop() error {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	if _, err := client.DaemonShutdown(ctx); err == nil {
		fmt.Println("shutdown requested; daemon is stopping")
		return nil
	}

	handle := daemon.ProcessHandle{SocketPath: socketPath, PIDFile: pidFile}
	if err := handle.Stop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Println("daemon stopped")
	return nil
}
