// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/command"
)

// reloadCmd represents the reload command.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the rec-agent daemon configuration",
	Long: `Reload the global configuration of the rec-agent daemon.

Sends config.reload over the control socket. The daemon re-reads its
config file and hot-applies what it safely can (log level/format, topic
filter, record mode); changes to listen addresses or the add-on search
directory still require a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		return runReload(cmd.Context(), client, cmd.OutOrStdout())
	},
}

// reloader is the subset of UDSClient that runReload depends on, so tests
// can substitute a fake without spinning up a real socket.
type reloader interface {
	ConfigReload(ctx context.Context) (*command.Response, error)
}

func runReload(ctx context.Context, client reloader, out io.Writer) error {
	fmt.Fprintln(out, "sending reload command to daemon...")

	resp, err := client.ConfigReload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("config.reload failed: %s", resp.Error.Message)
	}

	fmt.Fprintln(out, "configuration reloaded successfully")
	return nil
}
