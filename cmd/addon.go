// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/command"
)

// addonCmd is the parent for add-on management subcommands.
var addonCmd = &cobra.Command{
	Use:   "addon",
	Short: "Manage add-on subprocesses",
}

var addonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled, running add-ons",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.AddonList(context.Background())
		return printResponse(resp, err, "addon.list")
	},
}

var addonEnableCmd = &cobra.Command{
	Use:   "enable <addon-id>",
	Short: "Re-enable a disabled add-on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Call(context.Background(), "addon.enable", command.AddonEnableParams{ID: args[0]})
		return printResponse(resp, err, "addon.enable")
	},
}

var addonDisableCmd = &cobra.Command{
	Use:   "disable <addon-id>",
	Short: "Administratively disable an add-on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Call(context.Background(), "addon.disable", command.AddonEnableParams{ID: args[0]})
		return printResponse(resp, err, "addon.disable")
	},
}

func init() {
	addonCmd.AddCommand(addonListCmd)
	addonCmd.AddCommand(addonEnableCmd)
	addonCmd.AddCommand(addonDisableCmd)
}
