// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/otus-rec/rec-agent/internal/command"
)

// recordCmd is the parent for recording control subcommands.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control recording jobs on the daemon",
}

var (
	recordRootDir     string
	recordName        string
	recordDescription string
	recordMaxSizeMB   int64
)

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a recording job",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 30*time.Second)
		resp, err := client.RecordStart(context.Background(), command.RecordStartParams{
			MeasurementRootDir: recordRootDir,
			MeasurementName:    recordName,
			Description:        recordDescription,
			MaxFileSizeMB:      recordMaxSizeMB,
		})
		return printResponse(resp, err, "record.start")
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording job",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.RecordStop(context.Background())
		return printResponse(resp, err, "record.stop")
	},
}

var recordSavePrebufferCmd = &cobra.Command{
	Use:   "save-prebuffer",
	Short: "Flush the current pre-buffer window to a new measurement",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 30*time.Second)
		resp, err := client.RecordSavePrebuffer(context.Background(), command.RecordStartParams{
			MeasurementRootDir: recordRootDir,
			MeasurementName:    recordName,
			Description:        recordDescription,
			MaxFileSizeMB:      recordMaxSizeMB,
		})
		return printResponse(resp, err, "record.save_prebuffer")
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of all known jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.RecordStatus(context.Background())
		return printResponse(resp, err, "record.status")
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a finished measurement's directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var jobID int64
		if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.RecordDelete(context.Background(), jobID)
		return printResponse(resp, err, "record.delete")
	},
}

var (
	uploadDestination string
	uploadDeleteAfter bool
)

var recordUploadCmd = &cobra.Command{
	Use:   "upload <job-id>",
	Short: "Upload a finished measurement to a remote destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var jobID int64
		if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.RecordUpload(context.Background(), command.UploadParams{
			JobID:             jobID,
			Destination:       uploadDestination,
			DeleteAfterUpload: uploadDeleteAfter,
		})
		return printResponse(resp, err, "record.upload")
	},
}

var filterHosts []string

var filterSetHostsCmd = &cobra.Command{
	Use:   "set-hosts",
	Short: "Set the topic publisher-host filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Call(context.Background(), "record.set_host_filter", command.FilterParams{Items: filterHosts})
		return printResponse(resp, err, "record.set_host_filter")
	},
}

var filterTopics []string

var filterSetListedTopicsCmd = &cobra.Command{
	Use:   "set-listed-topics",
	Short: "Set the blacklist/whitelist topic set",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Call(context.Background(), "record.set_listed_topics", command.FilterParams{Items: filterTopics})
		return printResponse(resp, err, "record.set_listed_topics")
	},
}

var filterMode string

var filterSetModeCmd = &cobra.Command{
	Use:   "set-mode",
	Short: "Set the record mode (all|blacklist|whitelist)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.Call(context.Background(), "record.set_mode", command.RecordModeParams{Mode: filterMode})
		return printResponse(resp, err, "record.set_mode")
	},
}

// filterCmd groups the topic-filter subcommands under `record filter`.
var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Manage the recording topic filter",
}

func init() {
	recordStartCmd.Flags().StringVar(&recordRootDir, "root-dir", "", "measurement root directory (required)")
	recordStartCmd.Flags().StringVar(&recordName, "name", "", "measurement name (required)")
	recordStartCmd.Flags().StringVar(&recordDescription, "description", "", "measurement description")
	recordStartCmd.Flags().Int64Var(&recordMaxSizeMB, "max-size-mb", 0, "max file size in MB before rollover (0 = unlimited)")
	recordStartCmd.MarkFlagRequired("root-dir")
	recordStartCmd.MarkFlagRequired("name")

	recordSavePrebufferCmd.Flags().StringVar(&recordRootDir, "root-dir", "", "measurement root directory (required)")
	recordSavePrebufferCmd.Flags().StringVar(&recordName, "name", "", "measurement name (required)")
	recordSavePrebufferCmd.Flags().StringVar(&recordDescription, "description", "", "measurement description")
	recordSavePrebufferCmd.MarkFlagRequired("root-dir")
	recordSavePrebufferCmd.MarkFlagRequired("name")

	recordUploadCmd.Flags().StringVar(&uploadDestination, "destination", "", "upload destination path (required)")
	recordUploadCmd.Flags().BoolVar(&uploadDeleteAfter, "delete-after-upload", false, "delete the measurement once the upload completes")
	recordUploadCmd.MarkFlagRequired("destination")

	filterSetHostsCmd.Flags().StringSliceVar(&filterHosts, "hosts", nil, "publisher hostnames to filter on")
	filterSetListedTopicsCmd.Flags().StringSliceVar(&filterTopics, "topics", nil, "topics for the blacklist/whitelist")
	filterSetModeCmd.Flags().StringVar(&filterMode, "mode", "all", "all|blacklist|whitelist")

	filterCmd.AddCommand(filterSetHostsCmd)
	filterCmd.AddCommand(filterSetListedTopicsCmd)
	filterCmd.AddCommand(filterSetModeCmd)

	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	recordCmd.AddCommand(recordSavePrebufferCmd)
	recordCmd.AddCommand(recordStatusCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordUploadCmd)
	recordCmd.AddCommand(filterCmd)
}

// printResponse renders a control-plane Response as indented JSON, or
// surfaces a transport/daemon-side error.
func printResponse(resp *command.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: transport error: %w", op, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", op, resp.Error.Message)
	}
	if resp.Result == nil {
		fmt.Println("ok")
		return nil
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
