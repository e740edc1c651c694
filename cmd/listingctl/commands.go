package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/listingsync/internal/app"
	"github.com/timmy/listingsync/internal/domain"
)

var probeCmd = &cobra.Command{
	Use:   "probe <source|target>",
	Short: "Test connectivity and credentials for an external system",
	Long: `Probe checks that the system is reachable and that the credentials log in.
Without --username and --password the stored credentials are used.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

var runCmd = &cobra.Command{
	Use:   "run [automation-id]",
	Short: "Run an automation in the foreground",
	Long: `Run executes one automation and waits for it to finish.
Pass an id to run an existing automation, or --broker and --source-code to create one.
Interrupting the command stops the automation before its next step.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAutomation,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage the persisted activity log",
}

var logsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete activity log entries",
	RunE:  runLogsPurge,
}

var (
	probeUsername string
	probePassword string

	runBrokerID   uint
	runSourceCode string
	runTargetCode string

	purgeOlderThanDays int
)

func init() {
	probeCmd.Flags().StringVarP(&probeUsername, "username", "u", "", "Username to test instead of the stored one")
	probeCmd.Flags().StringVarP(&probePassword, "password", "p", "", "Password to test instead of the stored one")

	runCmd.Flags().UintVar(&runBrokerID, "broker", 0, "Broker that owns the new automation")
	runCmd.Flags().StringVar(&runSourceCode, "source-code", "", "Listing code in the source system")
	runCmd.Flags().StringVar(&runTargetCode, "target-code", "", "Specific target code to claim")

	logsPurgeCmd.Flags().IntVar(&purgeOlderThanDays, "older-than-days", 0, "Only delete entries older than this many days (0 deletes everything)")
	logsCmd.AddCommand(logsPurgeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	system := domain.System(args[0])
	if !system.Valid() {
		return fmt.Errorf("unknown system %q, expected source or target", args[0])
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	var creds *domain.Credentials
	if probeUsername != "" || probePassword != "" {
		creds = &domain.Credentials{Username: probeUsername, Password: probePassword}
	} else if creds, err = a.Runtime.Credentials(ctx, system); err != nil {
		return err
	}

	result := a.Connectivity.Test(ctx, system, creds)
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s probe failed: %s", system, result.Outcome)
	}
	return nil
}

func runAutomation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	id, err := resolveAutomation(ctx, a, args)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.Orchestrator.Stop(context.WithoutCancel(ctx), id)
		case <-finished:
		}
	}()

	runErr := a.Orchestrator.Run(context.WithoutCancel(ctx), id)
	close(finished)

	final, err := a.Automations.GetByID(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	if err := printJSON(final); err != nil {
		return err
	}
	return runErr
}

func resolveAutomation(ctx context.Context, a *app.App, args []string) (uint, error) {
	if len(args) == 1 {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid automation id %q", args[0])
		}
		return uint(id), nil
	}
	if runBrokerID == 0 || runSourceCode == "" {
		return 0, errors.New("either an automation id or --broker and --source-code are required")
	}
	if _, err := a.Brokers.GetByID(ctx, runBrokerID); err != nil {
		return 0, fmt.Errorf("broker %d: %w", runBrokerID, err)
	}
	automation := &domain.Automation{
		BrokerID:   runBrokerID,
		SourceCode: runSourceCode,
		TargetCode: runTargetCode,
		Status:     domain.AutomationStatusPending,
	}
	if err := a.Automations.Create(ctx, automation); err != nil {
		return 0, err
	}
	return automation.ID, nil
}

func runLogsPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	var deleted int64
	if purgeOlderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -purgeOlderThanDays)
		deleted, err = a.Logs.DeleteOlderThan(ctx, cutoff)
	} else {
		deleted, err = a.Logs.DeleteAll(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log entries\n", deleted)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
