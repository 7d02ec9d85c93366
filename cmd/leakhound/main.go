package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leakhound/internal/config"
	"leakhound/internal/engine"
	"leakhound/internal/leak"
	"leakhound/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "leakhound",
	Short: "leakhound - resource leak detection for JavaScript/TypeScript projects",
	Long: `leakhound scans source for resource acquisitions (timers, listeners,
sockets, subscriptions) that lack a matching release in their teardown
scope, generates minimal fixes, and measures memory regressions via
point-in-time snapshots.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var (
	scanParallel bool
	scanMaxFiles int
	scanTypes    []string
	scanSeverity []string
)

// scanCmd runs a project scan and prints the report as JSON.
var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a file or project tree for resource leaks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [id]",
	Short: "Capture a memory snapshot of this process and print it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshot,
}

var compareCmd = &cobra.Command{
	Use:   "compare <export.json> <before-id> <after-id>",
	Short: "Compare two snapshots from an exported snapshot file",
	Args:  cobra.ExactArgs(3),
	RunE:  runCompare,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall command timeout")

	scanCmd.Flags().BoolVar(&scanParallel, "parallel", true, "scan files in parallel")
	scanCmd.Flags().IntVar(&scanMaxFiles, "max-files", 0, "cap the number of files scanned (0 = no cap)")
	scanCmd.Flags().StringSliceVar(&scanTypes, "types", nil, "only report these leak types")
	scanCmd.Flags().StringSliceVar(&scanSeverity, "severity", nil, "only report these severities")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(compareCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Default(), nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		reports := eng.ScanFile(ctx, root, nil)
		return printJSON(cmd, reports)
	}

	severities := make([]leak.Severity, 0, len(scanSeverity))
	for _, s := range scanSeverity {
		severities = append(severities, leak.Severity(s))
	}
	report, err := eng.ScanProject(ctx, engine.ScanOptions{
		Root:     root,
		Parallel: scanParallel,
		MaxFiles: scanMaxFiles,
		Types:    scanTypes,
		Severity: severities,
	})
	if err != nil {
		return err
	}
	logger.Info("scan finished", zap.String("summary", report.Summary))
	return printJSON(cmd, report)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	snap, err := eng.CreateSnapshot(ctx, id, "cli snapshot")
	if err != nil {
		return err
	}
	return printJSON(cmd, snap)
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if err := eng.ImportSnapshots(data); err != nil {
		return err
	}
	result, err := eng.CompareSnapshots(args[1], args[2])
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
