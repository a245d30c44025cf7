package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent/sshagent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/inventory"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/logger"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/report"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/resolve"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/update"
)

func runUpdate(args []string) int {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	inventoryPath := fs.String("inventory", "", "fleet inventory CSV (required)")
	sourcePath := fs.String("source", "", "local boot-image folder (required)")
	parallel := fs.Bool("parallel", false, "update devices concurrently")
	maxConcurrent := fs.Int("max-concurrent", update.DefaultLimit, "max devices in flight with -parallel")
	force := fs.Bool("force", false, "restart without confirmation prompts")
	reportDir := fs.String("report-dir", ".", "directory for the CSV report")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log, closer, err := common.buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closeQuietly(closer)

	runID := uuid.NewString()
	log = log.With().Str("run_id", runID).Logger()

	specs, err := preflight(log, *inventoryPath, *sourcePath, &common)
	if err != nil {
		return 1
	}

	ctx := context.Background()

	dev := sshagent.New(common.sshConfig(), logger.WithComponent(log, "agent"))
	resolver := resolve.New(dev, logger.WithComponent(log, "resolve"))

	task := &update.Task{
		Agent:      dev,
		Resolver:   resolver,
		SourceRoot: *sourcePath,
		Force:      *force,
		Confirm:    &update.TerminalConfirmer{In: os.Stdin, Out: os.Stderr},
		Log:        logger.WithComponent(log, "update"),
	}
	exec := &update.Executor{
		Runner:   task,
		Parallel: *parallel,
		Limit:    *maxConcurrent,
		Log:      logger.WithComponent(log, "executor"),
	}

	// Build the discovery cache before any worker spawns so parallel tasks
	// only ever read it. Skipped when every row carries an explicit address.
	if *parallel && anyNeedsDiscovery(specs) {
		resolver.Prime(ctx)
	}

	log.Info().
		Int("devices", len(specs)).
		Bool("parallel", *parallel).
		Int("max_concurrent", *maxConcurrent).
		Str("source", *sourcePath).
		Msg("starting fleet update")

	outcomes := exec.Run(ctx, specs)

	reportLog := logger.WithComponent(log, "report")
	report.Render(reportLog, outcomes)
	if path, err := report.WriteCSV(*reportDir, runID, outcomes); err != nil {
		reportLog.Error().Err(err).Msg("writing report failed")
	} else {
		reportLog.Info().Str("path", path).Msg("report written")
	}

	return report.Summarize(outcomes).ExitCode()
}

func anyNeedsDiscovery(specs []inventory.DeviceSpec) bool {
	for _, s := range specs {
		if s.Address == "" {
			return true
		}
	}
	return false
}

// preflight validates everything that must hold before any device is
// touched. Failures here abort the run with zero outcomes.
func preflight(log zerolog.Logger, inventoryPath, sourcePath string, common *commonFlags) ([]inventory.DeviceSpec, error) {
	if inventoryPath == "" || sourcePath == "" {
		log.Error().Msg("-inventory and -source are required")
		return nil, errors.New("missing required flags")
	}

	specs, err := inventory.Load(inventoryPath)
	if err != nil {
		log.Error().Err(err).Str("inventory", inventoryPath).Msg("inventory rejected")
		return nil, err
	}

	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		log.Error().Str("source", sourcePath).Msg("source folder missing or not a directory")
		return nil, fmt.Errorf("source folder %s unusable", sourcePath)
	}

	if err := validateCredentials(common); err != nil {
		log.Error().Err(err).Msg("credential pre-flight failed")
		return nil, err
	}

	return specs, nil
}

func validateCredentials(common *commonFlags) error {
	if common.identity != "" {
		if _, err := os.Stat(common.identity); err != nil {
			return fmt.Errorf("identity file: %w", err)
		}
		return nil
	}
	if common.password == "" {
		return errors.New("no credentials: set -password or -identity")
	}
	return nil
}
