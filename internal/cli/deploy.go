package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent/sshagent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/logger"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/update"
)

// Exit codes for the single-device path. exitRestartFailed distinguishes
// "files copied but restart failed" so callers can retry just the restart.
const (
	exitOK            = 0
	exitFailed        = 1
	exitRestartFailed = 2
)

func runDeploy(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	host := fs.String("host", "", "device address or hostname (required)")
	sourcePath := fs.String("source", "", "local boot-image folder (required)")
	restart := fs.Bool("restart", false, "restart TwinCAT after the copy")
	force := fs.Bool("force", false, "restart without confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	log, closer, err := common.buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitFailed
	}
	defer closeQuietly(closer)

	if *host == "" || *sourcePath == "" {
		log.Error().Msg("-host and -source are required")
		return exitFailed
	}
	if info, err := os.Stat(*sourcePath); err != nil || !info.IsDir() {
		log.Error().Str("source", *sourcePath).Msg("source folder missing or not a directory")
		return exitFailed
	}
	if err := validateCredentials(&common); err != nil {
		log.Error().Err(err).Msg("credential pre-flight failed")
		return exitFailed
	}

	ctx := context.Background()
	dev := sshagent.New(common.sshConfig(), logger.WithComponent(log, "agent"))

	if err := dev.SyncFiles(ctx, *host, *sourcePath); err != nil {
		log.Error().Err(err).Str("device", *host).Msg("file sync failed")
		return exitFailed
	}
	log.Info().Str("device", *host).Msg("boot files synced")

	if !*restart {
		return exitOK
	}

	if !*force {
		confirm := &update.TerminalConfirmer{In: os.Stdin, Out: os.Stderr}
		if !confirm.Confirm(fmt.Sprintf("Restart TwinCAT on %s?", *host)) {
			log.Info().Str("device", *host).Msg("restart declined; files are in place")
			return exitOK
		}
	}

	lines, err := dev.Restart(ctx, *host)
	for _, l := range lines {
		log.Debug().Str("remote", l).Msg("restart output")
	}
	if err != nil {
		log.Error().Err(err).Str("device", *host).Msg("files copied but restart failed")
		return exitRestartFailed
	}

	log.Info().Str("device", *host).Msg("TwinCAT restarted")
	return exitOK
}
