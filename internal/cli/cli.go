// Package cli implements the tcfleet command surface: bulk updates, single
// device deploys, route registration and a standalone discovery sweep.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent/sshagent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/logger"
)

const usageText = `tcfleet - TwinCAT fleet boot-image update tool

Usage:
  tcfleet update   -inventory <csv> -source <dir> [-parallel] [-max-concurrent N] [-force] ...
  tcfleet deploy   -host <device> -source <dir> [-restart] [-force] ...
  tcfleet routes   -routes <csv> ...
  tcfleet discover [-timeout <dur>] ...

Run 'tcfleet <command> -h' for command flags.
`

// interruptExitCode follows the shell convention of 128 + SIGINT.
const interruptExitCode = 130

// trapInterrupt makes an operator interrupt leave a trace and a
// deterministic exit code instead of the default signal death. The returned
// stop function releases the handler.
func trapInterrupt(exit func(int)) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "cancelled by operator")
			exit(interruptExitCode)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Run dispatches a subcommand and returns the process exit code.
func Run(args []string) int {
	stop := trapInterrupt(os.Exit)
	defer stop()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 1
	}

	switch args[0] {
	case "update":
		return runUpdate(args[1:])
	case "deploy":
		return runDeploy(args[1:])
	case "routes":
		return runRoutes(args[1:])
	case "discover":
		return runDiscover(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usageText)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 1
	}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	user     string
	password string
	identity string
	logFile  string
	logLevel string
	timeout  time.Duration
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.user, "user", "Administrator", "SSH user on the devices")
	fs.StringVar(&c.password, "password", "", "SSH password (or set -identity)")
	fs.StringVar(&c.identity, "identity", "", "SSH private key file")
	fs.StringVar(&c.logFile, "log-file", "", "mirror log output to this file")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level (trace..error)")
	fs.DurationVar(&c.timeout, "timeout", 3*time.Second, "discovery and route timeout")
}

func (c *commonFlags) sshConfig() sshagent.Config {
	return sshagent.Config{
		User:             c.user,
		Password:         c.password,
		IdentityFile:     c.identity,
		DiscoveryTimeout: c.timeout,
	}
}

func (c *commonFlags) buildLogger() (zerolog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:  c.logLevel,
		Output: "stderr",
		File:   c.logFile,
	})
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
