package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent/sshagent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/inventory"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/logger"
)

// runRoutes registers communication routes for every device in a credentials
// file. Existing routes are skipped, and one device's failure never stops
// the rest.
func runRoutes(args []string) int {
	fs := flag.NewFlagSet("routes", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	routesPath := fs.String("routes", "", "route credentials CSV (required)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log, closer, err := common.buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closeQuietly(closer)

	if *routesPath == "" {
		log.Error().Msg("-routes is required")
		return 1
	}

	routes, err := inventory.LoadRoutes(*routesPath)
	if err != nil {
		log.Error().Err(err).Str("routes", *routesPath).Msg("route file rejected")
		return 1
	}

	ctx := context.Background()

	failed := 0
	for _, r := range routes {
		addr := r.Name
		if r.UseIP && r.IP != "" {
			addr = r.IP
		}
		rlog := log.With().Str("device", r.Name).Str("address", addr).Logger()

		// The route file's credentials double as the SSH login for the
		// existence check unless explicit flags override them.
		cfg := common.sshConfig()
		if cfg.Password == "" && cfg.IdentityFile == "" {
			cfg.User, cfg.Password = r.User, r.Password
		}
		dev := sshagent.New(cfg, logger.WithComponent(log, "agent"))

		// Route creation prompts on the device when a route already exists,
		// so always check first.
		exists, err := dev.HasRoute(ctx, addr)
		if err != nil {
			rlog.Error().Err(err).Msg("route check failed")
			failed++
			continue
		}
		if exists {
			rlog.Info().Msg("route already registered; skipping")
			continue
		}

		cred := agent.Credential{User: r.User, Password: r.Password}
		if err := dev.RegisterRoute(ctx, addr, cred); err != nil {
			rlog.Error().Err(err).Msg("route registration failed")
			failed++
			continue
		}
		rlog.Info().Msg("route registered")
	}

	log.Info().Int("total", len(routes)).Int("failed", failed).Msg("route registration finished")
	if failed > 0 {
		return 1
	}
	return 0
}
