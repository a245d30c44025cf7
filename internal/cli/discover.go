package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent/sshagent"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/logger"
)

// runDiscover performs one broadcast sweep and prints every device that
// answered.
func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log, closer, err := common.buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closeQuietly(closer)

	dev := sshagent.New(common.sshConfig(), logger.WithComponent(log, "agent"))

	endpoints, err := dev.Discover(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("discovery sweep failed")
		return 1
	}

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "%s\t%s\n", ep.Name, ep.Address)
	}
	w.Flush()

	log.Info().Int("devices", len(endpoints)).Msg("discovery sweep finished")
	return 0
}
