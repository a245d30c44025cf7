package update

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/inventory"
	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/resolve"
)

// DeviceTransport is the slice of the Device Agent the task invokes.
type DeviceTransport interface {
	SyncFiles(ctx context.Context, address, sourceRoot string) error
	Restart(ctx context.Context, address string) ([]string, error)
}

// Confirmer gates an unforced restart behind operator approval.
type Confirmer interface {
	// Confirm asks the operator and reports their decision. Declining is not
	// an error; the restart is simply skipped.
	Confirm(prompt string) bool
}

// TerminalConfirmer reads a y/N answer from a console. One prompt runs at a
// time: parallel workers asking for restarts share the console, and a shared
// persistent reader keeps an answer typed ahead of its prompt from being
// dropped between calls.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer

	mu sync.Mutex
	br *bufio.Reader
}

func (c *TerminalConfirmer) Confirm(prompt string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.br == nil {
		c.br = bufio.NewReader(c.In)
	}

	fmt.Fprintf(c.Out, "%s [y/N]: ", prompt)
	line, err := c.br.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Task executes one device's update: resolve the address, sync the boot
// files, optionally restart. Every transport error is converted to a Failed
// Outcome here; nothing escapes to the executor.
type Task struct {
	Agent    DeviceTransport
	Resolver *resolve.Resolver
	// SourceRoot is the local boot-image folder pushed to every device.
	SourceRoot string
	// Force skips the restart confirmation prompt.
	Force   bool
	Confirm Confirmer
	Log     zerolog.Logger
}

// Execute runs the update for one device and always returns an Outcome.
func (t *Task) Execute(ctx context.Context, spec inventory.DeviceSpec) Outcome {
	addr := t.Resolver.Resolve(ctx, spec.Name, spec.Address)

	log := t.Log.With().
		Str("device", spec.Name).
		Str("address", addr.Address).
		Str("address_source", string(addr.Source)).
		Logger()

	if err := t.Agent.SyncFiles(ctx, addr.Address, t.SourceRoot); err != nil {
		log.Error().Err(err).Msg("file sync failed")
		return failure(spec.Name, spec.RestartRequested, fmt.Sprintf("sync: %v", err))
	}
	log.Info().Msg("boot files synced")

	if !spec.RestartRequested {
		return success(spec.Name, false, false)
	}

	if !t.Force {
		prompt := fmt.Sprintf("Restart TwinCAT on %s (%s)?", spec.Name, addr.Address)
		if t.Confirm == nil || !t.Confirm.Confirm(prompt) {
			log.Info().Msg("restart declined; files are in place")
			return success(spec.Name, true, false)
		}
	}

	lines, err := t.Agent.Restart(ctx, addr.Address)
	for _, l := range lines {
		log.Debug().Str("remote", l).Msg("restart output")
	}
	if err != nil {
		log.Error().Err(err).Msg("restart failed")
		return failure(spec.Name, true, fmt.Sprintf("files copied but restart failed: %v", err))
	}

	log.Info().Msg("TwinCAT restarted")
	return success(spec.Name, true, true)
}
