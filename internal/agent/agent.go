// Package agent defines the Device Agent contract: the low-level operations
// the orchestrator invokes against one remote TwinCAT controller.
package agent

import "context"

// Endpoint is one device answering a discovery sweep.
type Endpoint struct {
	Name    string
	Address string
}

// Credential carries the pass-through login used for route registration.
type Credential struct {
	User     string
	Password string
}

// Agent performs the per-device transport operations. Implementations must
// be safe for concurrent use; the executor calls SyncFiles and Restart from
// multiple workers at once.
type Agent interface {
	// Discover broadcasts a lookup and returns every device that answered
	// before ctx expired. One call resolves the whole fleet.
	Discover(ctx context.Context) ([]Endpoint, error)

	// SyncFiles copies every file under sourceRoot to the device's boot
	// directory, preserving relative paths. The copy is atomic from the
	// caller's perspective: there is no partial rollback on failure.
	SyncFiles(ctx context.Context, address, sourceRoot string) error

	// Restart triggers a TwinCAT runtime restart and returns the log lines
	// the device produced.
	Restart(ctx context.Context, address string) ([]string, error)

	// HasRoute reports whether a communication route to the device already
	// exists. Callers check this before RegisterRoute to keep registration
	// idempotent.
	HasRoute(ctx context.Context, address string) (bool, error)

	// RegisterRoute creates a communication route to the device.
	RegisterRoute(ctx context.Context, address string, cred Credential) error
}
