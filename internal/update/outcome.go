// Package update contains the per-device update task and the
// concurrency-bounded executor that fans it out across the fleet.
package update

import "time"

// Status is the terminal state of a device update.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is the immutable per-device result record. Exactly one Outcome
// exists per inventory row after a run.
type Outcome struct {
	Device string `json:"device"`
	Status Status `json:"status"`
	// RestartRequested mirrors the inventory row's restart flag.
	RestartRequested bool `json:"restartRequested"`
	// Restarted is true only when the TwinCAT restart actually ran. A
	// declined confirmation leaves it false without failing the update.
	Restarted bool      `json:"restarted"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func success(device string, restartRequested, restarted bool) Outcome {
	return Outcome{
		Device:           device,
		Status:           StatusSuccess,
		RestartRequested: restartRequested,
		Restarted:        restarted,
		Timestamp:        time.Now().UTC(),
	}
}

func failure(device string, restartRequested bool, msg string) Outcome {
	return Outcome{
		Device:           device,
		Status:           StatusFailed,
		RestartRequested: restartRequested,
		Error:            msg,
		Timestamp:        time.Now().UTC(),
	}
}
