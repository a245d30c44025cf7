// Package report aggregates update outcomes into a summary, console lines
// and a durable CSV record.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/update"
)

// Summary holds the batch counters.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Restarted int
}

// Summarize counts outcomes. Restarted counts devices whose TwinCAT runtime
// actually restarted, not merely those that asked for one.
func Summarize(outcomes []update.Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case update.StatusSuccess:
			s.Succeeded++
		case update.StatusFailed:
			s.Failed++
		}
		if o.Restarted {
			s.Restarted++
		}
	}
	return s
}

// ExitCode maps the summary to the process exit signal: 0 only when every
// device succeeded.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Render logs one line per device (sorted by name for stable display) and
// the final summary. Failed devices are enumerated with their error text.
func Render(log zerolog.Logger, outcomes []update.Outcome) {
	sorted := make([]update.Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Device < sorted[j].Device })

	for _, o := range sorted {
		var ev *zerolog.Event
		if o.Status == update.StatusFailed {
			ev = log.Error().Str("error", o.Error)
		} else {
			ev = log.Info()
		}
		ev.Str("device", o.Device).
			Str("status", string(o.Status)).
			Bool("restart_requested", o.RestartRequested).
			Bool("restarted", o.Restarted).
			Msg("device result")
	}

	s := Summarize(outcomes)
	log.Info().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("restarted", s.Restarted).
		Msg("update run finished")
}

// WriteCSV persists one row per device under dir and returns the file path.
// The filename carries the run timestamp so successive runs never collide.
func WriteCSV(dir, runID string, outcomes []update.Outcome) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("update-report-%s.csv", time.Now().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"device", "status", "restart_requested", "restarted", "error", "timestamp", "run_id"}); err != nil {
		return "", err
	}
	for _, o := range outcomes {
		row := []string{
			o.Device,
			string(o.Status),
			fmt.Sprintf("%t", o.RestartRequested),
			fmt.Sprintf("%t", o.Restarted),
			o.Error,
			o.Timestamp.Format(time.RFC3339),
			runID,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
