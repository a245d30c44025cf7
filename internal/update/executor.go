package update

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/inventory"
)

// Runner executes one device's update. Satisfied by *Task; tests substitute
// fakes.
type Runner interface {
	Execute(ctx context.Context, spec inventory.DeviceSpec) Outcome
}

// Executor fans a Runner out over the inventory, sequentially or with a
// bounded worker pool. It always produces exactly one Outcome per spec;
// output order is not guaranteed in parallel mode.
type Executor struct {
	Runner   Runner
	Parallel bool
	// Limit caps simultaneous in-flight tasks in parallel mode.
	Limit int
	Log   zerolog.Logger
}

// DefaultLimit matches the tool's historical default of 5 concurrent devices.
const DefaultLimit = 5

// Run executes the whole batch and blocks until every admitted task has
// reported. A failing or panicking device never stops the others.
func (e *Executor) Run(ctx context.Context, specs []inventory.DeviceSpec) []Outcome {
	if !e.Parallel {
		return e.runSequential(ctx, specs)
	}
	return e.runParallel(ctx, specs)
}

func (e *Executor) runSequential(ctx context.Context, specs []inventory.DeviceSpec) []Outcome {
	outcomes := make([]Outcome, 0, len(specs))
	for _, spec := range specs {
		outcomes = append(outcomes, e.runOne(ctx, spec))
	}
	return outcomes
}

func (e *Executor) runParallel(ctx context.Context, specs []inventory.DeviceSpec) []Outcome {
	limit := e.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > len(specs) {
		limit = len(specs)
	}

	workCh := make(chan inventory.DeviceSpec)
	resultCh := make(chan Outcome, len(specs))

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range workCh {
				resultCh <- e.runOne(ctx, spec)
			}
		}()
	}

	go func() {
		defer close(workCh)
		for _, spec := range specs {
			workCh <- spec
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	outcomes := make([]Outcome, 0, len(specs))
	for out := range resultCh {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// runOne isolates a single task. A panic inside the task body is synthesized
// into a Failed Outcome so the device is never silently dropped.
func (e *Executor) runOne(ctx context.Context, spec inventory.DeviceSpec) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error().Str("device", spec.Name).Interface("panic", r).
				Msg("update task crashed; recording failure")
			out = failure(spec.Name, spec.RestartRequested,
				fmt.Sprintf("update task terminated abnormally: %v", r))
		}
	}()
	return e.Runner.Execute(ctx, spec)
}
