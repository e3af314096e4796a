package worker

import (
	"context"
	"sync"

	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/source"
)

// Pool manages concurrent processing of input files.
type Pool struct {
	Workers  int
	Options  Options
	Progress progress.Manager
}

// Run processes all locations concurrently and returns results in input
// order.
func (p *Pool) Run(ctx context.Context, locations []string) []PipelineResult {
	results := make([]PipelineResult, len(locations))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var complete, failed int
	var findings int64

	for i, loc := range locations {
		wg.Add(1)
		go func(idx int, l string) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = PipelineResult{Source: l, Kind: source.KindOf(l), Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := p.Progress.NewTracker(idx, len(locations), source.Name(l))
			result := RunPipeline(ctx, l, p.Options, tracker)
			results[idx] = *result
			if result.Err != nil {
				tracker.Fail(result.Err)
			} else {
				tracker.Done()
			}

			mu.Lock()
			complete++
			if result.Err != nil {
				failed++
			}
			findings += int64(result.Findings())
			p.Progress.SetOverallStats(complete, failed, findings)
			mu.Unlock()
		}(i, loc)
	}

	wg.Wait()
	return results
}
