package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
)

// BatchStats summarizes one batch run.
type BatchStats struct {
	Total        int
	Successful   int
	Failed       int
	FromMappings int
	FromSearch   int
	NoMapping    int
}

// ProgressFunc is invoked periodically with the records resolved so far, in
// input order with unresolved slots still nil.
type ProgressFunc func(done int, records []*domain.ResultRecord)

// BatchRunner resolves many ingredients with a bounded worker pool, keeping
// results in input order.
type BatchRunner struct {
	resolver      *Resolver
	parallelism   int
	progressEvery int
	onProgress    ProgressFunc
	log           zerolog.Logger
}

// NewBatchRunner builds a runner. parallelism below 1 is clamped to 1;
// onProgress may be nil. progressEvery controls how many completions pass
// between progress callbacks.
func NewBatchRunner(resolver *Resolver, parallelism, progressEvery int, onProgress ProgressFunc, logger zerolog.Logger) *BatchRunner {
	if parallelism < 1 {
		parallelism = 1
	}
	if progressEvery < 1 {
		progressEvery = 10
	}
	return &BatchRunner{
		resolver:      resolver,
		parallelism:   parallelism,
		progressEvery: progressEvery,
		onProgress:    onProgress,
		log:           logger.With().Str("component", "batch").Logger(),
	}
}

// Run resolves every ingredient and returns the records in input order, the
// ingredients that did not resolve with usable confidence, and run stats.
// A canceled context stops feeding the pool; already-started resolutions
// finish.
func (b *BatchRunner) Run(ctx context.Context, ingredients []string) ([]*domain.ResultRecord, []string, BatchStats) {
	records := make([]*domain.ResultRecord, len(ingredients))

	jobs := make(chan int)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for w := 0; w < b.parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				record := b.resolver.Resolve(ctx, ingredients[i])

				mu.Lock()
				records[i] = record
				done++
				snapshot := done
				mu.Unlock()

				if b.onProgress != nil && snapshot%b.progressEvery == 0 {
					mu.Lock()
					progress := make([]*domain.ResultRecord, len(records))
					copy(progress, records)
					mu.Unlock()
					b.onProgress(snapshot, progress)
				}
			}
		}()
	}

feed:
	for i := range ingredients {
		select {
		case jobs <- i:
		case <-ctx.Done():
			b.log.Warn().Err(ctx.Err()).Msg("batch canceled")
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	stats := BatchStats{Total: len(ingredients)}
	var failed []string
	for i, record := range records {
		if record == nil {
			stats.Failed++
			failed = append(failed, ingredients[i])
			continue
		}
		switch record.Flag {
		case domain.FlagHighConfidence, domain.FlagMidConfidence:
			stats.Successful++
		default:
			// LOW_CONFIDENCE keeps its record but counts as failed.
			stats.Failed++
			failed = append(failed, record.Ingredient)
		}
		if record.Flag == domain.FlagNoMapping {
			stats.NoMapping++
		}
		if record.FdcID != nil {
			if record.Source == domain.SourceCurated {
				stats.FromMappings++
			} else {
				stats.FromSearch++
			}
		}
	}

	b.log.Info().
		Int("total", stats.Total).
		Int("successful", stats.Successful).
		Int("failed", stats.Failed).
		Msg("batch finished")
	return records, failed, stats
}
