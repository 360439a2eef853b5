package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// pairJob is one (user, product) pair queued for a pass
type pairJob struct {
	user    domain.User
	product domain.Product
}

// processPairs fans jobs out over a fixed pool of workers. Each pair is
// handled by exactly one worker, so its rows are written sequentially.
func (p *Pass) processPairs(ctx context.Context, asOf time.Time, jobs []pairJob) domain.PassReport {
	workerCount := p.cfg.Workers
	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}

	jobChan := make(chan pairJob, len(jobs))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total domain.PassReport
	)

	// Start workers
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				r := p.processPair(ctx, asOf, job)
				if r.Errors > 0 {
					log.Warn().
						Int("worker", workerID).
						Int64("user_id", job.user.ID).
						Int64("product_id", job.product.ID).
						Int("errors", r.Errors).
						Msg("pair finished with errors")
				}
				mu.Lock()
				total.Merge(r)
				mu.Unlock()
			}
		}(i)
	}

	// Enqueue jobs
	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	wg.Wait()
	return total
}

// processPair runs the actual day and then the projection walk of one pair.
// A panic is contained to the pair and reported as an errored unit.
func (p *Pass) processPair(ctx context.Context, asOf time.Time, job pairJob) (report domain.PassReport) {
	defer func() {
		if r := recover(); r != nil {
			report.Fail(job.user.ID, job.product.ID, asOf, stagePanic, fmt.Errorf("panic: %v", r))
			log.Error().
				Int64("user_id", job.user.ID).
				Int64("product_id", job.product.ID).
				Str("stack", string(debug.Stack())).
				Msgf("recovered from panic: %v", r)
		}
	}()

	pr, err := loadPair(ctx, p.store, job.user, job.product, asOf, p.cfg.HorizonDays)
	if err != nil {
		report.Fail(job.user.ID, job.product.ID, asOf, stageLoad, err)
		log.Error().Err(err).
			Int64("user_id", job.user.ID).
			Int64("product_id", job.product.ID).
			Msg("failed to load pair")
		return report
	}

	report.Merge(p.actuals.Process(ctx, pr))
	report.Merge(p.projections.Walk(ctx, pr))
	return report
}
