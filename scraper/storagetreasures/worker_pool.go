package storagetreasures

import (
	"context"
	"sort"
	"sync"

	"auction-scraper/models"
)

type pageFetch struct {
	Page int
	Raw  *models.RawPage
	Err  error
}

// WorkerPool fetches a window of consecutive pages with the same recipe.
// Results come back ordered by page, whatever order they finished in.
type WorkerPool struct {
	fetcher PageFetcher
	workers int
	jobs    chan int
	results chan pageFetch
	wg      sync.WaitGroup
}

func NewWorkerPool(fetcher PageFetcher, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{fetcher: fetcher, workers: workers}
}

func (p *WorkerPool) FetchWindow(ctx context.Context, recipe *Recipe, scope models.Scope, pages []int) []pageFetch {
	if len(pages) == 0 {
		return nil
	}
	p.jobs = make(chan int, len(pages))
	p.results = make(chan pageFetch, len(pages))

	workerCount := p.workers
	if len(pages) < workerCount {
		workerCount = len(pages)
	}

	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker(ctx, recipe, scope)
	}

	for _, page := range pages {
		p.jobs <- page
	}
	close(p.jobs)

	go func() {
		p.wg.Wait()
		close(p.results)
	}()

	return p.collect()
}

func (p *WorkerPool) worker(ctx context.Context, recipe *Recipe, scope models.Scope) {
	defer p.wg.Done()

	for page := range p.jobs {
		raw, err := p.fetcher.FetchPage(ctx, recipe, scope, page)
		p.results <- pageFetch{Page: page, Raw: raw, Err: err}
	}
}

func (p *WorkerPool) collect() []pageFetch {
	var all []pageFetch
	for result := range p.results {
		all = append(all, result)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Page < all[j].Page })
	return all
}
