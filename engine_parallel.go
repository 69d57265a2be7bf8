package surn

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/jward/surn/internal/store"
)

// workItem holds everything a translation worker needs.
type workItem struct {
	index int
	src   Source
	batch *store.BatchedStore
}

// TranslateAll translates every unit into lang. Results are returned in
// input order, one per unit; a failed unit does not stop the others. The
// returned error summarizes the failures.
//
// When WithParallel is enabled (default) units are translated by a worker
// pool. Each worker buffers its cache records in a BatchedStore and a
// single writer commits them, so SQLite sees one writer.
func (e *Engine) TranslateAll(ctx context.Context, lang string, srcs []Source) ([]*Result, error) {
	if !e.useParallel || len(srcs) < 2 {
		return e.translateSerial(ctx, lang, srcs)
	}
	return e.translateParallel(ctx, lang, srcs)
}

func (e *Engine) translateSerial(ctx context.Context, lang string, srcs []Source) ([]*Result, error) {
	results := make([]*Result, len(srcs))
	for i, src := range srcs {
		res, _ := e.Translate(ctx, lang, src)
		results[i] = res
	}
	return results, summarize(results)
}

func (e *Engine) translateParallel(ctx context.Context, lang string, srcs []Source) ([]*Result, error) {
	numWorkers := e.workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = max(1, min(numWorkers, len(srcs)))

	workCh := make(chan workItem, len(srcs))
	for i, src := range srcs {
		item := workItem{index: i, src: src}
		if e.cache != nil {
			item.batch = store.NewBatchedStore(e.cache)
		}
		workCh <- item
	}
	close(workCh)

	type result struct {
		item workItem
		res  *Result
	}
	resultCh := make(chan result, len(srcs))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				var rec store.DataStore
				if item.batch != nil {
					rec = item.batch
				}
				resultCh <- result{item: item, res: e.translate(ctx, lang, item.src, rec)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Single writer: commit each unit's batch as it arrives.
	results := make([]*Result, len(srcs))
	for r := range resultCh {
		results[r.item.index] = r.res
		if r.item.batch == nil || r.item.batch.Len() == 0 {
			continue
		}
		if err := e.cache.CommitBatch(r.item.batch); err != nil {
			e.log.Warn("cache commit failed", "path", r.item.src.Path, "error", err)
		}
	}
	return results, summarize(results)
}

// summarize reports how many passes failed, wrapping the first failure.
func summarize(results []*Result) error {
	var first error
	n := 0
	for _, r := range results {
		if r != nil && r.Err != nil {
			if first == nil {
				first = fmt.Errorf("%s: %w", r.Path, r.Err)
			}
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return fmt.Errorf("surn: %d of %d unit(s) failed: %w", n, len(results), first)
}
