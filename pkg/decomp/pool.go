package decomp

import "sync"

// runParallel divides [0, n) into contiguous chunks, one per worker, and
// runs fn on each chunk concurrently. The first error aborts the pass;
// remaining chunks still run to completion before it is returned.
func runParallel(workers, n int, fn func(start, end int) error) error {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	perWorker := (n + workers - 1) / workers

	errChan := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > n {
			end = n
		}
		if start >= n {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			if err := fn(start, end); err != nil {
				errChan <- err
			}
		}(start, end)
	}
	wg.Wait()
	close(errChan)
	return <-errChan
}
