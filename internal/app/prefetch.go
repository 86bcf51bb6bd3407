package app

import (
	"context"
	"sync"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// Ensurer is satisfied by *Fetcher.
type Ensurer interface {
	Ensure(ctx context.Context, videoID string) (FetchResult, error)
}

// Result is the outcome of warming one id.
type Result struct {
	VideoID  string `json:"videoId"`
	Hit      bool   `json:"hit"`
	Strategy string `json:"strategy,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
	Category string `json:"category,omitempty"`
}

// Prefetch warms the cache for ids with a pool of jobs workers. The exit code
// is the highest category code among failures, or 130 when ctx was cancelled
// before any failure was seen.
func Prefetch(ctx context.Context, fetcher Ensurer, ids []string, jobs int) ([]Result, int) {
	if jobs < 1 {
		jobs = 1
	}

	tasks := make(chan string)
	results := make(chan Result, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-tasks:
					if !ok {
						return
					}
					res, err := fetcher.Ensure(ctx, id)
					result := Result{VideoID: id, Hit: res.Hit, Strategy: res.Strategy, Bytes: res.Bytes, Err: err}
					if err != nil {
						result.Error = err.Error()
						result.Category = string(downloader.CategoryOf(err))
					}
					select {
					case results <- result:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

submit:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break submit
		case tasks <- id:
		}
	}
	close(tasks)

	go func() {
		wg.Wait()
		close(results)
	}()

	output := make([]Result, 0, len(ids))
	exitCode := 0
	for res := range results {
		output = append(output, res)
		if res.Err != nil {
			if code := downloader.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
		}
	}

	if ctx.Err() != nil && exitCode == 0 {
		exitCode = 130
	}
	return output, exitCode
}
