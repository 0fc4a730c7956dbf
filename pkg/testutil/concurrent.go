package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"sumbandila/pkg/platform/sentinel"
)

// ConcurrentResult counts the outcomes of RunConcurrent by registry sentinel.
type ConcurrentResult struct {
	Successes   int32
	Rejected    int32 // sentinel.ErrInvalidInput
	NotFounds   int32 // sentinel.ErrNotFound
	Unavailable int32 // sentinel.ErrUnavailable
	Errors      int32 // anything else
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Rejected + r.NotFounds + r.Unavailable + r.Errors
}

// RunConcurrent calls fn from n goroutines released at the same moment and
// waits for all of them.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		counts [5]atomic.Int32
		start  = make(chan struct{})
		wg     sync.WaitGroup
	)
	for i := range n {
		wg.Go(func() {
			<-start
			counts[bucket(fn(i))].Add(1)
		})
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:   counts[0].Load(),
		Rejected:    counts[1].Load(),
		NotFounds:   counts[2].Load(),
		Unavailable: counts[3].Load(),
		Errors:      counts[4].Load(),
	}
}

func bucket(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, sentinel.ErrInvalidInput):
		return 1
	case errors.Is(err, sentinel.ErrNotFound):
		return 2
	case errors.Is(err, sentinel.ErrUnavailable):
		return 3
	default:
		return 4
	}
}
