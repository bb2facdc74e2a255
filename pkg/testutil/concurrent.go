package testutil

import (
	"errors"
	"sync"

	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
)

// ConcurrentResult tallies the outcomes of a RunConcurrent batch.
type ConcurrentResult struct {
	Successes     int32
	Conflicts     int32
	InvalidStates int32
	Errors        int32

	// Failures keeps the unclassified errors for assertion messages.
	Failures []error
}

// Total returns the number of calls that completed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.InvalidStates + r.Errors
}

func (r *ConcurrentResult) record(err error) {
	switch {
	case err == nil:
		r.Successes++
	case errors.Is(err, sentinel.ErrConflict), dErrors.HasCode(err, dErrors.CodeConflict):
		r.Conflicts++
	case errors.Is(err, sentinel.ErrInvalidState), dErrors.HasCode(err, dErrors.CodeInvalidState):
		r.InvalidStates++
	default:
		r.Errors++
		r.Failures = append(r.Failures, err)
	}
}

// RunConcurrent starts n goroutines that all call fn at the same moment and
// classifies their errors by store sentinel or domain code. Holding the
// goroutines behind a gate maximises contention on the code under test.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		gate   = make(chan struct{})
		result = &ConcurrentResult{}
	)

	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			<-gate
			err := fn(i)

			mu.Lock()
			result.record(err)
			mu.Unlock()
		}()
	}
	close(gate)
	wg.Wait()

	return result
}
