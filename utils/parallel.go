// Package utils contains shared helpers for spreading numerical work across
// goroutines.
package utils

import (
	"runtime"
	"sync"

	goutils "go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. Useful to lower in
// tests where extra goroutines slow things down in aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelRanges splits [0, n) into contiguous subranges, one per worker, and
// runs fn(from, to) on each concurrently. Workers receive disjoint ranges, so
// fn may write to per-index slots without locking. When n is below minPerWorker
// the loop runs serially; goroutine fan-out costs more than it saves on small
// inputs.
func ParallelRanges(n, minPerWorker int, fn func(from, to int)) {
	if n <= 0 {
		return
	}
	workers := ParallelFactor
	if minPerWorker > 0 && n/minPerWorker < workers {
		workers = n / minPerWorker
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := n / workers
	extra := n % workers
	var wait sync.WaitGroup
	wait.Add(workers)
	from := 0
	for w := 0; w < workers; w++ {
		to := from + chunk
		if w < extra {
			to++
		}
		fromCopy, toCopy := from, to
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			fn(fromCopy, toCopy)
		})
		from = to
	}
	wait.Wait()
}
