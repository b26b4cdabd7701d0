// Package parallel implements the bounded work-pool engine of spec.md
// §4.7, wrapping github.com/sourcegraph/conc/pool rather than a
// hand-rolled goroutine pool — conc.Pool already gives bounded
// concurrency, panic propagation, and a graceful Wait(), which is the
// idiom this pack reaches for instead of a raw sync.WaitGroup/channel
// pair.
package parallel

import (
	"runtime"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// SizePolicy selects how Engine picks its worker count.
type SizePolicy int

const (
	// Auto sizes the pool to min(logical-cpus, 16).
	Auto SizePolicy = iota
	// Fixed uses a caller-supplied worker count.
	Fixed
	// Adaptive sizes the pool to logical-cpus/2.
	Adaptive
)

// Engine runs closures on bounded pools of goroutines. Each Execute,
// Run or RunFailFast call builds its own pool capped at Size(); pools
// of nested calls are not shared, so nested calls are each bounded
// separately rather than by one overall limit.
type Engine struct {
	size int
}

// New builds an Engine per the given policy; fixedSize is only
// consulted when policy == Fixed.
func New(policy SizePolicy, fixedSize int) *Engine {
	cpus := runtime.NumCPU()
	var size int
	switch policy {
	case Fixed:
		size = fixedSize
	case Adaptive:
		size = cpus / 2
	default:
		size = cpus
		if size > 16 {
			size = 16
		}
	}
	if size < 1 {
		size = 1
	}
	return &Engine{size: size}
}

// Size returns the engine's configured worker count.
func (e *Engine) Size() int { return e.size }

// Execute runs fn inside the bounded pool, blocking until it returns.
// It exists mainly so callers have a uniform entry point even for a
// single closure; prefer Run/RunFailFast for fan-out.
func (e *Engine) Execute(fn func()) {
	p := pool.New().WithMaxGoroutines(e.size)
	p.Go(fn)
	p.Wait()
}

// IndexedError pairs a failed item's index with its error, used by
// Run's "partial" failure mode.
type IndexedError struct {
	Index int
	Err   error
}

// RunFailFast runs fn over every item in parallel, returning the first
// error encountered (fail-fast mode). Remaining items are not
// cancelled: every item still runs before it returns.
func RunFailFast[T any](e *Engine, items []T, fn func(T) error) error {
	p := pool.New().WithMaxGoroutines(e.size).WithErrors().WithFirstError()
	for _, item := range items {
		item := item
		p.Go(func() error { return fn(item) })
	}
	return p.Wait()
}

// Run runs fn over every item in parallel (partial mode): it collects
// every item's error (nil on success) indexed by its position, rather
// than aborting on the first failure.
func Run[T any](e *Engine, items []T, fn func(T) error) []IndexedError {
	p := pool.New().WithMaxGoroutines(e.size)
	errs := make([]error, len(items))
	for i, item := range items {
		i, item := i, item
		p.Go(func() {
			errs[i] = fn(item)
		})
	}
	p.Wait()

	var failures []IndexedError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, IndexedError{Index: i, Err: err})
		}
	}
	return failures
}

// AutoTune returns a recommended degree of parallelism for a workload
// of the given size and complexity score, per spec.md §4.7: threshold =
// base/complexity (base=1000); below threshold the work runs serially
// (1); otherwise it's split across min(workload/threshold, pool-size)
// workers.
func (e *Engine) AutoTune(workloadSize int, complexity int) int {
	if complexity < 1 {
		complexity = 1
	}
	const base = 1000
	threshold := base / complexity
	if threshold < 1 {
		threshold = 1
	}
	if workloadSize < threshold {
		return 1
	}
	dop := workloadSize / threshold
	if dop < 1 {
		dop = 1
	}
	if dop > e.size {
		dop = e.size
	}
	return dop
}

// Complexity scores a SQL statement's text by counting JOINs, subquery
// depth, CTEs, UNIONs, aggregate functions, window clauses, and overall
// length, per spec.md §4.7. Higher scores lower AutoTune's threshold
// (base/complexity), so a smaller workload is already split across
// workers.
func Complexity(sql string) int {
	lower := strings.ToLower(sql)
	score := 1
	score += strings.Count(lower, "join")
	score += strings.Count(lower, "(select") * 2 // subquery depth proxy
	score += strings.Count(lower, "with ") * 2    // CTEs
	score += strings.Count(lower, "union")
	for _, fn := range []string{"count(", "sum(", "avg(", "min(", "max("} {
		score += strings.Count(lower, fn)
	}
	if strings.Contains(lower, "over (") || strings.Contains(lower, "over(") {
		score += 3
	}
	score += len(sql) / 200
	return score
}
