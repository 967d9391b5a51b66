package offload

import "errors"

var (
	// ErrWorkerFailure means the background query worker exited unexpectedly.
	// The store itself is unaffected; callers fall back to inline reads until
	// the pool reinitializes.
	ErrWorkerFailure = errors.New("query worker failed")

	// ErrQueryTimeout is caller-side only: the waiting caller gave up. The
	// worker is not interrupted and its result is discarded.
	ErrQueryTimeout = errors.New("query timed out")
)
