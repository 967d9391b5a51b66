// Package offload serves read queries against the shadow store from a single
// persistent background worker, so a cold-start read over a large contact set
// never blocks the foreground caller. The worker opens its own store handle;
// WAL mode keeps its reads from blocking, or being blocked by, foreground
// writes. Requests are correlated by generated ids, identical concurrent
// requests share one execution, and a crashed worker fails everything pending
// and is reinitialized on the next read.
package offload

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/shadowbook/internal/bus"
	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/shadow"
)

// Kind names a read query type.
type Kind string

const (
	KindSorted Kind = "sorted"
	KindSearch Kind = "search"
	KindStats  Kind = "stats"
)

// Request describes one read query. Query and Limit only apply to KindSearch.
type Request struct {
	UserID string
	Kind   Kind
	Query  string
	Limit  int
}

// dedupKey identifies an in-flight request for coalescing. Search arguments
// are part of the key; two searches with different needles are not identical.
func (r Request) dedupKey() string {
	return strings.Join([]string{r.UserID, string(r.Kind), r.Query, strconv.Itoa(r.Limit)}, "\x00")
}

// Result carries the answer of a read query. Exactly one field is populated,
// matching the request kind.
type Result struct {
	Contacts []identity.Contact
	Stats    []shadow.SourceStats
}

// Recorder receives pool observability signals. Implementations must be safe
// for concurrent use; a nil Recorder disables recording.
type Recorder interface {
	QueryDuration(ctx context.Context, kind string, d time.Duration)
	DedupHit(ctx context.Context)
	WorkerRestart(ctx context.Context)
}

type outcome struct {
	res Result
	err error
}

// pending correlates a request id to its completion handle. Destroyed on
// completion, caller timeout, or worker failure.
type pending struct {
	id       string
	key      string
	resolved chan struct{}
	out      outcome
	waiters  int
}

type task struct {
	req Request
	pd  *pending
}

// Pool owns the background query worker and its pending-request table. It is
// an explicit object with a Start/Close lifecycle; create one per store.
type Pool struct {
	dbPath   string
	dbKey    string
	fallback *shadow.Store
	eventBus *bus.Bus
	metrics  Recorder
	logger   *slog.Logger
	grace    time.Duration

	mu         sync.Mutex
	ready      bool
	closed     bool
	started    bool
	starting   chan struct{}
	reqCh      chan task
	stopCh     chan struct{}
	workerDone chan struct{}
	pending    map[string]*pending
	inflight   map[string]*pending
	restarts   int

	// execHook runs in the worker before each query execution; tests use it
	// to observe, stall, or crash the worker.
	execHook func(Request)
}

// New builds a pool for the store at dbPath. The fallback store serves inline
// reads whenever the worker is not ready; eventBus and metrics may be nil.
func New(dbPath, dbKey string, fallback *shadow.Store, eventBus *bus.Bus, metrics Recorder, logger *slog.Logger) *Pool {
	return &Pool{
		dbPath:   dbPath,
		dbKey:    dbKey,
		fallback: fallback,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger,
		grace:    2 * time.Second,
		pending:  make(map[string]*pending),
		inflight: make(map[string]*pending),
	}
}

// Start initializes the worker once: it opens the worker's own store handle
// and waits for the readiness acknowledgement. A failed Start leaves the pool
// not ready; reads then run inline and the next read retries initialization.
func (p *Pool) Start(ctx context.Context) error {
	return p.ensureReady(ctx)
}

// ensureReady initializes the worker once; concurrent callers during a cold
// start block on the same initialization attempt instead of each spawning a
// worker. Only the caller holding the starting latch launches the goroutine.
func (p *Pool) ensureReady(ctx context.Context) error {
	var restart bool
	var startingCh chan struct{}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return fmt.Errorf("%w: pool closed", ErrWorkerFailure)
		}
		if p.ready {
			p.mu.Unlock()
			return nil
		}
		if p.starting != nil {
			wait := p.starting
			p.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrWorkerFailure, ctx.Err())
			}
			continue
		}
		startingCh = make(chan struct{})
		p.starting = startingCh
		restart = p.started
		p.started = true
		p.mu.Unlock()
		break
	}
	settle := func() {
		p.mu.Lock()
		p.starting = nil
		p.mu.Unlock()
		close(startingCh)
	}

	ack := make(chan error, 1)
	reqCh := make(chan task)
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go p.worker(reqCh, stopCh, done, ack)

	select {
	case err := <-ack:
		if err != nil {
			settle()
			p.logger.Error("query worker initialization failed", "error", err)
			return fmt.Errorf("%w: %v", ErrWorkerFailure, err)
		}
	case <-ctx.Done():
		close(stopCh)
		settle()
		return fmt.Errorf("%w: %v", ErrWorkerFailure, ctx.Err())
	}

	p.mu.Lock()
	p.ready = true
	p.reqCh = reqCh
	p.stopCh = stopCh
	p.workerDone = done
	p.starting = nil
	if restart {
		p.restarts++
	}
	p.mu.Unlock()
	close(startingCh)

	if restart {
		if p.metrics != nil {
			p.metrics.WorkerRestart(ctx)
		}
		if p.eventBus != nil {
			p.eventBus.Publish(bus.TopicPoolWorkerRestarted, nil)
		}
		p.logger.Info("query worker reinitialized")
	} else {
		if p.eventBus != nil {
			p.eventBus.Publish(bus.TopicPoolReady, nil)
		}
		p.logger.Info("query worker ready", "db_path", p.dbPath)
	}
	return nil
}

// worker is the single long-lived background goroutine. It owns its own store
// handle, acknowledges readiness once, and executes queued requests in
// sequence. Any exit path, panic included, tears down the pending table.
func (p *Pool) worker(reqCh chan task, stopCh, done chan struct{}, ack chan error) {
	graceful := false
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("query worker panic", "panic", fmt.Sprint(r))
			graceful = false
		}
		p.onWorkerExit(graceful)
		close(done)
	}()

	store, err := shadow.OpenExisting(p.dbPath, p.dbKey, p.logger)
	if err != nil {
		graceful = true // init failure is reported via ack, not as a crash
		ack <- err
		return
	}
	defer store.Close()
	ack <- nil

	for {
		select {
		case <-stopCh:
			graceful = true
			return
		case t := <-reqCh:
			if p.execHook != nil {
				p.execHook(t.req)
			}
			start := time.Now()
			res, err := execute(context.Background(), store, t.req)
			if p.metrics != nil {
				p.metrics.QueryDuration(context.Background(), string(t.req.Kind), time.Since(start))
			}
			p.complete(t.pd, res, err)
		}
	}
}

func execute(ctx context.Context, store *shadow.Store, req Request) (Result, error) {
	switch req.Kind {
	case KindSorted:
		contacts, err := store.SortedContacts(ctx, req.UserID)
		return Result{Contacts: contacts}, err
	case KindSearch:
		contacts, err := store.SearchContacts(ctx, req.UserID, req.Query, req.Limit)
		return Result{Contacts: contacts}, err
	case KindStats:
		stats, err := store.Stats(ctx, req.UserID)
		return Result{Stats: stats}, err
	default:
		return Result{}, fmt.Errorf("unknown query kind %q", req.Kind)
	}
}

// Do runs one read query. When the worker is ready the request is queued and
// coalesced with identical in-flight requests; otherwise it runs inline on
// the fallback store. The caller's context deadline only detaches its own
// wait, the worker keeps running.
func (p *Pool) Do(ctx context.Context, req Request) (Result, error) {
	if err := p.ensureReady(ctx); err != nil {
		p.logger.Warn("query pool not ready, reading inline", "error", err)
		return p.inline(ctx, req)
	}

	key := req.dedupKey()
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return p.inline(ctx, req)
	}
	if pd, ok := p.inflight[key]; ok {
		pd.waiters++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.DedupHit(ctx)
		}
		return p.await(ctx, pd)
	}
	pd := &pending{
		id:       uuid.NewString(),
		key:      key,
		resolved: make(chan struct{}),
		waiters:  1,
	}
	p.pending[pd.id] = pd
	p.inflight[key] = pd
	reqCh := p.reqCh
	p.mu.Unlock()

	select {
	case reqCh <- task{req: req, pd: pd}:
	case <-ctx.Done():
		p.detach(pd)
		return Result{}, fmt.Errorf("%w: %v", ErrQueryTimeout, ctx.Err())
	case <-pd.resolved:
		// Worker failure resolved the handle before the request was queued.
		return pd.out.res, pd.out.err
	}
	return p.await(ctx, pd)
}

// Sorted returns the user's contacts in recency order.
func (p *Pool) Sorted(ctx context.Context, userID string) ([]identity.Contact, error) {
	res, err := p.Do(ctx, Request{UserID: userID, Kind: KindSorted})
	return res.Contacts, err
}

// Search matches contacts by substring across name, phone, email, company.
func (p *Pool) Search(ctx context.Context, userID, query string, limit int) ([]identity.Contact, error) {
	res, err := p.Do(ctx, Request{UserID: userID, Kind: KindSearch, Query: query, Limit: limit})
	return res.Contacts, err
}

// SourceStats reports per-source row counts for the user.
func (p *Pool) SourceStats(ctx context.Context, userID string) ([]shadow.SourceStats, error) {
	res, err := p.Do(ctx, Request{UserID: userID, Kind: KindStats})
	return res.Stats, err
}

func (p *Pool) inline(ctx context.Context, req Request) (Result, error) {
	if p.fallback == nil {
		return Result{}, fmt.Errorf("%w: no fallback store", ErrWorkerFailure)
	}
	return execute(ctx, p.fallback, req)
}

func (p *Pool) await(ctx context.Context, pd *pending) (Result, error) {
	select {
	case <-pd.resolved:
		return pd.out.res, pd.out.err
	case <-ctx.Done():
		p.detach(pd)
		return Result{}, fmt.Errorf("%w: %v", ErrQueryTimeout, ctx.Err())
	}
}

// detach drops one caller's wait. When the last waiter leaves, the pending
// entry and its dedup key are removed so later identical requests issue a
// fresh query instead of attaching to an abandoned one.
func (p *Pool) detach(pd *pending) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pd.waiters--
	if pd.waiters > 0 {
		return
	}
	delete(p.pending, pd.id)
	if cur, ok := p.inflight[pd.key]; ok && cur == pd {
		delete(p.inflight, pd.key)
	}
}

// complete resolves a pending handle with the worker's answer. A handle fully
// detached by caller timeouts is resolved anyway; nobody is listening and the
// result is discarded.
func (p *Pool) complete(pd *pending, res Result, err error) {
	p.mu.Lock()
	delete(p.pending, pd.id)
	if cur, ok := p.inflight[pd.key]; ok && cur == pd {
		delete(p.inflight, pd.key)
	}
	p.mu.Unlock()
	pd.out = outcome{res: res, err: err}
	close(pd.resolved)
}

// onWorkerExit runs on every worker exit path. An unexpected exit fails all
// pending requests, clears the dedup table, and marks the pool not ready so
// the next read reinitializes instead of queueing forever.
func (p *Pool) onWorkerExit(graceful bool) {
	p.mu.Lock()
	p.ready = false
	failed := make([]*pending, 0, len(p.pending))
	for id, pd := range p.pending {
		failed = append(failed, pd)
		delete(p.pending, id)
	}
	p.inflight = make(map[string]*pending)
	p.mu.Unlock()

	for _, pd := range failed {
		pd.out = outcome{err: fmt.Errorf("%w: worker exited", ErrWorkerFailure)}
		close(pd.resolved)
	}
	if !graceful {
		p.logger.Error("query worker exited unexpectedly", "pending_failed", len(failed))
		if p.eventBus != nil {
			p.eventBus.Publish(bus.TopicPoolWorkerFailed, nil)
		}
	}
}

// Close signals a graceful stop and waits up to the grace period for the
// worker to drain. A worker stuck past the grace period is abandoned; its
// store handle is released when the goroutine eventually returns.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ready := p.ready
	stopCh := p.stopCh
	done := p.workerDone
	p.mu.Unlock()

	if !ready {
		return nil
	}
	close(stopCh)
	select {
	case <-done:
	case <-time.After(p.grace):
		p.logger.Warn("query worker did not stop within grace period, abandoning")
	}
	return nil
}
