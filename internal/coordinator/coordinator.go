// Package coordinator serializes all writes to the remote record.
//
// The remote store offers no optimistic concurrency: no ETag, no
// version check. A field-preserving merge computed against stale data
// would silently discard a concurrent write, so the coordinator allows
// exactly one in-flight write per client, ever. A single FIFO queue
// with an isSaving guard is the whole concurrency story; reconciliation
// and scheduling are pure functions and live elsewhere.
//
// Failure policy:
//   - Transient errors retry with exponential backoff, up to MaxRetries
//     attempts, then fail the operation's outcome and advance the queue.
//     One permanently-failing operation never blocks the ones behind it
//     beyond its own retry budget.
//   - Authorization errors get exactly one token refresh, then rejoin
//     the normal retry path (with the stale token if refresh failed).
//   - A missing record id fails immediately: retrying cannot conjure an
//     identifier.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cardbank/cardbank/internal/store"
)

// OpType names the kind of save operation, for logging.
type OpType string

const (
	OpSave      OpType = "save"
	OpAddToBank OpType = "add_to_bank"
)

// errTerminal wraps failures that must not be retried.
var errTerminal = errors.New("terminal")

// ErrQueueClosed is delivered to operations still queued at shutdown.
var ErrQueueClosed = errors.New("save queue closed")

// RecordStore is the slice of the store client the coordinator needs.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (store.Record, error)
	UpdateRecord(ctx context.Context, id string, fields store.Record) error
}

// TokenRefresher performs one token refresh attempt.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Clock abstracts time so backoff is testable without wall-clock waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Operation is one queued unit of work. Created on every save request,
// destroyed on terminal success or exhausted retries.
type Operation struct {
	Type     OpType
	RecordID string

	// Fields is the payload: field name to encoded value.
	Fields store.Record

	// PreserveFields requests a read-before-write merge: fields this
	// operation does not set are copied forward from the current remote
	// record so the write cannot truncate state owned by other features.
	PreserveFields bool

	EnqueuedAt time.Time

	// Retry state lives on the operation itself, so a stale timer for a
	// since-completed operation has nothing to touch.
	attempts    int
	authRetried bool

	outcome chan error
}

// Config holds coordinator tuning.
type Config struct {
	// MaxRetries is the total number of attempts per operation.
	MaxRetries int

	// BaseDelay seeds the exponential backoff: delay for attempt n is
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration

	// Clock defaults to the real clock.
	Clock Clock

	// Logger for queue activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Clock:      realClock{},
		Logger:     log.New(os.Stderr, "[coordinator] ", log.LstdFlags),
	}
}

// Coordinator owns the operation queue. The queue and the saving flag
// are private; Enqueue and the outcome channel are the whole surface.
type Coordinator struct {
	store   RecordStore
	tokens  TokenRefresher
	config  *Config
	onSaved func(recordID string)

	mu     sync.Mutex
	queue  []*Operation
	saving bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator. tokens may be nil when no refresh endpoint
// exists; authorization failures then go straight to the retry path.
func New(recordStore RecordStore, tokens TokenRefresher, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = realClock{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[coordinator] ", log.LstdFlags)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:  recordStore,
		tokens: tokens,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnSaved registers a hook invoked after every successful write, with
// the record id. Used to refresh local caches. Must be set before the
// first Enqueue.
func (c *Coordinator) OnSaved(fn func(recordID string)) {
	c.onSaved = fn
}

// Enqueue appends an operation and starts the queue if idle. The
// returned channel delivers exactly one value: nil on success, the
// terminal error otherwise.
func (c *Coordinator) Enqueue(op *Operation) <-chan error {
	op.outcome = make(chan error, 1)
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = c.config.Clock.Now()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		op.outcome <- ErrQueueClosed
		return op.outcome
	}
	c.queue = append(c.queue, op)
	depth := len(c.queue)
	start := !c.saving
	if start {
		c.saving = true
	}
	c.mu.Unlock()

	c.config.Logger.Printf("Enqueued %s for record %s (depth %d)", op.Type, op.RecordID, depth)

	if start {
		c.wg.Add(1)
		go c.processQueue()
	}
	return op.outcome
}

// QueueDepth reports how many operations are waiting or in flight.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Saving reports whether an operation is currently in flight.
func (c *Coordinator) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// Close stops the queue. Operations still waiting are failed with
// ErrQueueClosed. Blocks until the worker goroutine exits.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.saving = false
	c.mu.Unlock()

	for _, op := range pending {
		op.outcome <- ErrQueueClosed
	}
}

// processQueue drains the queue one operation at a time. The head is
// popped only on a terminal result; a retryable failure keeps it in
// place and sleeps out the backoff first.
func (c *Coordinator) processQueue() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.saving = false
			c.mu.Unlock()
			return
		}
		op := c.queue[0]
		c.mu.Unlock()

		err := c.attempt(op)
		if err == nil {
			c.finish(op, nil)
			if c.onSaved != nil {
				c.onSaved(op.RecordID)
			}
			continue
		}

		if errors.Is(err, errTerminal) || op.attempts >= c.config.MaxRetries {
			c.config.Logger.Printf("Operation %s failed permanently after %d attempt(s): %v",
				op.Type, op.attempts, err)
			c.finish(op, err)
			continue
		}

		delay := c.config.BaseDelay << (op.attempts - 1)
		c.config.Logger.Printf("Operation %s attempt %d/%d failed, retrying in %v: %v",
			op.Type, op.attempts, c.config.MaxRetries, delay, err)

		select {
		case <-c.config.Clock.After(delay):
		case <-c.ctx.Done():
			c.finish(op, fmt.Errorf("%w: %v", ErrQueueClosed, c.ctx.Err()))
			c.drainPending()
			return
		}
	}
}

// finish pops the head and delivers the outcome.
func (c *Coordinator) finish(op *Operation, err error) {
	c.mu.Lock()
	if len(c.queue) > 0 && c.queue[0] == op {
		c.queue = c.queue[1:]
	}
	c.mu.Unlock()
	op.outcome <- err
}

func (c *Coordinator) drainPending() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.saving = false
	c.mu.Unlock()
	for _, op := range pending {
		op.outcome <- ErrQueueClosed
	}
}

// attempt performs one fetch-merge-write cycle for the operation.
func (c *Coordinator) attempt(op *Operation) error {
	op.attempts++

	if op.RecordID == "" {
		// Retrying cannot fix a missing identifier.
		return fmt.Errorf("%w: operation has no record id", errTerminal)
	}

	payload := op.Fields
	if op.PreserveFields {
		payload = c.preserve(op)
	}

	err := c.store.UpdateRecord(c.ctx, op.RecordID, payload)
	if err == nil {
		c.config.Logger.Printf("Saved record %s (%s, attempt %d)", op.RecordID, op.Type, op.attempts)
		return nil
	}

	if errors.Is(err, store.ErrUnauthorized) && !op.authRetried {
		// Exactly one refresh per operation, then back to the normal
		// retry path. A failed refresh leaves the stale token in place
		// so the operation exhausts its budget instead of hanging.
		op.authRetried = true
		if c.tokens != nil {
			if _, rerr := c.tokens.Refresh(c.ctx); rerr != nil {
				c.config.Logger.Printf("Token refresh failed, continuing with stale token: %v", rerr)
			}
		}
	}

	return err
}

// preserve builds the write payload for a field-preserving merge: every
// known record field the operation does not set is copied forward from
// the current remote value. A failed preserving fetch degrades to an
// unpreserved write; an auxiliary read must never block the save.
func (c *Coordinator) preserve(op *Operation) store.Record {
	current, err := c.store.GetRecord(c.ctx, op.RecordID)
	if err != nil {
		c.config.Logger.Printf("Warning: preserve fetch for %s failed, writing without preservation: %v",
			op.RecordID, err)
		return op.Fields
	}

	payload := make(store.Record, len(op.Fields)+len(store.RecordFields))
	for _, field := range store.RecordFields {
		if v, ok := current[field]; ok {
			payload[field] = v
		}
	}
	for k, v := range op.Fields {
		payload[k] = v
	}
	return payload
}
