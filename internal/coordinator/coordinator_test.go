package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/cardbank/cardbank/internal/store"
)

// fakeClock makes every backoff elapse immediately and counts waits.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.now = f.now.Add(d)
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (f *fakeClock) waited() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration{}, f.waits...)
}

// fakeStore scripts per-call results and records the write order.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string]store.Record
	failures  map[string][]error // recordID -> errors for successive updates
	updates   []store.Record
	updateIDs []string
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  map[string]store.Record{},
		failures: map[string][]error{},
	}
}

func (f *fakeStore) GetRecord(ctx context.Context, id string) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) UpdateRecord(ctx context.Context, id string, fields store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.failures[id]; len(errs) > 0 {
		err := errs[0]
		f.failures[id] = errs[1:]
		if err != nil {
			return err
		}
	}

	// Replace semantics: the record afterwards holds exactly the fields
	// sent, so a write that drops a field is visible to the tests.
	copied := make(store.Record, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.records[id] = copied
	f.updates = append(f.updates, copied)
	f.updateIDs = append(f.updateIDs, id)
	return nil
}

func (f *fakeStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "fresh-token", nil
}

func (f *fakeRefresher) refreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCoordinator(s RecordStore, tokens TokenRefresher) (*Coordinator, *fakeClock) {
	clock := newFakeClock()
	c := New(s, tokens, &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Clock:      clock,
		Logger:     log.New(io.Discard, "", 0),
	})
	return c, clock
}

func TestEnqueueSuccess(t *testing.T) {
	fs := newFakeStore()
	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	outcome := c.Enqueue(&Operation{
		Type:     OpSave,
		RecordID: "rec1",
		Fields:   store.Record{"cardBank": "[]"},
	})

	if err := <-outcome; err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if fs.records["rec1"]["cardBank"] != "[]" {
		t.Errorf("field not written: %v", fs.records["rec1"])
	}
}

// N operations with no failures complete in FIFO order, and the queue
// goes idle exactly once at the end.
func TestQueueFairness(t *testing.T) {
	fs := newFakeStore()
	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	const n = 8
	outcomes := make([]<-chan error, n)
	for i := 0; i < n; i++ {
		outcomes[i] = c.Enqueue(&Operation{
			Type:     OpSave,
			RecordID: "rec1",
			Fields:   store.Record{"seq": fmt.Sprintf("%d", i)},
		})
	}

	for i, ch := range outcomes {
		if err := <-ch; err != nil {
			t.Fatalf("operation %d failed: %v", i, err)
		}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.updates) != n {
		t.Fatalf("expected %d writes, got %d", n, len(fs.updates))
	}
	for i, u := range fs.updates {
		if u["seq"] != fmt.Sprintf("%d", i) {
			t.Errorf("write %d carried seq %q; FIFO order violated", i, u["seq"])
		}
	}
	// The worker flips saving off just after the last outcome lands.
	deadline := time.Now().Add(time.Second)
	for c.Saving() {
		if time.Now().After(deadline) {
			t.Fatal("queue never went idle after all outcomes delivered")
		}
		time.Sleep(time.Millisecond)
	}
}

// An operation that always fails is attempted exactly MaxRetries times,
// then rejected, and the next operation still runs.
func TestRetryBound(t *testing.T) {
	fs := newFakeStore()
	boom := errors.New("server exploded")
	fs.failures["rec1"] = []error{boom, boom, boom, boom, boom}
	fs.records["rec2"] = store.Record{}

	c, clock := newTestCoordinator(fs, nil)
	defer c.Close()

	failing := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})
	following := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec2", Fields: store.Record{"b": "2"}})

	if err := <-failing; !errors.Is(err, boom) {
		t.Fatalf("expected the store error, got %v", err)
	}
	if err := <-following; err != nil {
		t.Fatalf("queued operation blocked by failing predecessor: %v", err)
	}

	// 3 attempts means 2 backoff waits: base, then base*2.
	waits := clock.waited()
	if len(waits) != 2 {
		t.Fatalf("expected 2 backoff waits, got %v", waits)
	}
	if waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("backoff not exponential: %v", waits)
	}

	fs.mu.Lock()
	remaining := len(fs.failures["rec1"])
	fs.mu.Unlock()
	if got := 5 - remaining; got != 3 {
		t.Errorf("operation attempted %d times, want exactly 3", got)
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	fs := newFakeStore()
	fs.failures["rec1"] = []error{errors.New("blip")}

	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	outcome := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})
	if err := <-outcome; err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if fs.updateCount() != 1 {
		t.Errorf("expected exactly 1 successful write, got %d", fs.updateCount())
	}
}

func TestMissingRecordIDFailsImmediately(t *testing.T) {
	fs := newFakeStore()
	c, clock := newTestCoordinator(fs, nil)
	defer c.Close()

	outcome := c.Enqueue(&Operation{Type: OpSave, Fields: store.Record{"a": "1"}})

	if err := <-outcome; err == nil {
		t.Fatal("operation without record id must fail")
	}
	if len(clock.waited()) != 0 {
		t.Error("missing record id must not be retried")
	}
	if fs.updateCount() != 0 {
		t.Error("no write should have been attempted")
	}
}

// Two back-to-back preserving saves each copy forward the fields they
// do not set; a field neither touches keeps its pre-existing value.
func TestPreserveFieldsAcrossConsecutiveSaves(t *testing.T) {
	fs := newFakeStore()
	fs.records["rec1"] = store.Record{
		store.FieldColorMap:  `{"Physics":"#e6194b"}`,
		store.FieldCardBank:  `[]`,
		store.FieldLastSaved: "2026-01-01T00:00:00Z",
	}

	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	first := c.Enqueue(&Operation{
		Type: OpSave, RecordID: "rec1", PreserveFields: true,
		Fields: store.Record{store.FieldCardBank: `[{"id":"c1"}]`},
	})
	second := c.Enqueue(&Operation{
		Type: OpSave, RecordID: "rec1", PreserveFields: true,
		Fields: store.Record{store.FieldTopicLists: `[{"subject":"Maths"}]`},
	})

	if err := <-first; err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	final := fs.records["rec1"]
	if final[store.FieldColorMap] != `{"Physics":"#e6194b"}` {
		t.Errorf("untouched field truncated: %q", final[store.FieldColorMap])
	}
	if final[store.FieldCardBank] != `[{"id":"c1"}]` {
		t.Errorf("first save's field lost: %q", final[store.FieldCardBank])
	}
	if final[store.FieldTopicLists] != `[{"subject":"Maths"}]` {
		t.Errorf("second save's field lost: %q", final[store.FieldTopicLists])
	}
}

// A failed preserving fetch degrades to an unpreserved write instead of
// blocking the save.
func TestPreserveFetchFailureDegrades(t *testing.T) {
	fs := newFakeStore()
	fs.getErr = errors.New("fetch down")
	fs.records["rec1"] = store.Record{}

	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	outcome := c.Enqueue(&Operation{
		Type: OpSave, RecordID: "rec1", PreserveFields: true,
		Fields: store.Record{"a": "1"},
	})

	if err := <-outcome; err != nil {
		t.Fatalf("save should proceed without preservation: %v", err)
	}
}

// An authorization failure triggers exactly one token refresh, after
// which the normal retry path resumes and succeeds.
func TestAuthRefreshOnce(t *testing.T) {
	fs := newFakeStore()
	authErr := fmt.Errorf("put: %w", store.ErrUnauthorized)
	fs.failures["rec1"] = []error{authErr}
	refresher := &fakeRefresher{}

	c, _ := newTestCoordinator(fs, refresher)
	defer c.Close()

	outcome := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})
	if err := <-outcome; err != nil {
		t.Fatalf("save should recover after refresh: %v", err)
	}
	if refresher.refreshCalls() != 1 {
		t.Errorf("refresh called %d times, want 1", refresher.refreshCalls())
	}
}

// When refresh fails too, the operation exhausts its retry budget with
// the stale token instead of hanging, and refresh is still tried once.
func TestAuthRefreshFailureFallsThrough(t *testing.T) {
	fs := newFakeStore()
	authErr := fmt.Errorf("put: %w", store.ErrUnauthorized)
	fs.failures["rec1"] = []error{authErr, authErr, authErr, authErr}
	refresher := &fakeRefresher{err: errors.New("refresh down")}

	c, _ := newTestCoordinator(fs, refresher)
	defer c.Close()

	outcome := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})

	if err := <-outcome; !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after exhausted retries, got %v", err)
	}
	if refresher.refreshCalls() != 1 {
		t.Errorf("refresh called %d times, want exactly 1", refresher.refreshCalls())
	}
}

func TestOnSavedHook(t *testing.T) {
	fs := newFakeStore()
	c, _ := newTestCoordinator(fs, nil)
	defer c.Close()

	var mu sync.Mutex
	var saved []string
	c.OnSaved(func(id string) {
		mu.Lock()
		saved = append(saved, id)
		mu.Unlock()
	})

	outcome := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})
	if err := <-outcome; err != nil {
		t.Fatalf("save failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(saved) != 1 || saved[0] != "rec1" {
		t.Errorf("OnSaved hook saw %v, want [rec1]", saved)
	}
}

func TestCloseFailsPending(t *testing.T) {
	fs := newFakeStore()
	boom := errors.New("down")
	fs.failures["rec1"] = []error{boom, boom, boom}

	clock := newFakeClock()
	// A coordinator whose clock never fires keeps the head op parked in
	// backoff so Close has something to drain.
	blocked := make(chan time.Time)
	c := New(fs, nil, &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Clock:      &blockingClock{fakeClock: clock, ch: blocked},
		Logger:     log.New(io.Discard, "", 0),
	})

	first := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec1", Fields: store.Record{"a": "1"}})
	second := c.Enqueue(&Operation{Type: OpSave, RecordID: "rec2", Fields: store.Record{"b": "2"}})

	c.Close()

	if err := <-first; !errors.Is(err, ErrQueueClosed) {
		t.Errorf("in-flight op should fail with ErrQueueClosed, got %v", err)
	}
	if err := <-second; !errors.Is(err, ErrQueueClosed) {
		t.Errorf("pending op should fail with ErrQueueClosed, got %v", err)
	}
}

type blockingClock struct {
	*fakeClock
	ch chan time.Time
}

func (b *blockingClock) After(d time.Duration) <-chan time.Time { return b.ch }
