package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Write queue defaults. The debounce window collapses bursts of writes to the
// same key; the batch size caps how many store operations are ever in flight
// at once; the batch delay throttles write pressure between batches.
const (
	DefaultDebounceInterval = 100 * time.Millisecond
	DefaultBatchSize        = 5
	DefaultBatchDelay       = 50 * time.Millisecond
	DefaultMaxAttempts      = 3
	DefaultMaxPending       = 4096

	flushPollInterval = 25 * time.Millisecond
)

var errEmptyKey = errors.New("key must not be empty")

// OpType distinguishes queued writes from queued removals.
type OpType string

const (
	OpSet    OpType = "set"
	OpRemove OpType = "remove"
)

// QueuedOperation is one coalesced pending write. Timestamp is epoch
// milliseconds of the most recent enqueue for the key; seq breaks ordering
// ties between operations enqueued in the same millisecond. Exported fields
// survive shutdown persistence.
type QueuedOperation struct {
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Type      OpType `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Attempts  int    `json:"attempts,omitempty"`

	seq uint64
}

// QueueMetrics tracks write queue activity. Fields are updated with atomics;
// read them through Metrics() for a consistent snapshot.
type QueueMetrics struct {
	TotalEnqueued         int64 `json:"total_enqueued"`
	TotalCoalesced        int64 `json:"total_coalesced"`
	TotalFlushed          int64 `json:"total_flushed"`
	TotalRetried          int64 `json:"total_retried"`
	TotalDroppedTransient int64 `json:"total_dropped_transient"`
	TotalDroppedCorrupt   int64 `json:"total_dropped_corrupt"`
	TotalRejected         int64 `json:"total_rejected"`
	FlushPasses           int64 `json:"flush_passes"`
	EmergencySignals      int64 `json:"emergency_signals"`
	CurrentPending        int64 `json:"current_pending"`
}

// WriteQueueOptions configures the write queue. Zero values fall back to the
// package defaults.
type WriteQueueOptions struct {
	// DebounceInterval is the per-key quiet period before a write becomes
	// eligible for flushing. Repeated writes to the same key inside the
	// window replace the pending value and restart the period.
	DebounceInterval time.Duration

	// BatchSize caps concurrent store operations during a flush pass.
	BatchSize int

	// BatchDelay is the pause between batches within a pass.
	BatchDelay time.Duration

	// MaxAttempts bounds retries of transient write failures before the
	// operation is dropped.
	MaxAttempts int

	// MaxPending bounds the number of distinct keys the queue will hold.
	MaxPending int
}

type debounceEntry struct {
	op    *QueuedOperation
	timer *time.Timer
}

// WriteQueue coalesces rapid set/remove calls per key and flushes the result
// in small concurrent batches with an inter-batch delay. Operations live in
// two stages: a debounce stage, where each key has a running quiet-period
// timer, and a ready stage holding operations whose timer has fired. Flush
// passes only ever see the ready stage, so a key inside its debounce window
// is never written early.
//
// Failure policy during a pass: corruption-classified errors drop the
// operation and mark the pass for emergency recovery; transient errors keep
// the operation queued for a later pass, bounded by MaxAttempts.
type WriteQueue struct {
	store  Store
	logger *zap.Logger
	opts   WriteQueueOptions

	mu         sync.Mutex
	debouncing map[string]*debounceEntry

	ready         *PendingWriteMap
	notifications *WriteNotifications

	// processing is the reentrancy guard: exactly one flush pass at a time.
	// rerun records a trigger that arrived mid-pass.
	processing int32
	rerun      int32

	seq    uint64
	closed int32

	stopChan chan struct{}
	stopOnce sync.Once

	metrics QueueMetrics

	// onEmergency is invoked at the end of any flush pass that observed a
	// corruption-classified failure.
	onEmergency func(reason string)
}

// NewWriteQueue creates a write queue over the given store.
func NewWriteQueue(store Store, opts WriteQueueOptions, logger *zap.Logger, onEmergency func(reason string)) *WriteQueue {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultDebounceInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}

	return &WriteQueue{
		store:         store,
		logger:        logger,
		opts:          opts,
		debouncing:    make(map[string]*debounceEntry),
		ready:         NewPendingWriteMap(),
		notifications: NewWriteNotifications(),
		stopChan:      make(chan struct{}),
		onEmergency:   onEmergency,
	}
}

// Set queues a debounced write of value under key.
func (q *WriteQueue) Set(key, value string) error {
	return q.enqueue(key, value, OpSet)
}

// Remove queues a debounced removal of key.
func (q *WriteQueue) Remove(key string) error {
	return q.enqueue(key, "", OpRemove)
}

func (q *WriteQueue) enqueue(key, value string, opType OpType) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrStoreClosed
	}
	if key == "" {
		return errEmptyKey
	}

	op := &QueuedOperation{
		Key:       key,
		Value:     value,
		Type:      opType,
		Timestamp: time.Now().UnixMilli(),
		seq:       atomic.AddUint64(&q.seq, 1),
	}

	q.mu.Lock()
	if entry, exists := q.debouncing[key]; exists {
		// Last write wins: replace in place and restart the quiet period.
		entry.op = op
		entry.timer.Reset(q.opts.DebounceInterval)
		q.mu.Unlock()
		atomic.AddInt64(&q.metrics.TotalEnqueued, 1)
		atomic.AddInt64(&q.metrics.TotalCoalesced, 1)
		return nil
	}

	if _, replacing := q.ready.Load(key); !replacing {
		if len(q.debouncing)+q.ready.Count() >= q.opts.MaxPending {
			q.mu.Unlock()
			atomic.AddInt64(&q.metrics.TotalRejected, 1)
			return ErrQueueFull
		}
	}

	entry := &debounceEntry{op: op}
	entry.timer = time.AfterFunc(q.opts.DebounceInterval, func() { q.promote(key) })
	q.debouncing[key] = entry
	q.mu.Unlock()

	atomic.AddInt64(&q.metrics.TotalEnqueued, 1)
	return nil
}

// promote moves a key whose debounce timer fired into the ready stage and
// triggers a flush pass. Promotion overwrites any older ready operation for
// the same key.
func (q *WriteQueue) promote(key string) {
	q.mu.Lock()
	entry, exists := q.debouncing[key]
	if !exists {
		q.mu.Unlock()
		return
	}
	delete(q.debouncing, key)
	q.mu.Unlock()

	q.ready.Store(key, entry.op)
	q.schedulePass()
}

func (q *WriteQueue) schedulePass() {
	if atomic.LoadInt32(&q.closed) == 1 {
		return
	}
	go q.processQueue()
}

func (q *WriteQueue) scheduleDelayedPass(delay time.Duration) {
	time.AfterFunc(delay, func() {
		if atomic.LoadInt32(&q.closed) == 1 {
			return
		}
		q.processQueue()
	})
}

// processQueue runs a single flush pass over the ready stage: snapshot in
// enqueue order, execute in batches of BatchSize with BatchDelay between
// them, and resolve each operation per the failure policy. Only one pass
// runs at a time; a trigger arriving mid-pass sets the rerun flag and the
// finishing pass schedules the follow-up.
func (q *WriteQueue) processQueue() {
	if !atomic.CompareAndSwapInt32(&q.processing, 0, 1) {
		atomic.StoreInt32(&q.rerun, 1)
		return
	}

	atomic.AddInt64(&q.metrics.FlushPasses, 1)

	emergencySeen := false
	emergencyReason := ""

	ops := q.ready.Snapshot()
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		return ops[i].seq < ops[j].seq
	})

	for start := 0; start < len(ops); start += q.opts.BatchSize {
		end := start + q.opts.BatchSize
		if end > len(ops) {
			end = len(ops)
		}
		batch := ops[start:end]

		results := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, op := range batch {
			wg.Add(1)
			go func(i int, op *QueuedOperation) {
				defer wg.Done()
				results[i] = q.execute(op)
			}(i, op)
		}
		wg.Wait()

		for i, op := range batch {
			err := results[i]
			if err == nil {
				// Pointer-identity delete: a newer operation promoted for
				// the same key mid-flight stays queued.
				if q.ready.CompareAndDelete(op.Key, op) {
					atomic.AddInt64(&q.metrics.TotalFlushed, 1)
					q.notifications.notifyWrite(op.Key, nil)
				}
				continue
			}

			switch classifyStoreError(err) {
			case ErrorKindCorruption:
				emergencySeen = true
				emergencyReason = err.Error()
				if q.ready.CompareAndDelete(op.Key, op) {
					atomic.AddInt64(&q.metrics.TotalDroppedCorrupt, 1)
					q.notifications.notifyWrite(op.Key, err)
				}
				q.logger.Warn("dropping write after corruption-classified failure",
					zap.String("key", op.Key),
					zap.String("op", string(op.Type)),
					zap.Error(err))
			default:
				op.Attempts++
				if op.Attempts >= q.opts.MaxAttempts {
					if q.ready.CompareAndDelete(op.Key, op) {
						atomic.AddInt64(&q.metrics.TotalDroppedTransient, 1)
						q.notifications.notifyWrite(op.Key, err)
					}
					q.logger.Warn("dropping write after repeated transient failures",
						zap.String("key", op.Key),
						zap.Int("attempts", op.Attempts),
						zap.Error(err))
				} else {
					atomic.AddInt64(&q.metrics.TotalRetried, 1)
				}
			}
		}

		if end < len(ops) {
			if !q.sleep(q.opts.BatchDelay) {
				break
			}
		}
	}

	if emergencySeen {
		atomic.AddInt64(&q.metrics.EmergencySignals, 1)
		if q.onEmergency != nil {
			q.onEmergency(emergencyReason)
		}
	}

	atomic.StoreInt32(&q.processing, 0)

	q.notifications.notifyIdleIfDrained(q.isDrained)

	// Retries left queued resolve within MaxAttempts follow-up passes;
	// operations promoted mid-pass get their pass now rather than waiting
	// for the next timer to fire.
	if atomic.CompareAndSwapInt32(&q.rerun, 1, 0) || !q.ready.IsEmpty() {
		q.scheduleDelayedPass(q.opts.BatchDelay)
	}
}

func (q *WriteQueue) execute(op *QueuedOperation) error {
	switch op.Type {
	case OpRemove:
		return q.store.RemoveItem(op.Key)
	default:
		return q.store.SetItem(op.Key, op.Value)
	}
}

// sleep waits for d unless shutdown begins first.
func (q *WriteQueue) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-q.stopChan:
		return false
	}
}

// Flush cancels all debounce timers and processes the entire queue before
// returning. It loops until the queue is drained, carrying along operations
// enqueued by other goroutines mid-flush.
func (q *WriteQueue) Flush() error {
	for {
		q.promoteAll()

		if q.isDrained() && atomic.LoadInt32(&q.processing) == 0 {
			return nil
		}

		notifyChan := make(chan struct{}, 1)
		q.notifications.registerIdleWaiter(notifyChan)

		// Re-check after registering so a drain finishing in between is
		// not missed.
		if q.isDrained() && atomic.LoadInt32(&q.processing) == 0 {
			q.notifications.unregisterIdleWaiter(notifyChan)
			return nil
		}

		q.processQueue()

		select {
		case <-notifyChan:
		case <-time.After(flushPollInterval):
			q.notifications.unregisterIdleWaiter(notifyChan)
		}
	}
}

// MultiSet queues pairs in chunks of the batch size with a short delay
// between chunks, keeping bulk imports from saturating the store.
func (q *WriteQueue) MultiSet(pairs []KeyValue) error {
	for start := 0; start < len(pairs); start += q.opts.BatchSize {
		end := start + q.opts.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		for _, kv := range pairs[start:end] {
			if err := q.Set(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		if end < len(pairs) {
			if !q.sleep(q.opts.BatchDelay) {
				return ErrStoreClosed
			}
		}
	}
	return nil
}

// WaitForWrite blocks until the pending operation for key has been flushed
// or dropped, returning the terminal error when it was dropped. Returns
// immediately when nothing is pending for the key.
func (q *WriteQueue) WaitForWrite(key string, timeout time.Duration) error {
	if !q.IsPending(key) {
		return nil
	}

	notifyChan := make(chan error, 1)
	q.notifications.registerWriteWaiter(key, notifyChan)

	if !q.IsPending(key) {
		q.notifications.unregisterWriteWaiter(key, notifyChan)
		return nil
	}

	select {
	case err := <-notifyChan:
		return err
	case <-time.After(timeout):
		q.notifications.unregisterWriteWaiter(key, notifyChan)
		return fmt.Errorf("timed out waiting for write of %q after %v", key, timeout)
	}
}

// IsPending reports whether a write or removal is queued for key in either
// stage.
func (q *WriteQueue) IsPending(key string) bool {
	q.mu.Lock()
	_, debouncing := q.debouncing[key]
	q.mu.Unlock()
	if debouncing {
		return true
	}
	_, ready := q.ready.Load(key)
	return ready
}

// PendingCount returns the number of distinct keys currently queued.
func (q *WriteQueue) PendingCount() int {
	q.mu.Lock()
	debouncing := len(q.debouncing)
	q.mu.Unlock()
	return debouncing + q.ready.Count()
}

// Metrics returns a snapshot of the queue counters.
func (q *WriteQueue) Metrics() QueueMetrics {
	return QueueMetrics{
		TotalEnqueued:         atomic.LoadInt64(&q.metrics.TotalEnqueued),
		TotalCoalesced:        atomic.LoadInt64(&q.metrics.TotalCoalesced),
		TotalFlushed:          atomic.LoadInt64(&q.metrics.TotalFlushed),
		TotalRetried:          atomic.LoadInt64(&q.metrics.TotalRetried),
		TotalDroppedTransient: atomic.LoadInt64(&q.metrics.TotalDroppedTransient),
		TotalDroppedCorrupt:   atomic.LoadInt64(&q.metrics.TotalDroppedCorrupt),
		TotalRejected:         atomic.LoadInt64(&q.metrics.TotalRejected),
		FlushPasses:           atomic.LoadInt64(&q.metrics.FlushPasses),
		EmergencySignals:      atomic.LoadInt64(&q.metrics.EmergencySignals),
		CurrentPending:        int64(q.PendingCount()),
	}
}

func (q *WriteQueue) promoteAll() {
	q.mu.Lock()
	promoted := make([]*debounceEntry, 0, len(q.debouncing))
	for key, entry := range q.debouncing {
		entry.timer.Stop()
		promoted = append(promoted, entry)
		delete(q.debouncing, key)
	}
	q.mu.Unlock()

	for _, entry := range promoted {
		q.ready.Store(entry.op.Key, entry.op)
	}
}

func (q *WriteQueue) isDrained() bool {
	q.mu.Lock()
	debouncing := len(q.debouncing)
	q.mu.Unlock()
	return debouncing == 0 && q.ready.IsEmpty()
}

// DrainPending stops all debounce timers and removes every pending operation
// from the queue, returning them in enqueue order. Waiters are released with
// ErrStoreClosed. Used on shutdown to hand unflushed writes to the
// persistence layer.
func (q *WriteQueue) DrainPending() []*QueuedOperation {
	q.promoteAll()

	var ops []*QueuedOperation
	q.ready.Range(func(key string, op *QueuedOperation) bool {
		if q.ready.CompareAndDelete(key, op) {
			ops = append(ops, op)
		}
		return true
	})

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Timestamp != ops[j].Timestamp {
			return ops[i].Timestamp < ops[j].Timestamp
		}
		return ops[i].seq < ops[j].seq
	})

	for _, op := range ops {
		q.notifications.notifyWrite(op.Key, ErrStoreClosed)
	}
	return ops
}

// Restore re-enqueues operations recovered from a previous run, preserving
// their original timestamps, and triggers a flush pass.
func (q *WriteQueue) Restore(ops []*QueuedOperation) {
	restored := 0
	for _, op := range ops {
		if op == nil || op.Key == "" {
			continue
		}
		op.seq = atomic.AddUint64(&q.seq, 1)
		op.Attempts = 0
		q.ready.Store(op.Key, op)
		atomic.AddInt64(&q.metrics.TotalEnqueued, 1)
		restored++
	}
	if restored > 0 {
		q.schedulePass()
	}
}

// EmergencyStop halts the queue immediately without draining. Pending
// operations stay collectable through DrainPending.
func (q *WriteQueue) EmergencyStop() {
	atomic.StoreInt32(&q.closed, 1)
	q.stopOnce.Do(func() { close(q.stopChan) })
}

// Close stops accepting writes and drains whatever it can within timeout.
// Operations still queued when the timeout expires remain available through
// DrainPending for persistence.
func (q *WriteQueue) Close(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return nil
	}
	q.stopOnce.Do(func() { close(q.stopChan) })

	q.promoteAll()

	deadline := time.Now().Add(timeout)
	for {
		if q.isDrained() && atomic.LoadInt32(&q.processing) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			q.logger.Warn("write queue close timed out with operations pending",
				zap.Int("pending", q.PendingCount()))
			return ErrShutdownTimeout
		}
		q.processQueue()
		time.Sleep(5 * time.Millisecond)
	}
}
