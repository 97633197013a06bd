// Package writer serializes all store traffic through one consumer
// goroutine. The engine's hot path only ever blocks on a channel send;
// batching, retries, and ordering are handled here. Commands for one
// attempt are applied in enqueue order, which is what lets the store's
// serial attempt IDs reflect creation order.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/storage"
	"github.com/mglvsky/pairscan/pkg/types"
)

// ErrQueueFull is returned when the bounded queue cannot accept a
// command. The engine treats this as fatal: dropping a command would
// silently lose measurement data.
var ErrQueueFull = errors.New("writer queue full")

type commandKind int

const (
	kindInsertAttempts commandKind = iota
	kindUpdateRunning
	kindUpdateTerminal
	kindInsertSnapshots
	kindInsertLifecycle
	kindUpsertMarket
	kindFinalizeMarket
)

func (k commandKind) String() string {
	switch k {
	case kindInsertAttempts:
		return "insert_attempts"
	case kindUpdateRunning:
		return "update_running"
	case kindUpdateTerminal:
		return "update_terminal"
	case kindInsertSnapshots:
		return "insert_snapshots"
	case kindInsertLifecycle:
		return "insert_lifecycle"
	case kindUpsertMarket:
		return "upsert_market"
	case kindFinalizeMarket:
		return "finalize_market"
	}
	return "unknown"
}

type command struct {
	kind      commandKind
	attempts  []*types.Attempt
	snapshots []*types.Snapshot
	lifecycle []*types.LifecycleRecord
	market    *types.MarketInfo
	summary   *types.MarketSummary
}

// Config tunes the writer. Zero values fall back to defaults.
type Config struct {
	QueueSize     int           // default 4096
	FlushInterval time.Duration // default 250ms
	BatchSize     int           // flush early past this many commands, default 100
	MaxRetries    int           // per store call, default 5
	RetryBackoff  time.Duration // base, doubled per retry, default 250ms
	StoreTimeout  time.Duration // per store call, default 10s
	Logger        *zap.Logger
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Writer is the single consumer in front of a storage.Store.
type Writer struct {
	cfg    Config
	store  storage.Store
	logger *zap.Logger

	queue chan command
	fatal chan error
	wg    sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a writer; call Start to begin consuming.
func New(store storage.Store, cfg Config) *Writer {
	cfg.withDefaults()
	return &Writer{
		cfg:     cfg,
		store:   store,
		logger:  cfg.Logger,
		queue:   make(chan command, cfg.QueueSize),
		fatal:   make(chan error, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Fatal delivers at most one unrecoverable writer error.
func (w *Writer) Fatal() <-chan error {
	return w.fatal
}

// Stop closes the queue, waits for the backlog to flush, and closes the
// store.
func (w *Writer) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopped)
		close(w.queue)
	})
	w.wg.Wait()
	return w.store.Close()
}

// InsertAttempts enqueues newly created attempts.
func (w *Writer) InsertAttempts(attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return w.enqueue(command{kind: kindInsertAttempts, attempts: snapshotAttempts(attempts)})
}

// UpdateRunning enqueues tracker refreshes for active attempts.
func (w *Writer) UpdateRunning(attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return w.enqueue(command{kind: kindUpdateRunning, attempts: snapshotAttempts(attempts)})
}

// UpdateTerminal enqueues terminal outcomes.
func (w *Writer) UpdateTerminal(attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return w.enqueue(command{kind: kindUpdateTerminal, attempts: snapshotAttempts(attempts)})
}

// snapshotAttempts copies attempts at enqueue time so the evaluator can
// keep mutating its own structs. The evaluator replaces optional-field
// pointers rather than writing through them, so a shallow copy is safe.
func snapshotAttempts(attempts []*types.Attempt) []*types.Attempt {
	out := make([]*types.Attempt, len(attempts))
	for i, a := range attempts {
		cp := *a
		out[i] = &cp
	}
	return out
}

// InsertSnapshots enqueues per-cycle book snapshots.
func (w *Writer) InsertSnapshots(snapshots []*types.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return w.enqueue(command{kind: kindInsertSnapshots, snapshots: snapshots})
}

// InsertLifecycle enqueues per-cycle attempt tracking rows.
func (w *Writer) InsertLifecycle(records []*types.LifecycleRecord) error {
	if len(records) == 0 {
		return nil
	}
	return w.enqueue(command{kind: kindInsertLifecycle, lifecycle: records})
}

// UpsertMarket enqueues market registration.
func (w *Writer) UpsertMarket(market *types.MarketInfo) error {
	return w.enqueue(command{kind: kindUpsertMarket, market: market})
}

// FinalizeMarket enqueues the settlement roll-up. Because the queue is
// FIFO, every earlier command for the market lands first.
func (w *Writer) FinalizeMarket(summary *types.MarketSummary) error {
	return w.enqueue(command{kind: kindFinalizeMarket, summary: summary})
}

func (w *Writer) enqueue(cmd command) error {
	select {
	case <-w.stopped:
		return fmt.Errorf("writer stopped")
	default:
	}
	select {
	case w.queue <- cmd:
		commandsTotal.WithLabelValues(cmd.kind.String()).Inc()
		queueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		failuresTotal.WithLabelValues("queue_full").Inc()
		w.signalFatal(ErrQueueFull)
		return ErrQueueFull
	}
}

func (w *Writer) signalFatal(err error) {
	select {
	case w.fatal <- err:
	default:
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []command
	for {
		select {
		case cmd, ok := <-w.queue:
			if !ok {
				w.flush(pending)
				return
			}
			pending = append(pending, cmd)
			queueDepth.Set(float64(len(w.queue)))
			if len(pending) >= w.cfg.BatchSize {
				w.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

// flush coalesces consecutive same-kind commands and applies them in
// order. Only adjacent commands merge; reordering across kinds would
// let a terminal update race its own insert.
func (w *Writer) flush(pending []command) {
	if len(pending) == 0 {
		return
	}
	batchesTotal.Inc()
	batchSize.Observe(float64(len(pending)))

	for i := 0; i < len(pending); {
		j := i + 1
		for j < len(pending) && pending[j].kind == pending[i].kind && mergeable(pending[i].kind) {
			j++
		}
		w.apply(merge(pending[i:j]))
		i = j
	}
}

func mergeable(k commandKind) bool {
	switch k {
	case kindInsertAttempts, kindUpdateRunning, kindUpdateTerminal,
		kindInsertSnapshots, kindInsertLifecycle:
		return true
	}
	return false
}

func merge(cmds []command) command {
	if len(cmds) == 1 {
		return cmds[0]
	}
	out := command{kind: cmds[0].kind}
	for _, c := range cmds {
		out.attempts = append(out.attempts, c.attempts...)
		out.snapshots = append(out.snapshots, c.snapshots...)
		out.lifecycle = append(out.lifecycle, c.lifecycle...)
	}
	return out
}

func (w *Writer) apply(cmd command) {
	var lastErr error
	backoff := w.cfg.RetryBackoff
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			time.Sleep(backoff)
			backoff *= 2
		}
		if lastErr = w.call(cmd); lastErr == nil {
			return
		}
		w.logger.Warn("writer-store-call-failed",
			zap.String("kind", cmd.kind.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	failuresTotal.WithLabelValues("retries_exhausted").Inc()
	w.logger.Error("writer-giving-up-on-command",
		zap.String("kind", cmd.kind.String()),
		zap.Error(lastErr))
	w.signalFatal(fmt.Errorf("%s failed after %d retries: %w",
		cmd.kind, w.cfg.MaxRetries, lastErr))
}

func (w *Writer) call(cmd command) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.StoreTimeout)
	defer cancel()

	switch cmd.kind {
	case kindInsertAttempts:
		return w.store.InsertAttempts(ctx, cmd.attempts)
	case kindUpdateRunning:
		return w.store.UpdateAttemptsRunning(ctx, cmd.attempts)
	case kindUpdateTerminal:
		return w.store.UpdateAttemptsTerminal(ctx, cmd.attempts)
	case kindInsertSnapshots:
		return w.store.InsertSnapshots(ctx, cmd.snapshots)
	case kindInsertLifecycle:
		return w.store.InsertLifecycle(ctx, cmd.lifecycle)
	case kindUpsertMarket:
		return w.store.UpsertMarket(ctx, cmd.market)
	case kindFinalizeMarket:
		return w.store.FinalizeMarket(ctx, cmd.summary)
	}
	return fmt.Errorf("unknown command kind %d", cmd.kind)
}
