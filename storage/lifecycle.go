package storage

import (
	"context"
	"sync"
	"time"

	"github.com/polystore-io/polystore/internal/perf"
	"github.com/polystore-io/polystore/pkg/logging"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"go.uber.org/zap"
)

// State is one state of the adapter init state machine of spec.md §4.8:
// new -> loading -> ready -> closed -> loading (automatic reconnect).
type State int

const (
	StateNew State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EnsureLoadedFunc performs the backend-specific one-time (or
// reconnect-on-demand) initialization of an adapter: opening a connection,
// running migrations, warming a cache. It is the subclass hook of the Base
// Adapter Template (spec.md §4.9).
type EnsureLoadedFunc func(ctx context.Context) error

// PersistFunc flushes any buffered state to the backend.
type PersistFunc func(ctx context.Context) error

// BeginTxFunc, CommitTxFunc and RollbackTxFunc bracket a backend transaction.
// They are only invoked at nesting depth zero; nil means the backend has no
// native transaction and Lifecycle.Transaction degrades to snapshot/restore
// of the in-memory cache only.
type BeginTxFunc func(ctx context.Context) error
type CommitTxFunc func(ctx context.Context) error
type RollbackTxFunc func(ctx context.Context) error

// Lifecycle is the backend-agnostic half of the Base Adapter Template: the
// new/loading/ready/closed state machine, the ensure_loaded and persist
// chain-mutexes, and nested transaction bookkeeping. It is grounded on
// backend2's DistributedLock single-flight pattern and on
// backend/infrastructure/persistence/dynamodb/unit_of_work.go's nested
// transaction depth tracking, generalized from DynamoDB specifically to any
// backend with optional native transactions.
//
// A concrete adapter embeds Lifecycle and supplies EnsureLoadedFunc,
// PersistFunc and the three transaction bracket funcs; CacheAdapter[T] does
// this for the generic in-memory-cache-backed case.
type Lifecycle struct {
	logger *zap.Logger

	loadMu       sync.Mutex
	persistMu    sync.Mutex
	stateMu      sync.RWMutex
	state        State
	ensureLoaded EnsureLoadedFunc
	persist      PersistFunc

	txMu    sync.Mutex
	txDepth int
	begin   BeginTxFunc
	commit  CommitTxFunc
	rollback RollbackTxFunc

	monitor *perf.Monitor
}

// SetMonitor attaches the performance_monitoring recorder (spec.md §6); nil
// disables recording, which is also the default.
func (l *Lifecycle) SetMonitor(m *perf.Monitor) {
	l.monitor = m
}

// NewLifecycle wires the subclass hooks. begin/commit/rollback may be nil.
func NewLifecycle(logger *zap.Logger, ensureLoaded EnsureLoadedFunc, persist PersistFunc, begin BeginTxFunc, commit CommitTxFunc, rollback RollbackTxFunc) *Lifecycle {
	return &Lifecycle{
		logger:       logger,
		state:        StateNew,
		ensureLoaded: ensureLoaded,
		persist:      persist,
		begin:        begin,
		commit:       commit,
		rollback:     rollback,
	}
}

func (l *Lifecycle) State() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// EnsureLoaded runs the subclass initializer at most once per ready period.
// Concurrent callers serialize on loadMu; every waiter that queues behind the
// first caller observes state==ready after acquiring the lock and returns
// immediately without re-running the initializer — the same effect as a
// single shared in-flight future, without needing one (spec.md §4.9, §7).
//
// A failed initializer does not transition to closed: state reverts to new
// so the next call retries from scratch rather than wedging the adapter.
func (l *Lifecycle) EnsureLoaded(ctx context.Context) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	if l.State() == StateReady {
		return nil
	}

	l.stateMu.Lock()
	l.state = StateLoading
	l.stateMu.Unlock()

	start := time.Now()
	var err error
	if l.ensureLoaded != nil {
		err = l.ensureLoaded(ctx)
	}
	l.record("ensure_loaded", start, err)
	if err != nil {
		l.stateMu.Lock()
		l.state = StateNew
		l.stateMu.Unlock()
		return storeerrors.Wrap(storeerrors.KindConnectionFailed, "ensure_loaded failed", err)
	}

	l.stateMu.Lock()
	l.state = StateReady
	l.stateMu.Unlock()
	return nil
}

// record feeds the performance_monitoring ring buffer and, when the elapsed
// time exceeds its configured threshold, logs a warning via pkg/logging.
func (l *Lifecycle) record(operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	if l.monitor != nil {
		l.monitor.Record(operation, "", elapsed, err)
		if l.logger != nil {
			logging.LogSlowOperation(l.logger, operation, "", elapsed, l.monitor.ThresholdMS())
		}
	}
}

// Persist flushes buffered state. persistMu is distinct from loadMu so a
// slow load never blocks a concurrent flush of already-loaded data, and vice
// versa. Because Go's sync.Mutex always releases via defer, failure never
// leaves later callers deadlocked — the chain simply serializes the next
// attempt, which is the behavior spec.md §4.9 asks a future-based mutex for.
func (l *Lifecycle) Persist(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if l.persist == nil {
		return nil
	}
	start := time.Now()
	err := l.persist(ctx)
	l.record("persist", start, err)
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindWriteFailed, "persist failed", err)
	}
	return nil
}

// Close marks the adapter closed. A subsequent EnsureLoaded call transitions
// it back through loading to ready (spec.md §4.9: "closed -> loading
// (automatic reconnect)").
func (l *Lifecycle) Close() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.state = StateClosed
	return nil
}

// Transaction takes a snapshot with the snapshot callback, runs fn, and
// hands the snapshot to the restore callback on failure at any nesting depth. Only the outermost
// call brackets a native backend transaction; inner calls participate in the
// same depth counter so a failure anywhere unwinds the whole stack. The
// depth counter is always restored, success or failure (spec.md §3 invariant
// 5, §8 property 10).
func (l *Lifecycle) Transaction(ctx context.Context, snapshot func() map[string]any, restore func(map[string]any), fn func(ctx context.Context) error) (err error) {
	l.txMu.Lock()
	depth := l.txDepth
	l.txDepth++
	l.txMu.Unlock()

	defer func() {
		l.txMu.Lock()
		l.txDepth--
		l.txMu.Unlock()
	}()

	saved := snapshot()

	if depth == 0 && l.begin != nil {
		if err = l.begin(ctx); err != nil {
			return storeerrors.Wrap(storeerrors.KindWriteFailed, "begin transaction failed", err)
		}
	}

	if err = fn(ctx); err != nil {
		restore(saved)
		if depth == 0 && l.rollback != nil {
			_ = l.rollback(ctx)
		}
		return err
	}

	if depth == 0 && l.commit != nil {
		if cerr := l.commit(ctx); cerr != nil {
			restore(saved)
			return storeerrors.Wrap(storeerrors.KindWriteFailed, "commit transaction failed", cerr)
		}
	}
	return nil
}
