package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("bundle store closed")

// Store is the transactional bundle store, backed by Badger.
//
// Every mutation of bundle, queue, custody or contact plan state runs
// inside one Badger transaction, so a crash either applies a whole move
// or none of it.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	cfg    Config
	logger *slog.Logger
	ids    *IDGen
	closed atomic.Bool

	lastGCTime atomic.Int64 // Unix milliseconds

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsPayloadBytes prometheus.Gauge
	metricsConflicts    prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, domain.ErrStoreUnavailable.WithDetails("storage dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	bc := cfg.Badger
	if bc.CacheSize > 0 {
		opts.BlockCacheSize = bc.CacheSize
	}
	if bc.ValueLogFileSize > 0 && !cfg.InMemory {
		opts.ValueLogFileSize = bc.ValueLogFileSize
	}
	if bc.NumMemtables > 0 {
		opts.NumMemtables = bc.NumMemtables
	}
	if bc.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = bc.NumLevelZeroTables
	}
	if bc.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = bc.NumLevelZeroTablesStall
	}
	opts.SyncWrites = bc.SyncWrites && !cfg.InMemory
	opts.DetectConflicts = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithCause(fmt.Errorf("badger: open db: %w", err))
	}

	seq, err := db.GetSequence(keySequence, 256)
	if err != nil {
		db.Close()
		return nil, domain.ErrStoreUnavailable.WithCause(fmt.Errorf("badger: sequence: %w", err))
	}

	s := &Store{
		db:     db,
		seq:    seq,
		cfg:    cfg,
		logger: logger,
		ids:    NewIDGen(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if cfg.InMemory {
		close(s.doneCh)
	} else {
		go s.gcLoop()
	}

	logger.Info("bundle store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"quota_bytes", cfg.QuotaBytes,
		"sync_writes", opts.SyncWrites)

	return s, nil
}

// Update runs fn in a read-write transaction and commits it. A transaction
// that loses a conflict is re-run with a fresh Txn. Commit hooks registered
// through Txn.OnCommit run only after a successful commit.
func (s *Store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var lastErr error
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := s.newTxn(true)
		err := fn(tx)
		if err == nil {
			err = tx.txn.Commit()
		}
		tx.txn.Discard()
		if err == nil {
			for _, hook := range tx.onCommit {
				hook()
			}
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return mapBadgerError(err)
		}
		if s.metricsConflicts != nil {
			s.metricsConflicts.Inc()
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return domain.ErrTxnConflict.WithDetails(
		fmt.Sprintf("gave up after %d attempts", s.cfg.ConflictRetries+1)).WithCause(lastErr)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.newTxn(false)
	defer tx.txn.Discard()
	return mapBadgerError(fn(tx))
}

func (s *Store) newTxn(update bool) *Txn {
	return &Txn{txn: s.db.NewTransaction(update), store: s}
}

func mapBadgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrTxnTooBig):
		return domain.ErrInsufficientSpace.WithDetails("transaction too big").WithCause(err)
	case domain.IsDomainError(err, ""):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.ErrStorageError.WithCause(err)
	}
}

func (s *Store) nextSeq() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("badger: next sequence: %w", err)
	}
	return n, nil
}

// GC runs value log garbage collection until nothing more can be rewritten.
func (s *Store) GC(ctx context.Context) (int, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	start := time.Now()
	rewrites := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.Badger.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return rewrites, fmt.Errorf("gc: %w", err)
		}
		rewrites++
	}
	s.lastGCTime.Store(time.Now().UnixMilli())
	s.logger.Debug("value log gc completed", "rewrites", rewrites, "elapsed", time.Since(start))
	return rewrites, nil
}

// Stats returns storage statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	lsm, vlog := s.db.Size()
	st := &Stats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   s.lastGCTime.Load(),
	}
	err := s.View(ctx, func(tx *Txn) error {
		var err error
		st.PayloadBytes, err = tx.getUint64(keyPayloadBytes)
		return err
	})
	return st, err
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("closing bundle store")

	close(s.stopCh)
	<-s.doneCh

	if err := s.seq.Release(); err != nil {
		s.logger.Warn("release sequence", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// RegisterMetrics registers store metrics with Prometheus.
// Returns the store for method chaining.
func (s *Store) RegisterMetrics(registry prometheus.Registerer) *Store {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dtnmesh",
		Subsystem: "store",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dtnmesh",
		Subsystem: "store",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	s.metricsPayloadBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dtnmesh",
		Subsystem: "store",
		Name:      "payload_bytes",
		Help:      "Total volume of stored bundle payloads",
	})
	s.metricsConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dtnmesh",
		Subsystem: "store",
		Name:      "txn_conflicts_total",
		Help:      "Transactions re-run after losing a conflict",
	})
	registry.MustRegister(s.metricsLSMSize, s.metricsValueLogSize, s.metricsPayloadBytes, s.metricsConflicts)

	go s.metricsUpdateLoop()
	return s
}

func (s *Store) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			st, err := s.Stats(ctx)
			cancel()
			if err != nil {
				continue
			}
			s.metricsLSMSize.Set(float64(st.LSMSize))
			s.metricsValueLogSize.Set(float64(st.ValueLogSize))
			s.metricsPayloadBytes.Set(float64(st.PayloadBytes))
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)

	interval, err := time.ParseDuration(s.cfg.Badger.GCInterval)
	if err != nil || interval <= 0 {
		s.logger.Error("invalid gc_interval, using default 10m", "value", s.cfg.Badger.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
