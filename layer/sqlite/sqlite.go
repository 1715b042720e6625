// Package sqlite is the persistent tier: a size-bounded LRU store in a single
// SQLite file.
//
// Every database operation runs on one serial executor, so the engine never
// sees two statements at once and LRU bookkeeping stays exact. The admin
// table carries a running totalSize that always equals the sum of stored
// entry sizes. When a write would push it past SizeLimit, least recently
// accessed entries are evicted in the same transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/internal/serial"
	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

var (
	ErrEntryTooLarge = errors.New("sqlite layer: entry larger than size limit")
	ErrClosed        = errors.New("sqlite layer: closed")
)

const (
	defaultFilterItems = 100_000
	defaultFilterFP    = 0.01
)

type Config struct {
	Path      string // required
	SizeLimit int64  // required, bytes
	Name      string // default "sqlite"

	Logger tiercache.Logger // if nil, NopLogger is used

	// OnEvict is called for each entry pruned to make room, after the
	// evicting transaction commits. It runs on the writer's caller goroutine.
	OnEvict func(key string, size int64)

	// Bloom miss filter sizing. Zero values pick 100k items at 1% false
	// positives.
	FilterItems         uint
	FilterFalsePositive float64
	DisableFilter       bool

	Now func() time.Time // clock for dateAccessed; default time.Now
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Entries     int64
	TotalSize   int64
	SizeLimit   int64
	Evictions   uint64
	FilterSkips uint64 // lookups answered by the miss filter
}

type Layer struct {
	name    string
	limit   int64
	db      *sql.DB
	exec    *serial.Executor
	filter  *missFilter
	log     tiercache.Logger
	onEvict func(string, int64)
	now     func() time.Time

	lastStamp int64 // owned by the executor goroutine

	evictions   atomic.Uint64
	filterSkips atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ layer.Layer = (*Layer)(nil)

// Open creates or reopens the database at cfg.Path and applies migrations.
func Open(ctx context.Context, cfg Config) (*Layer, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite layer: path is required")
	}
	if cfg.SizeLimit <= 0 {
		return nil, fmt.Errorf("sqlite layer: size limit must be positive")
	}
	if cfg.Name == "" {
		cfg.Name = "sqlite"
	}
	if cfg.Logger == nil {
		cfg.Logger = tiercache.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite layer: create dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite layer: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite layer: ping: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite layer: migrate: %w", err)
	}

	l := &Layer{
		name:    cfg.Name,
		limit:   cfg.SizeLimit,
		db:      db,
		log:     cfg.Logger,
		onEvict: cfg.OnEvict,
		now:     cfg.Now,
	}
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(dateAccessed), 0) FROM cache`).Scan(&l.lastStamp); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite layer: read clock: %w", err)
	}
	if !cfg.DisableFilter {
		if err := l.loadFilter(ctx, cfg.FilterItems, cfg.FilterFalsePositive); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	// a previous run with a larger limit may have left us over budget
	if err := l.shrinkToLimit(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.exec = serial.New()
	return l, nil
}

func (l *Layer) loadFilter(ctx context.Context, items uint, fp float64) error {
	if items == 0 {
		items = defaultFilterItems
	}
	if fp <= 0 || fp >= 1 {
		fp = defaultFilterFP
	}
	var n uint
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&n); err != nil {
		return fmt.Errorf("sqlite layer: count: %w", err)
	}
	l.filter = newMissFilter(max(items, n*2), fp)

	rows, err := l.db.QueryContext(ctx, `SELECT key FROM cache`)
	if err != nil {
		return fmt.Errorf("sqlite layer: load filter: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return fmt.Errorf("sqlite layer: load filter: %w", err)
		}
		l.filter.add(k)
	}
	return rows.Err()
}

func (l *Layer) shrinkToLimit(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite layer: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	total, err := readTotalSize(ctx, tx)
	if err != nil {
		return err
	}
	if total <= l.limit {
		return nil
	}
	freed, victims, err := prune(ctx, tx, total-l.limit)
	if err != nil {
		return err
	}
	if err := writeTotalSize(ctx, tx, total-freed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite layer: commit: %w", err)
	}
	l.reportEvictions(victims)
	return nil
}

func (l *Layer) Name() string { return l.name }

// SizeLimit is the configured byte budget.
func (l *Layer) SizeLimit() int64 { return l.limit }

// do runs fn on the writer goroutine, mapping a closed executor to ErrClosed.
func (l *Layer) do(ctx context.Context, fn func(context.Context) error) error {
	if l.closed.Load() {
		return ErrClosed
	}
	err := l.exec.Do(ctx, fn)
	if errors.Is(err, serial.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (l *Layer) Store(ctx context.Context, key string, value []byte) error {
	var victims []victim
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		victims, err = l.store(ctx, key, value)
		return err
	})
	l.reportEvictions(victims)
	return err
}

// Retrieve resolves with the stored bytes and schedules a dateAccessed bump
// behind the read on the same queue.
func (l *Layer) Retrieve(ctx context.Context, key string) *promise.Promise[[]byte] {
	if l.closed.Load() {
		return promise.Rejected[[]byte](ErrClosed)
	}
	if !l.filter.mayContain(key) {
		l.filterSkips.Add(1)
		return layer.Miss()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := promise.Go(func() ([]byte, error) {
		defer cancel()
		var data []byte
		err := l.do(ctx, func(ctx context.Context) error {
			var err error
			if data, err = l.lookup(ctx, key); err != nil {
				return err
			}
			err = l.exec.Go(ctx, func(ctx context.Context) error {
				if err := l.touch(ctx, key); err != nil {
					l.log.Warn("sqlite: bump dateAccessed failed", tiercache.Fields{"key": key, "err": err})
				}
				return nil
			})
			if err != nil {
				// the read already succeeded; only the LRU bump is lost
				l.log.Debug("sqlite: bump dateAccessed not queued", tiercache.Fields{"key": key, "err": err})
			}
			return nil
		})
		return data, err
	})
	p.OnCancel(cancel)
	return p
}

func (l *Layer) Remove(ctx context.Context, key string) error {
	return l.do(ctx, func(ctx context.Context) error {
		return l.remove(ctx, key)
	})
}

func (l *Layer) RemoveAll(ctx context.Context) error {
	return l.do(ctx, func(ctx context.Context) error {
		if err := l.removeAll(ctx); err != nil {
			return err
		}
		l.filter.reset()
		return nil
	})
}

// Prune evicts least recently accessed entries until at least needed bytes
// are reclaimed or the store is empty. It returns the bytes reclaimed.
func (l *Layer) Prune(ctx context.Context, needed int64) (int64, error) {
	var (
		freed   int64
		victims []victim
	)
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		freed, victims, err = l.pruneTx(ctx, needed)
		return err
	})
	l.reportEvictions(victims)
	return freed, err
}

// TotalSize returns the bookkept byte total.
func (l *Layer) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		total, err = readTotalSize(ctx, l.db)
		return err
	})
	return total, err
}

// Len returns the number of stored entries.
func (l *Layer) Len(ctx context.Context) (int64, error) {
	var n int64
	err := l.do(ctx, func(ctx context.Context) error {
		return l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&n)
	})
	return n, err
}

func (l *Layer) Stats(ctx context.Context) (Stats, error) {
	s := Stats{SizeLimit: l.limit, Evictions: l.evictions.Load(), FilterSkips: l.filterSkips.Load()}
	err := l.do(ctx, func(ctx context.Context) error {
		if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&s.Entries); err != nil {
			return err
		}
		var err error
		s.TotalSize, err = readTotalSize(ctx, l.db)
		return err
	})
	return s, err
}

func (l *Layer) reportEvictions(victims []victim) {
	if len(victims) == 0 {
		return
	}
	l.evictions.Add(uint64(len(victims)))
	l.log.Debug("sqlite: evicted entries", tiercache.Fields{"count": len(victims)})
	if l.onEvict == nil {
		return
	}
	for _, v := range victims {
		l.onEvict(v.key, v.size)
	}
}

// Close drains queued work and closes the database. Safe to call more than
// once.
func (l *Layer) Close(context.Context) error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.exec.Close()
		l.closeErr = l.db.Close()
	})
	return l.closeErr
}
