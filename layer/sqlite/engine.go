package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tiercache/layer"
)

// Everything in this file runs on the executor goroutine.

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type victim struct {
	key  string
	size int64
}

// stamp returns a strictly increasing access time so that two touches in the
// same clock tick still order deterministically.
func (l *Layer) stamp() int64 {
	n := l.now().UnixNano()
	if n <= l.lastStamp {
		n = l.lastStamp + 1
	}
	l.lastStamp = n
	return n
}

func (l *Layer) store(ctx context.Context, key string, value []byte) ([]victim, error) {
	if value == nil {
		value = []byte{}
	}
	size := int64(len(value))
	// before the insert, so a concurrent Retrieve can never get a false miss
	l.filter.add(key)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite layer: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	total, err := readTotalSize(ctx, tx)
	if err != nil {
		return nil, err
	}
	old, found, err := deleteKey(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if found {
		total -= old
	}

	if size > l.limit {
		// the stale copy must not outlive a rejected replacement
		if err := writeTotalSize(ctx, tx, total); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("sqlite layer: commit: %w", err)
		}
		return nil, fmt.Errorf("%w: %d > %d", ErrEntryTooLarge, size, l.limit)
	}

	var victims []victim
	// counts the incoming entry so totalSize stays within the limit after commit
	if needed := total + size - l.limit; needed > 0 {
		var freed int64
		freed, victims, err = prune(ctx, tx, needed)
		if err != nil {
			return nil, err
		}
		total -= freed
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache (dateAccessed, key, size, data) VALUES (?, ?, ?, ?)`,
		l.stamp(), key, size, value); err != nil {
		return nil, fmt.Errorf("sqlite layer: insert: %w", err)
	}
	if err := writeTotalSize(ctx, tx, total+size); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite layer: commit: %w", err)
	}
	return victims, nil
}

func (l *Layer) lookup(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := l.db.QueryRowContext(ctx, `SELECT data FROM cache WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, layer.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite layer: select: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (l *Layer) touch(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE cache SET dateAccessed = ? WHERE key = ?`, l.stamp(), key)
	return err
}

func (l *Layer) remove(ctx context.Context, key string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite layer: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	size, found, err := deleteKey(ctx, tx, key)
	if err != nil || !found {
		return err
	}
	total, err := readTotalSize(ctx, tx)
	if err != nil {
		return err
	}
	if err := writeTotalSize(ctx, tx, total-size); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite layer: commit: %w", err)
	}
	return nil
}

func (l *Layer) removeAll(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite layer: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return fmt.Errorf("sqlite layer: delete all: %w", err)
	}
	if err := writeTotalSize(ctx, tx, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite layer: commit: %w", err)
	}
	return nil
}

func (l *Layer) pruneTx(ctx context.Context, needed int64) (int64, []victim, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite layer: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	total, err := readTotalSize(ctx, tx)
	if err != nil {
		return 0, nil, err
	}
	freed, victims, err := prune(ctx, tx, needed)
	if err != nil {
		return 0, nil, err
	}
	if err := writeTotalSize(ctx, tx, total-freed); err != nil {
		return 0, nil, err
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("sqlite layer: commit: %w", err)
	}
	return freed, victims, nil
}

// prune deletes entries in least-recently-accessed order until needed bytes
// are reclaimed or nothing is left. The caller owns totalSize.
func prune(ctx context.Context, tx *sql.Tx, needed int64) (int64, []victim, error) {
	if needed <= 0 {
		return 0, nil, nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT rowid, key, size FROM cache ORDER BY dateAccessed ASC, rowid ASC`)
	if err != nil {
		return 0, nil, fmt.Errorf("sqlite layer: scan lru: %w", err)
	}
	var (
		freed   int64
		rowids  []int64
		victims []victim
	)
	for freed < needed && rows.Next() {
		var (
			id int64
			v  victim
		)
		if err := rows.Scan(&id, &v.key, &v.size); err != nil {
			_ = rows.Close()
			return 0, nil, fmt.Errorf("sqlite layer: scan lru: %w", err)
		}
		rowids = append(rowids, id)
		victims = append(victims, v)
		freed += v.size
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, nil, fmt.Errorf("sqlite layer: scan lru: %w", err)
	}
	if err := rows.Close(); err != nil {
		return 0, nil, err
	}

	for _, id := range rowids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache WHERE rowid = ?`, id); err != nil {
			return 0, nil, fmt.Errorf("sqlite layer: evict: %w", err)
		}
	}
	return freed, victims, nil
}

// deleteKey removes key's row and reports its size.
func deleteKey(ctx context.Context, q querier, key string) (int64, bool, error) {
	var size int64
	err := q.QueryRowContext(ctx, `SELECT size FROM cache WHERE key = ?`, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite layer: select size: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return 0, false, fmt.Errorf("sqlite layer: delete: %w", err)
	}
	return size, true, nil
}

func readTotalSize(ctx context.Context, q querier) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT value FROM admin WHERE key = 'totalSize'`).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite layer: read totalSize: %w", err)
	}
	return total, nil
}

func writeTotalSize(ctx context.Context, q querier, total int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO admin (key, value) VALUES ('totalSize', ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, total)
	if err != nil {
		return fmt.Errorf("sqlite layer: write totalSize: %w", err)
	}
	return nil
}
