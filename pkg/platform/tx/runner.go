package tx

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	dErrors "labtrail/pkg/domain-errors"
)

// Runner executes fn as one atomic unit. Callers pass a key naming the record the
// unit serializes on (for example a lab order ID); units with different keys may
// run concurrently.
type Runner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const (
	numShards        = 128
	defaultTxTimeout = 5 * time.Second
	abortedTxMessage = "transaction aborted: context cancelled"
)

func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Sharded serializes units by key using a fixed array of mutexes. It backs the
// in-memory stores, which have no transactions of their own.
type Sharded struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewSharded returns a Runner with the default timeout.
func NewSharded() *Sharded {
	return &Sharded{timeout: defaultTxTimeout}
}

func (t *Sharded) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, abortedTxMessage)
	}
	ctx, cancel := withDeadline(ctx, t.timeout)
	defer cancel()

	mu := &t.shards[shardFor(key)]
	mu.Lock()
	defer mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, abortedTxMessage)
	}
	return fn(ctx)
}

func shardFor(key string) uint32 {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numShards
}

// SQL runs units inside a database transaction carried on the context (see From).
// Serialization comes from row locks taken by the stores.
type SQL struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, timeout: defaultTxTimeout}
}

func (t *SQL) RunInTx(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, abortedTxMessage)
	}
	ctx, cancel := withDeadline(ctx, t.timeout)
	defer cancel()

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit transaction")
	}
	return nil
}
