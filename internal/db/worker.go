package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrQueueFull is returned by TryDo when the write queue has no room.
var ErrQueueFull = errors.New("db write queue full")

// TxFn runs inside the worker's transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes all database writes through one goroutine, one
// transaction at a time. SQLite allows a single writer; funnelling
// every mutation through here removes lock contention entirely.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

// Do enqueues fn and waits for its result. It bails out if the caller's
// context expires while the job is queued or executing; the worker loop
// still completes the transaction and the result is discarded.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDo enqueues fn without waiting for the result, for fire-and-forget
// telemetry writes. Returns ErrQueueFull instead of blocking the
// control path when the buffer is saturated.
func (w *Worker) TryDo(ctx context.Context, fn TxFn) error {
	j := job{ctx: ctx, fn: fn, ch: make(chan error, 1)}
	select {
	case w.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
