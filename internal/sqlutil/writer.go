// Package sqlutil provides the single-writer discipline the metadata
// store relies on. SQLite allows only one writer at a time; rather than
// let every caller retry on SQLITE_BUSY, a single ExclusiveWriter
// lets only one write transaction run at a time, the same
// role the teacher's sqlutil.Writer plays for its storage packages
// (see mediaapi/storage/shared/mediaapi.go's `d.Writer.Do(...)` call
// sites — the interface below is reconstructed from that usage, since
// the writer's own source was not part of the retrieved example set).
package sqlutil

import "database/sql"

// Writer executes fn inside a transaction, serialized with respect to
// every other call through the same Writer. txn may be nil, in which
// case Writer opens one; passing an existing txn lets callers compose
// several Writer-mediated operations into one commit.
type Writer interface {
	Do(db *sql.DB, txn *sql.Tx, fn func(txn *sql.Tx) error) error
}

// ExclusiveWriter serializes all writes through a buffered channel
// acting as a mutex with a queue, so concurrent callers block in FIFO
// order rather than spin-retrying.
type ExclusiveWriter struct {
	ch chan struct{}
}

// NewExclusiveWriter returns a ready-to-use single-writer gate.
func NewExclusiveWriter() *ExclusiveWriter {
	w := &ExclusiveWriter{ch: make(chan struct{}, 1)}
	w.ch <- struct{}{}
	return w
}

func (w *ExclusiveWriter) Do(db *sql.DB, txn *sql.Tx, fn func(txn *sql.Tx) error) error {
	if txn != nil {
		// Already inside a caller-managed transaction: no need to
		// serialize further, the caller already holds the gate.
		return fn(txn)
	}

	<-w.ch
	defer func() { w.ch <- struct{}{} }()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
