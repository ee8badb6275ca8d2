package metadata

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

// undoStep is one inverse statement recorded while a Transaction is open.
// Steps are replayed in reverse (LIFO) order by Undo.
type undoStep struct {
	query string
	args  []interface{}
}

// Transaction wraps a metadata-schema transaction together with the undo
// log of inverse statements, per §4.3: every write that changes catalog
// state pushes the statement that would reverse it, so a caller composing
// a metadata change with a server-side change can unwind both sides on
// failure without needing a second round-trip to re-derive prior state.
type Transaction struct {
	tx   *instance.Tx
	undo []undoStep
}

// pushUndo records the statement that reverses the write just made.
func (t *Transaction) pushUndo(query string, args ...interface{}) {
	t.undo = append(t.undo, undoStep{query: query, args: args})
}

// Commit finalizes the transaction; the undo log is discarded, since the
// change is now durable and any rollback must happen via a fresh,
// forward-going compensating transaction instead.
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.undo = nil
	return nil
}

// Rollback aborts the underlying transaction. Because MySQL DDL implicitly
// commits, a transaction that only ever issues DML (as Storage's writes
// do) rolls back cleanly with no undo-log replay needed; Undo exists for
// the case where the transaction already committed and a caller needs to
// reverse it after the fact (e.g. a later step in the same command failed).
func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}

// Undo replays the recorded inverse statements in reverse order against a
// fresh transaction-less connection, after the original transaction has
// already committed. It is best-effort: the first failure aborts the
// replay and is returned, leaving whatever undo steps remain unapplied -
// callers should log this loudly, since it means metadata is now
// inconsistent with the server-side state it described.
func (t *Transaction) Undo(ctx context.Context, sess *instance.Instance) error {
	for i := len(t.undo) - 1; i >= 0; i-- {
		step := t.undo[i]
		if _, err := sess.Execute(ctx, step.query, step.args...); err != nil {
			return err
		}
	}
	t.undo = nil
	return nil
}
