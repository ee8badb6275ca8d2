package instance

import (
	"context"
	"database/sql"
	"strings"
)

// Tx is a transaction opened on an Instance. Metadata Storage (C3) uses
// this for every multi-row logical change, per §4.3.
type Tx struct {
	inst *Instance
	tx   *sql.Tx
}

// BeginTx starts a transaction on this Instance's session.
func (i *Instance) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyDriverError(err)
	}
	return &Tx{inst: i, tx: tx}, nil
}

// Query runs query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string) ([]Row, error) {
	t.inst.log(query)
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyDriverError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyDriverError(err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]sql.RawBytes, len(cols))
		ptrs := make([]interface{}, len(cols))
		for idx := range vals {
			ptrs[idx] = &vals[idx]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyDriverError(err)
		}
		row := make(Row, len(cols))
		for idx, c := range cols {
			row[strings.ToLower(c)] = vals[idx]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDriverError(err)
	}
	return out, nil
}

// Execute runs a mutating statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	t.inst.log(query)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifyDriverError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyDriverError(err)
	}
	return n, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classifyDriverError(err)
	}
	return nil
}

// Rollback rolls the transaction back. Errors are returned, not
// swallowed, so callers that need "rollback never masks the original
// error" behavior (per §7) log rather than propagate them.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return classifyDriverError(err)
	}
	return nil
}
