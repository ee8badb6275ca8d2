// Package waitfor replaces the busy-sleep polling loops of the original
// implementation with a single combinator: poll a function on an interval
// until it reports done, a real error, the timeout elapses, or the caller
// cancels via context.
package waitfor

import (
	"context"
	"time"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
)

// Poll calls fn every interval (fn is also called once immediately) until
// fn returns (true, nil), a non-nil error, ctx is cancelled, or timeout
// elapses. A ctx cancellation surfaces as a *dbaerr.Error with
// dbaerr.CodeCancelled; a timeout surfaces as the caller-supplied
// timeoutCode.
func Poll(ctx context.Context, interval, timeout time.Duration, timeoutCode dbaerr.Code, timeoutMsg string, fn func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return dbaerr.New(timeoutCode, timeoutMsg)
		}

		select {
		case <-ctx.Done():
			return dbaerr.Wrap(dbaerr.CodeCancelled, "operation cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}
