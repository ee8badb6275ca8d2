// Package locks implements C5: fleet-wide FLUSH TABLES WITH READ LOCK
// coordination, used by commands that must freeze every member of a
// group before making a topology change.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sjmudd/stopwatch"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/gtid"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metrics"
	"github.com/mysql/innodbcluster-adminapi/go/waitfor"
)

// GlobalLocks holds, for its lifetime, an FTWRL on every session it
// acquired. Release must be called exactly once; it is safe to call more
// than once (idempotent, logs but never errors).
type GlobalLocks struct {
	logger  *console.Logger
	held    []*instance.Instance
	timings *stopwatch.NamedStopwatch
}

// Acquire finds the PRIMARY by uuid in members, pre-syncs every other
// member's GTID position against it in parallel, then locks the fleet:
// FTWRL + super_read_only on the PRIMARY, a fresh FTWRL round on every
// SECONDARY once it has caught up to the post-flush GTID position.
func Acquire(ctx context.Context, members []*instance.Instance, primaryUUID string, gtidSyncTimeout time.Duration, logger *console.Logger, reg *metrics.Registry) (*GlobalLocks, error) {
	start := time.Now()
	var primary *instance.Instance
	var secondaries []*instance.Instance
	for _, m := range members {
		if m.GetUUID() == primaryUUID {
			primary = m
		} else {
			secondaries = append(secondaries, m)
		}
	}
	if primary == nil {
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, dbaerr.New(dbaerr.CodePrimaryNotAvailable, "primary uuid not present in supplied member list")
	}

	gl := &GlobalLocks{logger: logger, timings: stopwatch.NewNamedStopwatch()}
	_ = gl.timings.AddMany([]string{"presync", "ftwrl_primary", "serial_sync_lock"})

	gl.timings.Start("presync")
	if err := preSync(ctx, primary, secondaries, gtidSyncTimeout); err != nil {
		gl.timings.Stop("presync")
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, err
	}
	gl.timings.Stop("presync")

	gl.timings.Start("ftwrl_primary")
	if _, err := primary.Execute(ctx, "flush tables with read lock"); err != nil {
		gl.timings.Stop("ftwrl_primary")
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, err
	}
	gl.held = append(gl.held, primary)

	if err := primary.SetSysVar(ctx, instance.ScopeGlobal, "super_read_only", "1"); err != nil {
		gl.Release(ctx)
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, err
	}
	if _, err := primary.Execute(ctx, "flush binary logs"); err != nil {
		gl.Release(ctx)
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, err
	}
	gl.timings.Stop("ftwrl_primary")

	postFlush, err := readGTID(ctx, primary)
	if err != nil {
		gl.Release(ctx)
		reg.ObserveLockAcquire(false, time.Since(start))
		return nil, err
	}

	gl.timings.Start("serial_sync_lock")
	for _, sec := range secondaries {
		if err := waitForGTID(ctx, sec, postFlush, gtidSyncTimeout); err != nil {
			gl.timings.Stop("serial_sync_lock")
			gl.Release(ctx)
			reg.ObserveLockAcquire(false, time.Since(start))
			return nil, err
		}
		if _, err := sec.Execute(ctx, "flush tables with read lock"); err != nil {
			gl.timings.Stop("serial_sync_lock")
			gl.Release(ctx)
			reg.ObserveLockAcquire(false, time.Since(start))
			return nil, err
		}
		gl.held = append(gl.held, sec)
	}
	gl.timings.Stop("serial_sync_lock")

	gl.logTimings(len(secondaries))
	reg.ObserveLockAcquire(true, time.Since(start))
	return gl, nil
}

// logTimings reports the three acquire-phase durations and their mean.
func (gl *GlobalLocks) logTimings(nSecondaries int) {
	if gl.logger == nil {
		return
	}
	presync := gl.timings.ElapsedTime("presync").Seconds()
	lock := gl.timings.ElapsedTime("ftwrl_primary").Seconds()
	serial := gl.timings.ElapsedTime("serial_sync_lock").Seconds()
	data := stats.Float64Data{presync, lock, serial}
	mean, _ := stats.Mean(data)
	gl.logger.Debug("global lock acquired: presync=%.3fs ftwrl_primary=%.3fs serial=%.3fs mean_phase=%.3fs secondaries=%d",
		presync, lock, serial, mean, nSecondaries)
}

// Release issues UNLOCK TABLES on every session that took a lock, in a
// finally-like sweep: every session is attempted regardless of earlier
// failures, and errors are logged rather than returned.
func (gl *GlobalLocks) Release(ctx context.Context) {
	for _, sess := range gl.held {
		if _, err := sess.Execute(ctx, "unlock tables"); err != nil {
			if gl.logger != nil {
				gl.logger.Warning("unlock tables on %s failed: %v", sess.GetUUID(), err)
			}
		}
	}
	gl.held = nil
}

// preSync waits, in parallel, until every secondary's gtid_executed
// contains the primary's current gtid_executed. A timeout on any one
// member fails the whole acquire with GTID_SYNC_TIMEOUT; a SQL error
// fails with GTID_SYNC_ERROR naming the failed secondaries.
func preSync(ctx context.Context, primary *instance.Instance, secondaries []*instance.Instance, timeout time.Duration) error {
	target, err := readGTID(ctx, primary)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(secondaries))
	for i, sec := range secondaries {
		wg.Add(1)
		go func(i int, sec *instance.Instance) {
			defer wg.Done()
			errs[i] = waitForGTID(ctx, sec, target, timeout)
		}(i, sec)
	}
	wg.Wait()

	var timedOut, failed []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		if dbaerr.Of(err, dbaerr.CodeGTIDSyncTimeout) {
			timedOut = append(timedOut, secondaries[i].GetUUID())
		} else {
			failed = append(failed, secondaries[i].GetUUID())
		}
	}
	if len(timedOut) > 0 {
		return dbaerr.Newf(dbaerr.CodeGTIDSyncTimeout, "gtid sync timed out on: %v", timedOut)
	}
	if len(failed) > 0 {
		return dbaerr.Newf(dbaerr.CodeGTIDSyncError, "gtid sync failed on: %v", failed)
	}
	return nil
}

func readGTID(ctx context.Context, sess *instance.Instance) (*gtid.Set, error) {
	s, err := sess.QueryString(ctx, instance.ScopeGlobal, "gtid_executed")
	if err != nil {
		return nil, err
	}
	set, err := gtid.Parse(s)
	if err != nil {
		return nil, dbaerr.Wrap(dbaerr.CodeGTIDSyncError, "malformed gtid_executed", err)
	}
	return set, nil
}

// waitForGTID polls sess's gtid_executed every 500ms until it contains
// target or timeout elapses.
func waitForGTID(ctx context.Context, sess *instance.Instance, target *gtid.Set, timeout time.Duration) error {
	msg := fmt.Sprintf("%s did not catch up within %s", sess.GetUUID(), timeout)
	return waitfor.Poll(ctx, 500*time.Millisecond, timeout, dbaerr.CodeGTIDSyncTimeout, msg, func() (bool, error) {
		cur, err := readGTID(ctx, sess)
		if err != nil {
			return false, dbaerr.Wrap(dbaerr.CodeGTIDSyncError, fmt.Sprintf("reading gtid_executed on %s", sess.GetUUID()), err)
		}
		return cur.Contains(target), nil
	})
}
