// Package command implements C6: the four-method shape every
// administrative operation in go/clusterops follows, plus the shared
// precondition checks every one of them runs in Prepare.
package command

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metrics"
)

// Command is the interface every administrative operation implements.
// Finish is called exactly once per Prepare invocation, on every path -
// success, a Prepare failure, or an Execute failure - and it never
// returns an error: whatever goes wrong while releasing resources is
// absorbed into the console/logger instead of competing with the
// operation's real result.
type Command interface {
	Prepare(ctx context.Context) error
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error
	Finish(ctx context.Context)
}

// Run drives a Command through its full lifecycle: Prepare, then
// Execute, then Rollback if Execute failed, then Finish unconditionally.
// name identifies the operation for ObserveCommand; reg may be nil.
func Run(ctx context.Context, name string, reg *metrics.Registry, c Command) error {
	defer c.Finish(ctx)

	if err := c.Prepare(ctx); err != nil {
		return err
	}
	if err := c.Execute(ctx); err != nil {
		if rerr := c.Rollback(ctx); rerr != nil {
			reg.ObserveCommand(name, false)
			return dbaerr.Wrap(dbaerr.CodeInternal, "execute failed, and rollback also failed: "+rerr.Error(), err)
		}
		reg.ObserveCommand(name, false)
		return err
	}
	reg.ObserveCommand(name, true)
	return nil
}

// Base is a composed (not inherited) helper bag implementing the shared
// precondition logic every command's Prepare runs: credential
// inheritance, the super_read_only toggle/restore pair, membership
// checks, and topology-mode agreement.
type Base struct {
	Logger *console.Logger

	// restoredSuperReadOnly records, per session, whether Base turned
	// super_read_only off and must restore it.
	toggledSuperReadOnly map[*instance.Instance]bool
}

func NewBase(logger *console.Logger) *Base {
	return &Base{Logger: logger, toggledSuperReadOnly: make(map[*instance.Instance]bool)}
}

// ResolveCredentials fills in opts.User/opts.Password from active's
// connection options when the caller's options omit them.
func ResolveCredentials(opts instance.Options, active *instance.Instance) instance.Options {
	if opts.User == "" {
		opts.User = active.GetConnectionOptions().User
	}
	if opts.Password == "" {
		opts.Password = active.GetConnectionOptions().Password
	}
	return opts
}

// DisableSuperReadOnlyIfWriting turns super_read_only off on sess if it
// is currently on, recording that fact so Restore/Finish can turn it
// back on. It is a no-op (and records nothing) if the sysvar is already
// off.
func (b *Base) DisableSuperReadOnlyIfWriting(ctx context.Context, sess *instance.Instance) error {
	on, err := sess.QueryBool(ctx, instance.ScopeGlobal, "super_read_only")
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	if err := sess.SetSysVar(ctx, instance.ScopeGlobal, "super_read_only", "0"); err != nil {
		return err
	}
	b.toggledSuperReadOnly[sess] = true
	return nil
}

// RestoreSuperReadOnly turns super_read_only back on for every session
// Base disabled it on. Errors are logged, not returned, matching
// Finish's "never errors" contract.
func (b *Base) RestoreSuperReadOnly(ctx context.Context) {
	for sess, toggled := range b.toggledSuperReadOnly {
		if !toggled {
			continue
		}
		if err := sess.SetSysVar(ctx, instance.ScopeGlobal, "super_read_only", "1"); err != nil {
			if b.Logger != nil {
				b.Logger.Warning("restoring super_read_only on %s failed: %v", sess.GetUUID(), err)
			}
		}
		b.toggledSuperReadOnly[sess] = false
	}
}

// RequireMember fails with TARGET_NOT_IN_CLUSTER unless targetUUID
// appears in clusterMembers.
func RequireMember(targetUUID string, clusterMembers []string) error {
	for _, uuid := range clusterMembers {
		if uuid == targetUUID {
			return nil
		}
	}
	return dbaerr.New(dbaerr.CodeTargetNotInCluster, "target instance is not a member of this cluster")
}

// RequireTopologyAgreement fails with CodeTopologyModeMismatch unless
// the metadata-recorded topology mode matches GR's own observed mode
// (single-primary vs multi-primary), which is how the framework detects
// that a rescan is needed before the command can proceed safely.
func RequireTopologyAgreement(metadataSinglePrimary, grSinglePrimary bool) error {
	if metadataSinglePrimary != grSinglePrimary {
		return dbaerr.New(dbaerr.CodeTopologyModeMismatch,
			"metadata topology_type disagrees with the group's observed mode; rescan required")
	}
	return nil
}
