package clusterops

import (
	"context"
	"fmt"
	"time"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/gtid"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
	"github.com/mysql/innodbcluster-adminapi/go/waitfor"
)

// ResetRecoveryAccountsPassword rotates every ONLINE member's recovery
// account password, per the §4.7 core: change it on the PRIMARY, wait for
// the change to replicate, then repoint the member's recovery channel.
type ResetRecoveryAccountsPassword struct {
	Primary         *instance.Instance
	OnlineMembers   []*instance.Instance // online members other than Primary
	Storage         *metadata.Storage
	GTIDSyncTimeout time.Duration
	Logger          *console.Logger

	base *command.Base
}

func (c *ResetRecoveryAccountsPassword) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)
	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Primary)
}

func (c *ResetRecoveryAccountsPassword) Execute(ctx context.Context) error {
	for _, member := range c.OnlineMembers {
		row, err := c.Storage.GetInstance(ctx, member.GetUUID())
		if err != nil {
			return err
		}
		user, host := row.Tags["recoveryAccountUser"], row.Tags["recoveryAccountHost"]
		if user == "" {
			continue
		}

		account, err := accounts.RotatePassword(ctx, c.Primary, user, host)
		if err != nil {
			return err
		}

		if err := waitGTIDCaughtUp(ctx, c.Primary, member, c.GTIDSyncTimeout); err != nil {
			return err
		}

		if err := accounts.ChangeRecoveryCredentials(ctx, member, account); err != nil {
			return err
		}
	}
	return nil
}

func (c *ResetRecoveryAccountsPassword) Rollback(ctx context.Context) error {
	// Passwords already rotated on the PRIMARY stay rotated; a partial
	// failure here is resolved by re-running the operation, the same way
	// the original admin core treats it as idempotent per member.
	return nil
}

func (c *ResetRecoveryAccountsPassword) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}

// waitGTIDCaughtUp polls member's gtid_executed until it contains
// primary's current gtid_executed, the same pre-sync wait go/locks
// performs before taking a fleet-wide lock.
func waitGTIDCaughtUp(ctx context.Context, primary, member *instance.Instance, timeout time.Duration) error {
	targetStr, err := primary.QueryString(ctx, instance.ScopeGlobal, "gtid_executed")
	if err != nil {
		return err
	}
	target, err := gtid.Parse(targetStr)
	if err != nil {
		return dbaerr.Wrap(dbaerr.CodeGTIDSyncError, "malformed gtid_executed on primary", err)
	}

	msg := fmt.Sprintf("%s did not catch up within %s", member.GetUUID(), timeout)
	return waitfor.Poll(ctx, 500*time.Millisecond, timeout, dbaerr.CodeGTIDSyncTimeout, msg, func() (bool, error) {
		curStr, err := member.QueryString(ctx, instance.ScopeGlobal, "gtid_executed")
		if err != nil {
			return false, dbaerr.Wrap(dbaerr.CodeGTIDSyncError, "reading gtid_executed on "+member.GetUUID(), err)
		}
		cur, err := gtid.Parse(curStr)
		if err != nil {
			return false, dbaerr.Wrap(dbaerr.CodeGTIDSyncError, "malformed gtid_executed on "+member.GetUUID(), err)
		}
		return cur.Contains(target), nil
	})
}
