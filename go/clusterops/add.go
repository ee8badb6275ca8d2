package clusterops

import (
	"context"
	"strings"
	"time"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
	"github.com/mysql/innodbcluster-adminapi/go/waitfor"
)

// AddInstance joins Target to an existing group and registers it, per the
// §4.7 Add Instance / Rejoin core.
type AddInstance struct {
	Primary        *instance.Instance   // any reachable member, used to create the recovery account
	Target         *instance.Instance   // the joining server
	ExistingMembers []*instance.Instance // current group membership, for seed addresses
	Storage        *metadata.Storage
	ClusterID      string
	Options        AddOptions
	OnlineTimeout  time.Duration
	Logger         *console.Logger

	base        *command.Base
	addedRow    bool
	account     accounts.Account
	result      AddInstanceResult
}

// AddInstanceResult is what a successful AddInstance produces.
type AddInstanceResult struct {
	UUID     string
	Recovery accounts.Account
}

func (c *AddInstance) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)

	if err := ensureGroupReplicationPlugin(ctx, c.Target); err != nil {
		return err
	}

	groupName, err := c.Target.QueryString(ctx, instance.ScopeGlobal, "group_replication_group_name")
	if err != nil {
		return err
	}
	cluster, err := c.Storage.GetCluster(ctx, c.ClusterID)
	if err != nil {
		return err
	}
	if groupName != "" && groupName != cluster.GroupName {
		return dbaerr.New(dbaerr.CodeBadArgDuplicateUUID, "target is already a member of a different replication group")
	}

	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Primary)
}

func (c *AddInstance) Execute(ctx context.Context) error {
	cluster, err := c.Storage.GetCluster(ctx, c.ClusterID)
	if err != nil {
		return err
	}

	localAddress := groupReplicationLocalAddress(c.Target)
	seeds := make([]string, 0, len(c.ExistingMembers))
	for _, m := range c.ExistingMembers {
		seeds = append(seeds, groupReplicationLocalAddress(m))
	}
	if err := configureGroupReplication(ctx, c.Target, cluster.GroupName, localAddress, strings.Join(seeds, ",")); err != nil {
		return err
	}

	account, err := accounts.Create(ctx, c.Primary, c.Target.GetServerID(), c.Options.ReplicationAllowedHost)
	if err != nil {
		return err
	}
	c.account = account
	if err := accounts.ChangeRecoveryCredentials(ctx, c.Target, account); err != nil {
		return err
	}

	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}
	label := c.Options.Label
	if label == "" {
		label = c.Target.Endpoint()
	}
	if err := c.Storage.AddInstance(ctx, tx, metadata.Instance{
		ClusterID:    c.ClusterID,
		UUID:         c.Target.GetUUID(),
		Label:        label,
		Endpoint:     c.Target.Endpoint(),
		GREndpoint:   localAddress,
		InstanceType: metadata.InstanceGroupMember,
	}); err != nil {
		tx.Rollback()
		return err
	}
	if err := c.Storage.SetRecoveryAccount(ctx, tx, metadata.RecoveryAccount{
		InstanceUUID: c.Target.GetUUID(), User: account.User, Host: account.Host,
	}); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := c.Target.Execute(ctx, "start group_replication"); err != nil {
		tx.Rollback()
		return err
	}
	c.addedRow = true
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := waitMemberOnline(ctx, c.Target, c.OnlineTimeout); err != nil {
		return err
	}

	c.result = AddInstanceResult{UUID: c.Target.GetUUID(), Recovery: account}
	return nil
}

func (c *AddInstance) Rollback(ctx context.Context) error {
	if c.account.User != "" {
		if err := accounts.Drop(ctx, c.Primary, c.account.User, c.account.Host); err != nil {
			if c.Logger != nil {
				c.Logger.Warning("dropping recovery account %s after failed add: %v", c.account.User, err)
			}
		}
	}
	return nil
}

func (c *AddInstance) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}

func (c *AddInstance) Result() AddInstanceResult { return c.result }

// waitMemberOnline polls target's own group_replication_members row until
// it reports ONLINE or timeout elapses.
func waitMemberOnline(ctx context.Context, target *instance.Instance, timeout time.Duration) error {
	return waitfor.Poll(ctx, 500*time.Millisecond, timeout, dbaerr.CodeGroupMemberNotOnline,
		target.GetUUID()+" did not reach ONLINE within "+timeout.String(), func() (bool, error) {
			state, err := selfState(ctx, target)
			if err != nil {
				return false, err
			}
			return state == "ONLINE", nil
		})
}
