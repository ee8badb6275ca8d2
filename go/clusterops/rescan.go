package clusterops

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// Rescan reconciles metadata against the live replication topology along
// the three §4.7 dimensions: adds, removes, and per-member refresh of
// server_id/recovery-account.
type Rescan struct {
	ClusterID     string
	Storage       *metadata.Storage
	Primary       *instance.Instance
	LiveMembers   []*instance.Instance // every reachable live member, Primary included
	AllowedHost   string
	Logger        *console.Logger

	base *command.Base

	Added, Removed []string
	Refreshed      []string
}

func (c *Rescan) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)
	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Primary)
}

func (c *Rescan) Execute(ctx context.Context) error {
	known, err := c.Storage.ListInstances(ctx, c.ClusterID)
	if err != nil {
		return err
	}
	knownByUUID := make(map[string]metadata.Instance, len(known))
	for _, k := range known {
		knownByUUID[k.UUID] = k
	}
	liveByUUID := make(map[string]*instance.Instance, len(c.LiveMembers))
	for _, m := range c.LiveMembers {
		liveByUUID[m.GetUUID()] = m
	}

	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}

	// (a) members replicating but not yet in metadata.
	for uuid, member := range liveByUUID {
		if _, ok := knownByUUID[uuid]; ok {
			continue
		}
		account, err := accounts.Create(ctx, c.Primary, member.GetServerID(), c.AllowedHost)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := c.Storage.AddInstance(ctx, tx, metadata.Instance{
			ClusterID:    c.ClusterID,
			UUID:         uuid,
			Label:        member.Endpoint(),
			Endpoint:     member.Endpoint(),
			GREndpoint:   groupReplicationLocalAddress(member),
			InstanceType: metadata.InstanceGroupMember,
		}); err != nil {
			tx.Rollback()
			return err
		}
		if err := c.Storage.SetRecoveryAccount(ctx, tx, metadata.RecoveryAccount{
			InstanceUUID: uuid, User: account.User, Host: account.Host,
		}); err != nil {
			tx.Rollback()
			return err
		}
		c.Added = append(c.Added, uuid)
	}

	// (b) members in metadata that are no longer replicating, unless
	// already marked invalidated.
	for uuid, k := range knownByUUID {
		if k.Invalidated {
			continue
		}
		if _, ok := liveByUUID[uuid]; ok {
			continue
		}
		if err := c.Storage.RemoveInstance(ctx, tx, uuid); err != nil {
			tx.Rollback()
			return err
		}
		c.Removed = append(c.Removed, uuid)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// (c) refresh server_id / recovery-account username for members
	// present in both views.
	for uuid, member := range liveByUUID {
		if _, ok := knownByUUID[uuid]; !ok {
			continue
		}
		account, rotated, err := accounts.ReconcileMember(ctx, c.Primary, member, c.AllowedHost)
		if err != nil {
			return err
		}
		if rotated {
			if err := c.Storage.SetRecoveryAccountAutocommit(ctx, metadata.RecoveryAccount{
				InstanceUUID: uuid, User: account.User, Host: account.Host,
			}); err != nil {
				return err
			}
			c.Refreshed = append(c.Refreshed, uuid)
		}
	}
	return nil
}

func (c *Rescan) Rollback(ctx context.Context) error {
	return nil
}

func (c *Rescan) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}
