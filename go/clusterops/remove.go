package clusterops

import (
	"context"
	"strings"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// RemoveInstance removes Target from its group and from metadata, per the
// §4.7 Remove Instance core. It is one of the documented exceptions to the
// metadata-commits-before-MySQL-change pattern: the metadata transaction is
// held open across the server-side removal and only committed once GR
// acknowledges the member is gone, so a mid-flight failure rolls back with
// a plain transaction rollback instead of a replayed undo log.
type RemoveInstance struct {
	Target         *instance.Instance   // the member being removed
	RemainingMembers []*instance.Instance // every other member, for the last-member check and protocol upgrade
	Storage        *metadata.Storage
	ClusterID      string
	Logger         *console.Logger

	base *command.Base
}

func (c *RemoveInstance) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)

	memberUUIDs := make([]string, 0, len(c.RemainingMembers)+1)
	memberUUIDs = append(memberUUIDs, c.Target.GetUUID())
	for _, m := range c.RemainingMembers {
		memberUUIDs = append(memberUUIDs, m.GetUUID())
	}
	if err := command.RequireMember(c.Target.GetUUID(), memberUUIDs); err != nil {
		return err
	}
	if len(c.RemainingMembers) == 0 {
		return dbaerr.New(dbaerr.CodeLastMemberCannotRemove, "cannot remove the last member of a cluster; dissolve it instead")
	}

	if len(c.RemainingMembers) > 0 {
		return c.base.DisableSuperReadOnlyIfWriting(ctx, c.RemainingMembers[0])
	}
	return nil
}

func (c *RemoveInstance) Execute(ctx context.Context) error {
	row, err := c.Storage.GetInstance(ctx, c.Target.GetUUID())
	if err != nil {
		return err
	}

	oldFloor := groupReplicationFloorVersion(append(c.RemainingMembers, c.Target))

	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}
	if err := c.Storage.RemoveInstance(ctx, tx, c.Target.GetUUID()); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := c.Target.Execute(ctx, "stop group_replication"); err != nil {
		tx.Rollback()
		return err
	}

	primary := c.RemainingMembers[0]
	user, host := row.Tags["recoveryAccountUser"], row.Tags["recoveryAccountHost"]
	if user != "" {
		if err := accounts.Drop(ctx, primary, user, host); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	newFloor := groupReplicationFloorVersion(c.RemainingMembers)
	if newFloor != "" && newFloor != oldFloor {
		if _, err := primary.Execute(ctx, "select group_replication_set_communication_protocol('"+newFloor+"')"); err != nil {
			if c.Logger != nil {
				c.Logger.Warning("upgrading GR communication protocol to %s after removal failed: %v", newFloor, err)
			}
		}
	}
	return nil
}

func (c *RemoveInstance) Rollback(ctx context.Context) error {
	// The metadata transaction was rolled back directly inside Execute on
	// the first failure; nothing further to undo here.
	return nil
}

func (c *RemoveInstance) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}

// groupReplicationFloorVersion returns the lowest @@version string among
// members, by plain lexical comparison of the dot-separated numeric
// components - good enough for the well-formed X.Y.Z strings MySQL
// reports, without pulling in a semver dependency for a three-field
// comparison.
func groupReplicationFloorVersion(members []*instance.Instance) string {
	floor := ""
	for _, m := range members {
		v := m.GetVersion()
		if v == "" {
			continue
		}
		if floor == "" || versionLess(v, floor) {
			floor = v
		}
	}
	return floor
}

func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}
