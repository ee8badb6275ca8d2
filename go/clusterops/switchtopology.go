package clusterops

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// SwitchTopology flips a group between single-primary and multi-primary
// mode, per the §4.7 Switch Topology core.
type SwitchTopology struct {
	Members        []*instance.Instance
	ClusterID      string
	Storage        *metadata.Storage
	ToMultiPrimary bool
	NewPrimaryUUID string // used only when switching to single-primary; "" lets GR pick
	Logger         *console.Logger

	base *command.Base
}

func (c *SwitchTopology) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)
	if len(c.Members) == 0 {
		return nil
	}
	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Members[0])
}

func (c *SwitchTopology) Execute(ctx context.Context) error {
	any := c.Members[0]
	stmt := fmtGRSwitchToSinglePrimary(c.NewPrimaryUUID)
	if c.ToMultiPrimary {
		stmt = fmtGRSwitchToMultiPrimary()
	}
	if _, err := any.Execute(ctx, stmt); err != nil {
		return err
	}

	for _, m := range c.Members {
		increment, offset := autoIncrementSettingsFor(c.ToMultiPrimary, m.GetServerID())
		if err := m.SetSysVar(ctx, instance.ScopeGlobal, "auto_increment_increment", formatUint(uint32(increment))); err != nil {
			return err
		}
		if err := m.SetSysVar(ctx, instance.ScopeGlobal, "auto_increment_offset", formatUint(uint32(offset))); err != nil {
			return err
		}
	}

	newType := metadata.TopologySinglePrimary
	if c.ToMultiPrimary {
		newType = metadata.TopologyMultiPrimary
	}
	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}
	if err := c.Storage.SetTopologyType(ctx, tx, c.ClusterID, newType); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *SwitchTopology) Rollback(ctx context.Context) error {
	return nil
}

func (c *SwitchTopology) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}
