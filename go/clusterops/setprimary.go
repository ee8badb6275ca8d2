package clusterops

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// asyncClusterSetChannel is the replication channel name GR refuses to
// elect a new PRIMARY through; a non-primary cluster of a ClusterSet must
// stop it before Set Primary can run.
const asyncClusterSetChannel = "clusterset_replication"

// SetPrimary moves the PRIMARY role to NewPrimaryUUID, per the §4.7 Set
// Primary core.
type SetPrimary struct {
	Members           []*instance.Instance // full group membership; the UDF can run on any member
	NewPrimaryUUID    string
	ClusterID         string
	Storage           *metadata.Storage
	IsClusterSetMember bool // true when this cluster is a non-primary ClusterSet member
	RunningTxTimeoutSeconds int
	Logger            *console.Logger

	base *command.Base
}

func (c *SetPrimary) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)
	if len(c.Members) == 0 {
		return dbaerr.New(dbaerr.CodeGroupUnreachable, "no reachable member to run the election through")
	}

	cluster, err := c.Storage.GetCluster(ctx, c.ClusterID)
	if err != nil {
		return err
	}
	if cluster.TopologyType != metadata.TopologySinglePrimary {
		return dbaerr.New(dbaerr.CodeOperationRequiresSinglePrimary, "set primary requires a SINGLE_PRIMARY cluster")
	}

	grSinglePrimary, err := groupSinglePrimaryMode(ctx, c.Members[0])
	if err != nil {
		return err
	}
	if err := command.RequireTopologyAgreement(true, grSinglePrimary); err != nil {
		return err
	}

	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Members[0])
}

func (c *SetPrimary) Execute(ctx context.Context) error {
	any := c.Members[0]

	if c.IsClusterSetMember {
		if _, err := any.Execute(ctx, "stop replica for channel '"+asyncClusterSetChannel+"'"); err != nil {
			return err
		}
	}

	if _, err := any.Execute(ctx, fmtGRSetAsPrimary(c.NewPrimaryUUID, c.RunningTxTimeoutSeconds)); err != nil {
		return err
	}

	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}
	if err := c.Storage.SetPrimaryMaster(ctx, tx, c.ClusterID, c.NewPrimaryUUID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *SetPrimary) Rollback(ctx context.Context) error {
	// The GR election itself is not safely reversible once the UDF call
	// has returned; an operator who needs the prior PRIMARY back issues a
	// fresh Set Primary rather than relying on an automatic undo here.
	return nil
}

func (c *SetPrimary) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}
