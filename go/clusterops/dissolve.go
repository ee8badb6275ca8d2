package clusterops

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// Dissolve tears a cluster down entirely: stop GR on every member, drop
// each one's recovery account, then delete its metadata footprint in one
// transaction - the mirror image of CreateCluster, so that
// create(name); dissolve(name) leaves the catalog exactly as it was found.
type Dissolve struct {
	ClusterID string
	Storage   *metadata.Storage
	Members   []*instance.Instance
	Logger    *console.Logger

	base *command.Base
}

func (c *Dissolve) Prepare(ctx context.Context) error {
	c.base = command.NewBase(c.Logger)
	if len(c.Members) == 0 {
		return nil
	}
	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Members[0])
}

func (c *Dissolve) Execute(ctx context.Context) error {
	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}

	for _, m := range c.Members {
		row, err := c.Storage.GetInstance(ctx, m.GetUUID())
		if err != nil {
			tx.Rollback()
			return err
		}

		if _, err := m.Execute(ctx, "stop group_replication"); err != nil {
			tx.Rollback()
			return err
		}
		if user := row.Tags["recoveryAccountUser"]; user != "" {
			if err := accounts.Drop(ctx, m, user, row.Tags["recoveryAccountHost"]); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := c.Storage.RemoveInstance(ctx, tx, m.GetUUID()); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := c.Storage.DeleteCluster(ctx, tx, c.ClusterID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Dissolve) Rollback(ctx context.Context) error {
	return nil
}

func (c *Dissolve) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}
