package schema

import (
	"context"
	"fmt"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
	"github.com/mysql/innodbcluster-adminapi/go/metrics"
)

const lockName = metadata.SchemaName + ".upgrade_in_progress"

// Manager runs the crash-safe upgrade/recovery algorithm against a
// primary session that hosts the live catalog schema, coordinating an
// advisory lock across every other reachable member so only one upgrade
// runs fleet-wide at a time.
type Manager struct {
	logger  *console.Logger
	metrics *metrics.Registry
}

// New returns a Manager that logs through logger; pass nil for silence.
func New(logger *console.Logger) *Manager {
	return &Manager{logger: logger}
}

// SetMetrics attaches reg so subsequent upgrade steps are recorded; nil
// detaches it.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.metrics = reg
}

func (m *Manager) log(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Info(format, args...)
	}
}

// acquireLocks takes the upgrade_in_progress advisory lock on primary and
// every reachable member; unreachable members are logged and skipped,
// per step 1 of the upgrade algorithm. It returns the sessions that
// actually took the lock, so Release can free exactly those.
func (m *Manager) acquireLocks(ctx context.Context, primary *instance.Instance, members []*instance.Instance) ([]*instance.Instance, error) {
	held := make([]*instance.Instance, 0, len(members)+1)
	all := append([]*instance.Instance{primary}, members...)
	for _, sess := range all {
		rows, err := sess.Query(ctx, fmt.Sprintf("select get_lock(%q, 1) as l", lockName))
		if err != nil {
			if instance.IsConnectionError(err) {
				m.log("skipping unreachable member %s for upgrade lock", sess.GetUUID())
				continue
			}
			m.releaseLocks(ctx, held)
			return nil, err
		}
		if len(rows) == 0 || string(rows[0]["l"]) != "1" {
			m.releaseLocks(ctx, held)
			return nil, dbaerr.New(dbaerr.CodeSchemaUpgradeFailed, "a reachable member refused the upgrade lock")
		}
		held = append(held, sess)
	}
	return held, nil
}

func (m *Manager) releaseLocks(ctx context.Context, sessions []*instance.Instance) {
	for _, sess := range sessions {
		if _, err := sess.Execute(ctx, fmt.Sprintf("do release_lock(%q)", lockName)); err != nil {
			m.log("release_lock on %s failed: %v", sess.GetUUID(), err)
		}
	}
}

// Observe reads the (backup_stage, schema_version, backup_exists) triple
// off primary.
func (m *Manager) Observe(ctx context.Context, primary *instance.Instance) (Observation, error) {
	var o Observation

	rows, err := primary.Query(ctx, fmt.Sprintf(
		`select major, minor, patch from %s.schema_version`, metadata.SchemaName))
	if err != nil {
		return o, err
	}
	if len(rows) == 0 {
		return o, dbaerr.New(dbaerr.CodeSchemaLogicError, "schema_version view returned no row")
	}
	o.SchemaVer = versionFromRow(rows[0])

	exists, err := schemaExists(ctx, primary, metadata.BackupSchemaName)
	if err != nil {
		return o, err
	}
	o.BackupExists = exists
	if !exists {
		return o, nil
	}

	stageRows, err := primary.Query(ctx, fmt.Sprintf(`select stage from %s.backup_stage`, metadata.BackupSchemaName))
	if err != nil {
		return o, err
	}
	if len(stageRows) > 0 {
		o.Stage = BackupStage(stageRows[0]["stage"])
	}

	verRows, err := primary.Query(ctx, fmt.Sprintf(`select major, minor, patch from %s.schema_version`, metadata.BackupSchemaName))
	if err == nil && len(verRows) > 0 {
		o.BackupVer = versionFromRow(verRows[0])
	}
	return o, nil
}

func versionFromRow(r instance.Row) Version {
	return Version{
		Major: atoiSafe(string(r["major"])),
		Minor: atoiSafe(string(r["minor"])),
		Patch: atoiSafe(string(r["patch"])),
	}
}

func atoiSafe(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func schemaExists(ctx context.Context, sess *instance.Instance, name string) (bool, error) {
	rows, err := sess.Query(ctx, fmt.Sprintf(
		`select schema_name from information_schema.schemata where schema_name = %q`, name))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func dropSchema(ctx context.Context, sess *instance.Instance, name string) error {
	_, err := sess.Execute(ctx, fmt.Sprintf("drop schema if exists %s", name))
	return err
}

func setSchemaVersion(ctx context.Context, sess *instance.Instance, schema string, v Version) error {
	_, err := sess.Execute(ctx, fmt.Sprintf(
		`create or replace view %s.schema_version (major, minor, patch) as select %d, %d, %d`,
		schema, v.Major, v.Minor, v.Patch))
	return err
}

func setBackupStage(ctx context.Context, sess *instance.Instance, stage BackupStage) error {
	_, err := sess.Execute(ctx, fmt.Sprintf(metadata.BackupStageViewDDL, string(stage)))
	return err
}

// Upgrade runs the full crash-safe algorithm of §4.4: it first recovers
// any in-progress upgrade left by a prior crash, then - if the schema is
// still behind TargetVersion - walks the version path step by step.
// members is every other reachable instance in the group; unreachable
// ones are skipped for locking purposes.
func (m *Manager) Upgrade(ctx context.Context, primary *instance.Instance, members []*instance.Instance) error {
	held, err := m.acquireLocks(ctx, primary, members)
	if err != nil {
		return err
	}
	defer m.releaseLocks(ctx, held)

	if err := m.recoverIfNeeded(ctx, primary); err != nil {
		return dbaerr.Wrap(dbaerr.CodeSchemaUpgradeFailed, "recovery before upgrade failed", err)
	}

	obs, err := m.Observe(ctx, primary)
	if err != nil {
		return err
	}
	if obs.SchemaVer.Equal(TargetVersion) {
		return nil
	}

	if err := m.runUpgrade(ctx, primary, obs.SchemaVer); err != nil {
		if rerr := m.recoverIfNeeded(ctx, primary); rerr != nil {
			m.log("recovery after failed upgrade also failed: %v", rerr)
		}
		return err
	}
	return nil
}

// runUpgrade executes steps 2-10 of the algorithm starting from from.
func (m *Manager) runUpgrade(ctx context.Context, sess *instance.Instance, from Version) error {
	handler := HandlerFor(from)

	if err := handler.Backup(ctx, sess, from, metadata.SchemaName, metadata.BackupSchemaName); err != nil {
		return dbaerr.Wrap(dbaerr.CodeSchemaUpgradeFailed, "initial backup failed", err)
	}
	if err := setBackupStage(ctx, sess, StageSettingUpgradeVersion); err != nil {
		return err
	}
	if err := setSchemaVersion(ctx, sess, metadata.SchemaName, Version{}); err != nil {
		return err
	}
	if err := setBackupStage(ctx, sess, StageUpgrading); err != nil {
		return err
	}

	for _, step := range StepsFrom(from) {
		stepHandler := HandlerFor(step)
		if err := stepHandler.Backup(ctx, sess, step, metadata.SchemaName, metadata.PreviousSchemaName); err != nil {
			m.metrics.ObserveSchemaUpgrade(step.String(), false)
			return dbaerr.Wrap(dbaerr.CodeSchemaUpgradeFailed, "per-step backup failed", err)
		}
		if err := m.runStepDDL(ctx, sess, step); err != nil {
			m.metrics.ObserveSchemaUpgrade(step.String(), false)
			return dbaerr.Wrap(dbaerr.CodeSchemaUpgradeFailed, "step script failed for "+step.String(), err)
		}
		if err := dropSchema(ctx, sess, metadata.PreviousSchemaName); err != nil {
			m.metrics.ObserveSchemaUpgrade(step.String(), false)
			return err
		}
		m.metrics.ObserveSchemaUpgrade(step.String(), true)
	}

	if err := setBackupStage(ctx, sess, StageDone); err != nil {
		return err
	}
	if err := dropSchema(ctx, sess, metadata.BackupSchemaName); err != nil {
		return err
	}
	return setSchemaVersion(ctx, sess, metadata.SchemaName, TargetVersion)
}

// runStepDDL applies the idempotent DDL/DML that brings the schema up to
// step. Every step this module knows about converges on CurrentDDL,
// since the catalog's shape only ever grows (ClusterSet tables added at
// 2.0.0); a step with nothing further to add is a correct no-op.
func (m *Manager) runStepDDL(ctx context.Context, sess *instance.Instance, step Version) error {
	for _, stmt := range metadata.CurrentDDL {
		if _, err := sess.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// recoverIfNeeded classifies the current logical state and runs the
// corresponding §4.4 recovery action. It is idempotent: repeated calls on
// an already-recovered schema observe OK and do nothing.
func (m *Manager) recoverIfNeeded(ctx context.Context, sess *instance.Instance) error {
	obs, err := m.Observe(ctx, sess)
	if err != nil {
		return err
	}
	state, ok := Classify(obs)
	if !ok {
		return dbaerr.Newf(dbaerr.CodeSchemaLogicError,
			"unrecognized combination: stage=%q version=%s backup_exists=%v", obs.Stage, obs.SchemaVer, obs.BackupExists)
	}

	switch state {
	case StateOK:
		return nil
	case StateNone:
		return dropSchema(ctx, sess, metadata.BackupSchemaName)
	case StateSettingUpgradeVersion:
		if err := setSchemaVersion(ctx, sess, metadata.SchemaName, obs.BackupVer); err != nil {
			return err
		}
		return dropSchema(ctx, sess, metadata.BackupSchemaName)
	case StateUpgrading:
		handler := HandlerFor(obs.BackupVer)
		if err := handler.Restore(ctx, sess, obs.BackupVer, metadata.BackupSchemaName, metadata.SchemaName); err != nil {
			return err
		}
		if err := setSchemaVersion(ctx, sess, metadata.SchemaName, obs.BackupVer); err != nil {
			return err
		}
		return dropSchema(ctx, sess, metadata.BackupSchemaName)
	case StateDone:
		if err := dropSchema(ctx, sess, metadata.BackupSchemaName); err != nil {
			return err
		}
		return setSchemaVersion(ctx, sess, metadata.SchemaName, TargetVersion)
	case StateCleanup:
		return setSchemaVersion(ctx, sess, metadata.SchemaName, TargetVersion)
	default:
		return dbaerr.Newf(dbaerr.CodeSchemaLogicError, "unhandled logical state %s", state)
	}
}
