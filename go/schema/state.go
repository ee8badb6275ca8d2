package schema

// BackupStage mirrors the backup_stage view's possible values.
type BackupStage string

const (
	StageNone                  BackupStage = ""
	StageSettingUpgradeVersion BackupStage = "SETTING_UPGRADE_VERSION"
	StageUpgrading             BackupStage = "UPGRADING"
	StageDone                  BackupStage = "DONE"
	StageCleanup               BackupStage = "CLEANUP"
)

// LogicalState is computed from the (backup_stage, schema_version,
// backup_exists) triple, per the §4.4 logical-state table.
type LogicalState string

const (
	StateOK                    LogicalState = "OK"
	StateNone                  LogicalState = "NONE"
	StateSettingUpgradeVersion LogicalState = "SETTING_UPGRADE_VERSION"
	StateUpgrading             LogicalState = "UPGRADING"
	StateDone                  LogicalState = "DONE"
	StateCleanup               LogicalState = "CLEANUP"
)

// Observation is the raw (backup_stage, schema_version, backup_exists)
// reading taken at the start of every invocation.
type Observation struct {
	Stage        BackupStage
	SchemaVer    Version
	BackupExists bool
	// BackupVer is the version recorded in the backup schema's own
	// schema_version view, read only when BackupExists; UPGRADING
	// recovery restores using the backup handler for this version.
	BackupVer Version
}

// Classify computes the logical state from an Observation, per the
// §4.4.4 table. Any combination not covered is a logic error: the
// manager has observed something the upgrade algorithm cannot produce,
// and the caller should treat it as SchemaLogicError rather than guess.
func Classify(o Observation) (LogicalState, bool) {
	if !o.BackupExists {
		if o.SchemaVer.IsZero() {
			return "", false
		}
		return StateOK, true
	}

	switch o.Stage {
	case StageNone:
		if o.SchemaVer.IsZero() {
			return StateCleanup, true
		}
		return StateNone, true
	case StageDone:
		if o.SchemaVer.IsZero() {
			return StateDone, true
		}
		return "", false
	case StageUpgrading:
		return StateUpgrading, true
	case StageSettingUpgradeVersion:
		if o.SchemaVer.IsZero() {
			return StateSettingUpgradeVersion, true
		}
		return StateNone, true
	default:
		return "", false
	}
}
