package metadata

// SchemaName is the catalog schema's fixed name, referenced by the
// advisory lock name in §6.
const SchemaName = "mysql_innodb_cluster_metadata"

// BackupSchemaName and PreviousSchemaName are the transient schemas C4
// creates during an upgrade step.
const (
	BackupSchemaName   = SchemaName + "_bkp"
	PreviousSchemaName = SchemaName + "_previous"
)

// CurrentDDL is the bit-exact table set §6 requires, at the schema
// version this module was built for (2.1.0, following the version
// history implied by the §4.4 upgrade-path table).
var CurrentDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS ` + SchemaName,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.clusters (
		cluster_id VARCHAR(36) NOT NULL PRIMARY KEY,
		cluster_name VARCHAR(63) NOT NULL,
		cluster_type ENUM('gr','ar') NOT NULL,
		topology_type ENUM('sp','mp','none') NOT NULL DEFAULT 'none',
		group_name VARCHAR(36),
		cluster_set_id VARCHAR(36),
		description TEXT,
		options JSON,
		attributes JSON,
		UNIQUE KEY (cluster_name)
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.instances (
		instance_id BIGINT AUTO_INCREMENT PRIMARY KEY,
		cluster_id VARCHAR(36) NOT NULL,
		mysql_server_uuid VARCHAR(36) NOT NULL,
		instance_name VARCHAR(265) NOT NULL,
		addresses JSON NOT NULL,
		attributes JSON,
		primary_master BOOLEAN NOT NULL DEFAULT FALSE,
		invalidated BOOLEAN NOT NULL DEFAULT FALSE,
		master_instance_id BIGINT,
		UNIQUE KEY (mysql_server_uuid),
		UNIQUE KEY (instance_name),
		FOREIGN KEY (cluster_id) REFERENCES ` + SchemaName + `.clusters (cluster_id)
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.routers (
		router_id BIGINT AUTO_INCREMENT PRIMARY KEY,
		router_name VARCHAR(265) NOT NULL,
		product_name VARCHAR(128) NOT NULL,
		address VARCHAR(265) NOT NULL,
		version VARCHAR(12),
		last_check_in TIMESTAMP NULL,
		attributes JSON,
		cluster_id VARCHAR(36),
		UNIQUE KEY (router_name, address)
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.clustersets (
		clusterset_id VARCHAR(36) NOT NULL PRIMARY KEY,
		domain_name VARCHAR(63) NOT NULL,
		options JSON,
		attributes JSON
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.clusterset_members (
		clusterset_id VARCHAR(36) NOT NULL,
		cluster_id VARCHAR(36) NOT NULL PRIMARY KEY,
		master_cluster_id VARCHAR(36) NOT NULL,
		primary_cluster BOOLEAN NOT NULL DEFAULT FALSE,
		invalidated BOOLEAN NOT NULL DEFAULT FALSE,
		attributes JSON,
		FOREIGN KEY (clusterset_id) REFERENCES ` + SchemaName + `.clustersets (clusterset_id)
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.clusterset_views (
		clusterset_id VARCHAR(36) NOT NULL,
		view_id BIGINT NOT NULL,
		view JSON NOT NULL,
		view_change_reason VARCHAR(64),
		view_change_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (clusterset_id, view_id)
	)`,

	`CREATE TABLE IF NOT EXISTS ` + SchemaName + `.async_cluster_views (
		cluster_id VARCHAR(36) NOT NULL,
		view_id BIGINT NOT NULL,
		topology_type ENUM('sp','mp') NOT NULL,
		view JSON NOT NULL,
		PRIMARY KEY (cluster_id, view_id)
	)`,

	`CREATE OR REPLACE VIEW ` + SchemaName + `.schema_version (major, minor, patch) AS SELECT 2, 1, 0`,
}

// BackupStageView is re-created by C4 on every upgrade step, in
// BackupSchemaName; it always holds exactly one row.
const BackupStageViewDDL = `CREATE OR REPLACE VIEW ` + BackupSchemaName + `.backup_stage (stage) AS SELECT %q`
