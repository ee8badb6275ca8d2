package schema

import (
	"context"
	"fmt"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// BackupHandler knows how to produce a valid backup schema from a live
// schema at a given version, and how to restore it back. The base
// handler (below) re-runs the version's own DDL against the backup name
// and copies table data; version-specific handlers override one or both
// steps where the live DDL can't simply be replayed unmodified.
type BackupHandler interface {
	// Backup copies sourceSchema (the live or "_previous" schema) into
	// destSchema at version v.
	Backup(ctx context.Context, sess *instance.Instance, v Version, sourceSchema, destSchema string) error
	// Restore copies destSchema back into sourceSchema.
	Restore(ctx context.Context, sess *instance.Instance, v Version, destSchema, sourceSchema string) error
}

// tableNames lists every base table CurrentDDL creates, in dependency
// order (instances before clusters' FK target, etc. - actually clusters
// must exist before instances references it, so clusters first).
var tableNames = []string{
	"clusters",
	"instances",
	"routers",
	"clustersets",
	"clusterset_members",
	"clusterset_views",
	"async_cluster_views",
}

// baseHandler is the generic handler: re-create every table of the DDL
// set under destSchema, then INSERT...SELECT every row across.
type baseHandler struct {
	ddl func(schemaName string) []string
}

func (h *baseHandler) Backup(ctx context.Context, sess *instance.Instance, v Version, sourceSchema, destSchema string) error {
	for _, stmt := range h.ddl(destSchema) {
		if _, err := sess.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	for _, t := range tableNames {
		stmt := fmt.Sprintf("insert into %s.%s select * from %s.%s", destSchema, t, sourceSchema, t)
		if _, err := sess.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (h *baseHandler) Restore(ctx context.Context, sess *instance.Instance, v Version, destSchema, sourceSchema string) error {
	for _, t := range tableNames {
		if _, err := sess.Execute(ctx, fmt.Sprintf("delete from %s.%s", sourceSchema, t)); err != nil {
			return err
		}
		stmt := fmt.Sprintf("insert into %s.%s select * from %s.%s", sourceSchema, t, destSchema, t)
		if _, err := sess.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// fkDropHandler wraps a base handler but drops the instances.cluster_id
// foreign key before copying and restores it after, per the 1.0.1
// upgrade path: enforce_update_everywhere_checks=ON (multi-primary)
// makes the FK illegal during the copy window. Per §9's preserved
// hazard: if Restore (the "reinstall the FK" half) fails after the data
// copy already succeeded, the source schema is left without its FK -
// this module does not paper over that; it is the documented behavior.
type fkDropHandler struct {
	base          *baseHandler
	fkName        string
}

const fkDropDDL = "alter table %s.instances drop foreign key %s"
const fkAddDDL = "alter table %s.instances add constraint %s foreign key (cluster_id) references %s.clusters (cluster_id)"

func (h *fkDropHandler) Backup(ctx context.Context, sess *instance.Instance, v Version, sourceSchema, destSchema string) error {
	if _, err := sess.Execute(ctx, fmt.Sprintf(fkDropDDL, sourceSchema, h.fkName)); err != nil {
		return err
	}
	if err := h.base.Backup(ctx, sess, v, sourceSchema, destSchema); err != nil {
		return err
	}
	if _, err := sess.Execute(ctx, fmt.Sprintf(fkDropDDL, destSchema, h.fkName)); err != nil {
		return err
	}
	return nil
}

func (h *fkDropHandler) Restore(ctx context.Context, sess *instance.Instance, v Version, destSchema, sourceSchema string) error {
	if err := h.base.Restore(ctx, sess, v, destSchema, sourceSchema); err != nil {
		return err
	}
	_, err := sess.Execute(ctx, fmt.Sprintf(fkAddDDL, sourceSchema, h.fkName, sourceSchema))
	return err
}

// handlers is the version-indexed backup handler registry.
var handlers = map[Version]BackupHandler{
	{Major: 1, Minor: 0, Patch: 1}: &fkDropHandler{
		base:   &baseHandler{ddl: v101DDL},
		fkName: "instances_ibfk_1",
	},
	{Major: 2, Minor: 0, Patch: 0}: &baseHandler{ddl: currentDDLFor(metadata.SchemaName)},
	{Major: 2, Minor: 1, Patch: 0}: &baseHandler{ddl: currentDDLFor(metadata.SchemaName)},
}

// HandlerFor returns the registered backup handler for v, or the base
// handler rendered against CurrentDDL if v has no dedicated entry -
// matching the algorithm's "the base handler re-runs the V DDL" default.
func HandlerFor(v Version) BackupHandler {
	if h, ok := handlers[v]; ok {
		return h
	}
	return &baseHandler{ddl: currentDDLFor(metadata.SchemaName)}
}

// currentDDLFor renders metadata.CurrentDDL's statements against an
// alternate schema name, by textual substitution of the live schema name.
func currentDDLFor(liveSchema string) func(string) []string {
	return func(destSchema string) []string {
		out := make([]string, len(metadata.CurrentDDL))
		for i, stmt := range metadata.CurrentDDL {
			out[i] = replaceSchema(stmt, liveSchema, destSchema)
		}
		return out
	}
}

// v101DDL is the 1.0.1 schema's table set - a subset of CurrentDDL
// lacking clustersets/clusterset_members/clusterset_views, which ClusterSet
// support (added at 2.0.0) introduced.
func v101DDL(destSchema string) []string {
	base := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + destSchema,
		`CREATE TABLE IF NOT EXISTS ` + destSchema + `.clusters (
			cluster_id VARCHAR(36) NOT NULL PRIMARY KEY,
			cluster_name VARCHAR(63) NOT NULL,
			cluster_type ENUM('gr','ar') NOT NULL,
			description TEXT,
			options JSON,
			attributes JSON,
			UNIQUE KEY (cluster_name)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + destSchema + `.instances (
			instance_id BIGINT AUTO_INCREMENT PRIMARY KEY,
			cluster_id VARCHAR(36) NOT NULL,
			mysql_server_uuid VARCHAR(36) NOT NULL,
			instance_name VARCHAR(265) NOT NULL,
			addresses JSON NOT NULL,
			attributes JSON,
			UNIQUE KEY (mysql_server_uuid),
			UNIQUE KEY (instance_name),
			CONSTRAINT instances_ibfk_1 FOREIGN KEY (cluster_id) REFERENCES ` + destSchema + `.clusters (cluster_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + destSchema + `.routers (
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
		`CREATE OR REPLACE VIEW ` + destSchema + `.schema_version (major, minor, patch) AS SELECT 1, 0, 1`,
	}
	return base
}

func replaceSchema(stmt, from, to string) string {
	out := make([]byte, 0, len(stmt))
	i := 0
	for i < len(stmt) {
		if i+len(from) <= len(stmt) && stmt[i:i+len(from)] == from {
			out = append(out, to...)
			i += len(from)
			continue
		}
		out = append(out, stmt[i])
		i++
	}
	return string(out)
}
