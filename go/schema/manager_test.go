package schema

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

func openFakeSession(t *testing.T) (*instance.Instance, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("select @@server_uuid, @@server_id, @@version, @@report_host")).
		WillReturnRows(sqlmock.NewRows([]string{"@@server_uuid", "@@server_id", "@@version", "@@report_host"}).
			AddRow("primary-uuid", 1, "8.0.34", ""))
	sess, err := instance.FromDB(context.Background(), db, instance.Options{Host: "p", Port: 3306, User: "root"}, nil)
	if err != nil {
		t.Fatalf("FromDB: %v", err)
	}
	return sess, mock
}

// TestRecoverFromUpgradingCrash is scenario 4: a crash leaves backup_stage
// at UPGRADING, before any version step has run. Recovery must restore
// the live schema from the backup and set schema_version back to the
// version recorded in the backup.
func TestRecoverFromUpgradingCrash(t *testing.T) {
	sess, mock := openFakeSession(t)

	mock.ExpectQuery(regexp.QuoteMeta("select major, minor, patch from mysql_innodb_cluster_metadata.schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"major", "minor", "patch"}).AddRow(0, 0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select schema_name from information_schema.schemata")).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("mysql_innodb_cluster_metadata_bkp"))
	mock.ExpectQuery(regexp.QuoteMeta("select stage from mysql_innodb_cluster_metadata_bkp.backup_stage")).
		WillReturnRows(sqlmock.NewRows([]string{"stage"}).AddRow("UPGRADING"))
	mock.ExpectQuery(regexp.QuoteMeta("select major, minor, patch from mysql_innodb_cluster_metadata_bkp.schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"major", "minor", "patch"}).AddRow(1, 0, 1))

	// fkDropHandler.Restore: base.Restore deletes+copies every table back
	// from the backup schema, then re-adds the dropped FK.
	for _, tbl := range tableNames {
		mock.ExpectExec(regexp.QuoteMeta("delete from mysql_innodb_cluster_metadata." + tbl)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(
			"insert into mysql_innodb_cluster_metadata." + tbl + " select * from mysql_innodb_cluster_metadata_bkp." + tbl)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta(
		"alter table mysql_innodb_cluster_metadata.instances add constraint instances_ibfk_1 foreign key")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(regexp.QuoteMeta("create or replace view mysql_innodb_cluster_metadata.schema_version")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("drop schema if exists mysql_innodb_cluster_metadata_bkp")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := New(nil)
	if err := m.recoverIfNeeded(context.Background(), sess); err != nil {
		t.Fatalf("recoverIfNeeded: %v", err)
	}
}

func TestObserveNoBackupAtTarget(t *testing.T) {
	sess, mock := openFakeSession(t)

	mock.ExpectQuery(regexp.QuoteMeta("select major, minor, patch from mysql_innodb_cluster_metadata.schema_version")).
		WillReturnRows(sqlmock.NewRows([]string{"major", "minor", "patch"}).AddRow(2, 1, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select schema_name from information_schema.schemata")).
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}))

	m := New(nil)
	obs, err := m.Observe(context.Background(), sess)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.BackupExists {
		t.Fatal("expected no backup schema")
	}
	if !obs.SchemaVer.Equal(TargetVersion) {
		t.Fatalf("got version %s, want %s", obs.SchemaVer, TargetVersion)
	}
	state, ok := Classify(obs)
	if !ok || state != StateOK {
		t.Fatalf("got state %q ok=%v, want OK", state, ok)
	}
}
