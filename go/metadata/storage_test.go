package metadata

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

func openFakeStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("select @@server_uuid, @@server_id, @@version, @@report_host")).
		WillReturnRows(sqlmock.NewRows([]string{"@@server_uuid", "@@server_id", "@@version", "@@report_host"}).
			AddRow("md-uuid", 1, "8.0.34", ""))
	sess, err := instance.FromDB(context.Background(), db, instance.Options{Host: "md", Port: 3306, User: "root"}, nil)
	if err != nil {
		t.Fatalf("FromDB: %v", err)
	}
	return New(sess), mock
}

func TestCreateClusterAndAddInstance(t *testing.T) {
	s, mock := openFakeStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into mysql_innodb_cluster_metadata.clusters")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("select instance_id from mysql_innodb_cluster_metadata.instances where mysql_server_uuid")).
		WillReturnRows(sqlmock.NewRows([]string{"instance_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("select instance_id from mysql_innodb_cluster_metadata.instances where json_search")).
		WillReturnRows(sqlmock.NewRows([]string{"instance_id"}))
	mock.ExpectExec(regexp.QuoteMeta("insert into mysql_innodb_cluster_metadata.instances")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.CreateCluster(context.Background(), tx, Cluster{
		ClusterID: "cs1", Name: "prod", Type: ClusterTypeGroupReplication, TopologyType: TopologySinglePrimary,
	}); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if err := s.AddInstance(context.Background(), tx, Instance{
		ClusterID: "cs1", UUID: "inst-uuid-1", Label: "node1", Endpoint: "node1:3306",
	}); err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(tx.undo) != 0 {
		t.Fatalf("expected undo log cleared after commit, got %d entries", len(tx.undo))
	}
}

func TestAddInstanceDuplicateUUID(t *testing.T) {
	s, mock := openFakeStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("select instance_id from mysql_innodb_cluster_metadata.instances where mysql_server_uuid")).
		WillReturnRows(sqlmock.NewRows([]string{"instance_id"}).AddRow(1))
	mock.ExpectRollback()

	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = s.AddInstance(context.Background(), tx, Instance{
		ClusterID: "cs1", UUID: "dup-uuid", Label: "node1", Endpoint: "node1:3306",
	})
	if !dbaerr.Of(err, dbaerr.CodeBadArgDuplicateUUID) {
		t.Fatalf("expected CodeBadArgDuplicateUUID, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestTransactionUndoReplaysInReverse(t *testing.T) {
	s, mock := openFakeStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into mysql_innodb_cluster_metadata.clusters")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	// Undo replays the delete against the plain session, after commit.
	mock.ExpectExec(regexp.QuoteMeta("delete from mysql_innodb_cluster_metadata.clusters where cluster_id = ?")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.CreateCluster(context.Background(), tx, Cluster{
		ClusterID: "cs1", Name: "prod", Type: ClusterTypeGroupReplication, TopologyType: TopologySinglePrimary,
	}); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	undo := tx.undo
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Commit clears tx.undo; replay what we captured, as a caller composing
	// a rollback across a later server-side failure would.
	tx.undo = undo
	if err := tx.Undo(context.Background(), s.sess); err != nil {
		t.Fatalf("Undo: %v", err)
	}
}
