package clusterops

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

func openFakeInstance(t *testing.T, uuid string, serverID int) (*instance.Instance, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("select @@server_uuid, @@server_id, @@version, @@report_host")).
		WillReturnRows(sqlmock.NewRows([]string{"@@server_uuid", "@@server_id", "@@version", "@@report_host"}).
			AddRow(uuid, serverID, "8.0.34", ""))
	sess, err := instance.FromDB(context.Background(), db, instance.Options{Host: uuid, Port: 3306, User: "root"}, nil)
	if err != nil {
		t.Fatalf("FromDB: %v", err)
	}
	return sess, mock
}

func openFakeStorage(t *testing.T) (*metadata.Storage, sqlmock.Sqlmock) {
	t.Helper()
	sess, mock := openFakeInstance(t, "md-uuid", 1)
	return metadata.New(sess), mock
}

func TestSetPrimaryRequiresSinglePrimaryMode(t *testing.T) {
	storage, mock := openFakeStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta("select cluster_id, cluster_name, cluster_type, topology_type, group_name, cluster_set_id, attributes")).
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id", "cluster_name", "cluster_type", "topology_type", "group_name", "cluster_set_id", "attributes"}).
			AddRow("cs1", "prod", "GROUP_REPLICATION", "MULTI_PRIMARY", "grp1", nil, nil))

	any, _ := openFakeInstance(t, "m1", 1001)

	cmd := &SetPrimary{
		Members:        []*instance.Instance{any},
		NewPrimaryUUID: "m1",
		ClusterID:      "cs1",
		Storage:        storage,
	}
	err := cmd.Prepare(context.Background())
	if !dbaerr.Of(err, dbaerr.CodeOperationRequiresSinglePrimary) {
		t.Fatalf("expected CodeOperationRequiresSinglePrimary, got %v", err)
	}
}

func TestRemoveInstanceLastMemberCannotRemove(t *testing.T) {
	storage, _ := openFakeStorage(t)
	target, _ := openFakeInstance(t, "only-member", 1001)

	cmd := &RemoveInstance{
		Target:           target,
		RemainingMembers: nil,
		Storage:          storage,
		ClusterID:        "cs1",
	}
	err := cmd.Prepare(context.Background())
	if !dbaerr.Of(err, dbaerr.CodeLastMemberCannotRemove) {
		t.Fatalf("expected CodeLastMemberCannotRemove, got %v", err)
	}
}

func TestAddInstanceRejectsDifferentGroup(t *testing.T) {
	storage, sMock := openFakeStorage(t)
	target, tMock := openFakeInstance(t, "joiner", 2002)

	tMock.ExpectQuery(regexp.QuoteMeta("select plugin_status from information_schema.plugins")).
		WillReturnRows(sqlmock.NewRows([]string{"plugin_status"}).AddRow("ACTIVE"))
	tMock.ExpectQuery(regexp.QuoteMeta("show GLOBAL variables like 'group_replication_group_name'")).
		WillReturnRows(sqlmock.NewRows([]string{"variable_name", "value"}).AddRow("group_replication_group_name", "other-group"))

	sMock.ExpectQuery(regexp.QuoteMeta("select cluster_id, cluster_name, cluster_type, topology_type, group_name, cluster_set_id, attributes")).
		WillReturnRows(sqlmock.NewRows([]string{"cluster_id", "cluster_name", "cluster_type", "topology_type", "group_name", "cluster_set_id", "attributes"}).
			AddRow("cs1", "prod", "GROUP_REPLICATION", "SINGLE_PRIMARY", "my-group", nil, nil))

	cmd := &AddInstance{
		Primary:   target,
		Target:    target,
		Storage:   storage,
		ClusterID: "cs1",
	}
	err := cmd.Prepare(context.Background())
	if !dbaerr.Of(err, dbaerr.CodeBadArgDuplicateUUID) {
		t.Fatalf("expected CodeBadArgDuplicateUUID, got %v", err)
	}
}
