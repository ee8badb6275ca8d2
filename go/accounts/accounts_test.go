package accounts

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

func openFakeSession(t *testing.T, uuid string, serverID int) (*instance.Instance, sqlmock.Sqlmock) {
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

func TestGeneratePasswordLengthAndAlphabet(t *testing.T) {
	pw, err := GeneratePassword()
	if err != nil {
		t.Fatalf("GeneratePassword: %v", err)
	}
	if len(pw) != passwordLength {
		t.Fatalf("got length %d, want %d", len(pw), passwordLength)
	}
	for _, c := range pw {
		if !strings_ContainsRune(passwordAlphabet, c) {
			t.Fatalf("password %q contains disallowed char %q", pw, c)
		}
	}
}

func strings_ContainsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestAccountNameFor(t *testing.T) {
	if got := AccountNameFor(5001); got != "mysql_innodb_cluster_5001" {
		t.Fatalf("got %q", got)
	}
}

func TestIsLegacyAccount(t *testing.T) {
	if !IsLegacyAccount("mysql_innodb_cluster_r123") {
		t.Fatal("expected legacy prefix match")
	}
	if IsLegacyAccount("mysql_innodb_cluster_5001") {
		t.Fatal("current-format account must not be flagged legacy")
	}
}

func TestReconcileMemberCreatesOnMismatch(t *testing.T) {
	primary, pMock := openFakeSession(t, "uuid-primary", 1)
	member, mMock := openFakeSession(t, "uuid-member", 5002)

	mMock.ExpectQuery(regexp.QuoteMeta(
		"select user from performance_schema.replication_connection_configuration")).
		WillReturnRows(sqlmock.NewRows([]string{"user"}).AddRow("mysql_innodb_cluster_r999"))

	pMock.ExpectExec(regexp.QuoteMeta("create user if not exists 'mysql_innodb_cluster_5002'@'%'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	pMock.ExpectExec(regexp.QuoteMeta("grant replication slave on *.* to 'mysql_innodb_cluster_5002'@'%'")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mMock.ExpectExec(regexp.QuoteMeta("change master to master_user='mysql_innodb_cluster_5002'")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	account, created, err := ReconcileMember(context.Background(), primary, member, "")
	if err != nil {
		t.Fatalf("ReconcileMember: %v", err)
	}
	if !created {
		t.Fatal("expected a new account to be created on mismatch")
	}
	if account.User != "mysql_innodb_cluster_5002" {
		t.Fatalf("got user %q", account.User)
	}
}
