package locks

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

func openFakeMember(t *testing.T, uuid string) (*instance.Instance, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta("select @@server_uuid, @@server_id, @@version, @@report_host")).
		WillReturnRows(sqlmock.NewRows([]string{"@@server_uuid", "@@server_id", "@@version", "@@report_host"}).
			AddRow(uuid, 1, "8.0.34", ""))
	sess, err := instance.FromDB(context.Background(), db, instance.Options{Host: uuid, Port: 3306, User: "root"}, nil)
	if err != nil {
		t.Fatalf("FromDB(%s): %v", uuid, err)
	}
	return sess, mock
}

// TestAcquireTimesOutWithNoFTWRLHeld is scenario 6: one secondary never
// catches up, so Acquire must fail with GTID_SYNC_TIMEOUT, and never
// issue FLUSH TABLES WITH READ LOCK anywhere - the unreachable secondary
// never gets a query it would answer, and the primary is never touched
// because pre-sync runs before the primary's own FTWRL.
func TestAcquireTimesOutWithNoFTWRLHeld(t *testing.T) {
	primary, pMock := openFakeMember(t, "uuid-primary")
	secondary, sMock := openFakeMember(t, "uuid-secondary")

	pMock.ExpectQuery(regexp.QuoteMeta("show GLOBAL variables like 'gtid_executed'")).
		WillReturnRows(sqlmock.NewRows([]string{"Variable_name", "Value"}).
			AddRow("gtid_executed", "00000000-0000-0000-0000-000000000001:1-100"))
	// secondary never catches up; every poll reports the same stale set.
	sMock.ExpectQuery(regexp.QuoteMeta("show GLOBAL variables like 'gtid_executed'")).
		WillReturnRows(sqlmock.NewRows([]string{"Variable_name", "Value"}).
			AddRow("gtid_executed", "00000000-0000-0000-0000-000000000001:1-50"))

	// A near-zero timeout guarantees waitfor.Poll's deadline check trips
	// immediately after the single gtid_executed read above, so the
	// secondary is queried exactly once before Acquire gives up.
	_, err := Acquire(context.Background(), []*instance.Instance{primary, secondary}, "uuid-primary", time.Nanosecond, nil, nil)
	if err == nil {
		t.Fatal("expected GTID_SYNC_TIMEOUT")
	}

	if err := pMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("primary: unmet/unexpected expectations: %v", err)
	}
	if err := sMock.ExpectationsWereMet(); err != nil {
		t.Fatalf("secondary: unmet/unexpected expectations: %v", err)
	}
}
