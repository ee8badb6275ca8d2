package pool

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

const identityQuery = "select @@server_uuid, @@server_id, @@version, @@report_host"
const membersQuery = `select member_id, member_host, member_port, member_state
		from performance_schema.replication_group_members`

type fakeNode struct {
	uuid string
	mock sqlmock.Sqlmock
	inst *instance.Instance
}

// newFakeNode opens a sqlmock-backed Instance identified by uuid, mirroring
// how the example pack's own MySQL-facing packages inject a mocked
// *sql.DB instead of dialing a real server.
func newFakeNode(t *testing.T, uuid string) *fakeNode {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.ExpectQuery(identityQuery).WillReturnRows(
		sqlmock.NewRows([]string{"@@server_uuid", "@@server_id", "@@version", "@@report_host"}).
			AddRow(uuid, 1, "8.0.34", ""))

	inst, err := instance.FromDB(context.Background(), db, instance.Options{Host: uuid, Port: 3306, User: "root"}, nil)
	if err != nil {
		t.Fatalf("FromDB(%s): %v", uuid, err)
	}
	return &fakeNode{uuid: uuid, mock: mock, inst: inst}
}

// expectGroupView queues the performance_schema.replication_group_members
// query and the single_primary_mode/primary_member sysvar reads fetchGroupView
// issues, reporting a 3-member ONLINE quorum with primaryUUID as PRIMARY.
func (n *fakeNode) expectGroupView(members []MemberInfo, primaryUUID string) {
	rows := sqlmock.NewRows([]string{"member_id", "member_host", "member_port", "member_state"})
	for _, m := range members {
		rows.AddRow(m.UUID, m.Host, "3306", "ONLINE")
	}
	n.mock.ExpectQuery(membersQuery).WillReturnRows(rows)
	n.mock.ExpectQuery("show GLOBAL variables like 'group_replication_single_primary_mode'").
		WillReturnRows(sqlmock.NewRows([]string{"Variable_name", "Value"}).
			AddRow("group_replication_single_primary_mode", "ON"))
	n.mock.ExpectQuery("show GLOBAL variables like 'group_replication_primary_member'").
		WillReturnRows(sqlmock.NewRows([]string{"Variable_name", "Value"}).
			AddRow("group_replication_primary_member", primaryUUID))
}

func TestConnectGroupPrimary_FailoverResolution(t *testing.T) {
	// Scenario 5: three members {A, B, C}; A was recently primary, but B
	// has since been promoted. ConnectGroupPrimary must resolve to B, and
	// a second call (after releasing the first session) must return B on
	// the first attempt - the primary-cache hit.
	nodeA := newFakeNode(t, "uuid-A")
	nodeB := newFakeNode(t, "uuid-B")

	members := []MemberInfo{
		{UUID: "uuid-A", Endpoint: "uuid-A:3306", Host: "uuid-A", Port: 3306},
		{UUID: "uuid-B", Endpoint: "uuid-B:3306", Host: "uuid-B", Port: 3306},
		{UUID: "uuid-C", Endpoint: "uuid-C:3306", Host: "uuid-C", Port: 3306},
	}

	p := New("root", "", instance.LogNone, nil)
	p.SetMetadata("g", members)
	p.markRecentPrimary("g", "uuid-A")

	opened := map[string]*fakeNode{
		"uuid-A:3306": nodeA,
		"uuid-B:3306": nodeB,
	}

	// A is tried first (it's in recent_primaries); its view names B as
	// PRIMARY, so tryVia opens a fresh session to B.
	nodeA.expectGroupView(members, "uuid-B")

	attempts := 0
	p.open = func(ctx context.Context, opts instance.Options, lg *console.Logger) (*instance.Instance, error) {
		attempts++
		n, ok := opened[opts.Endpoint()]
		if !ok {
			t.Fatalf("unexpected open of %s", opts.Endpoint())
		}
		return n.inst, nil
	}

	sess, err := p.ConnectGroupPrimary(context.Background(), "g")
	if err != nil {
		t.Fatalf("ConnectGroupPrimary: %v", err)
	}
	if sess.GetUUID() != "uuid-B" {
		t.Fatalf("got primary %s, want uuid-B", sess.GetUUID())
	}
	if attempts != 2 {
		t.Fatalf("expected 2 opens (A then B), got %d", attempts)
	}

	sess.Release()

	// Second call: B is now the sole recent primary, and its pool entry
	// was just released (not closed) - ConnectUnchecked reuses it without
	// opening a new socket, and its own view says it IS primary, so
	// tryVia returns it straight away: the literal same session, on the
	// first attempt.
	nodeB.expectGroupView(members, "uuid-B")
	attempts = 0
	sess2, err := p.ConnectGroupPrimary(context.Background(), "g")
	if err != nil {
		t.Fatalf("ConnectGroupPrimary (2nd): %v", err)
	}
	if sess2 != nodeB.inst {
		t.Fatalf("expected the cached session to be reused, got a different *Instance")
	}
	if attempts != 0 {
		t.Fatalf("expected zero new opens on cache hit, got %d", attempts)
	}
	sess2.Release()
}

func TestConnectUncheckedUUID_MissingEndpoint(t *testing.T) {
	p := New("root", "", instance.LogNone, nil)
	_, err := p.ConnectUncheckedUUID(context.Background(), "unknown-uuid")
	if err == nil {
		t.Fatal("expected METADATA_INFO_MISSING error")
	}
}
