package clusterops

import (
	"context"
	"strings"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

// groupMember mirrors one row of performance_schema.replication_group_members,
// the same view pool's own group reader queries; C7 commands read it
// directly off the sessions they already hold rather than going through
// the pool's cached membership, since a command's session list is its own
// source of truth for the operation in flight.
type groupMember struct {
	UUID  string
	State string
}

func queryGroupMembers(ctx context.Context, sess *instance.Instance) ([]groupMember, error) {
	rows, err := sess.Query(ctx, `select member_id, member_state from performance_schema.replication_group_members`)
	if err != nil {
		return nil, err
	}
	out := make([]groupMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, groupMember{
			UUID:  string(r["member_id"]),
			State: strings.ToUpper(string(r["member_state"])),
		})
	}
	return out, nil
}

// selfState reports sess's own observed member_state, or "" if sess does
// not appear in its own group view at all.
func selfState(ctx context.Context, sess *instance.Instance) (string, error) {
	members, err := queryGroupMembers(ctx, sess)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.UUID == sess.GetUUID() {
			return m.State, nil
		}
	}
	return "", nil
}

// groupSinglePrimaryMode reports sess's observed
// group_replication_single_primary_mode.
func groupSinglePrimaryMode(ctx context.Context, sess *instance.Instance) (bool, error) {
	return sess.QueryBool(ctx, instance.ScopeGlobal, "group_replication_single_primary_mode")
}
