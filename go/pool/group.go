package pool

import (
	"context"
	"strings"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/instance"
)

// MemberState mirrors performance_schema.replication_group_members.MEMBER_STATE.
type MemberState string

const (
	StateOnline     MemberState = "ONLINE"
	StateRecovering MemberState = "RECOVERING"
	StateOffline    MemberState = "OFFLINE"
	StateError      MemberState = "ERROR"
	StateUnreachable MemberState = "UNREACHABLE"
)

// GroupMember is one row of replication_group_members joined with role
// information derived from group_replication_primary_member.
type GroupMember struct {
	UUID     string
	Host     string
	Port     int
	State    MemberState
	IsPrimary bool
}

// groupView is what try_via observes from one candidate session.
type groupView struct {
	members           []GroupMember
	singlePrimaryMode bool
	hasQuorum         bool
	primaryUUID       string
}

// fetchGroupView runs the performance_schema queries §4.2 "try_via"
// describes: full member list, single_primary_mode, and has_quorum
// (majority of non-UNREACHABLE members).
func fetchGroupView(ctx context.Context, sess *instance.Instance) (*groupView, error) {
	rows, err := sess.Query(ctx, `select member_id, member_host, member_port, member_state
		from performance_schema.replication_group_members`)
	if err != nil {
		return nil, err
	}

	spm, err := sess.QueryBool(ctx, instance.ScopeGlobal, "group_replication_single_primary_mode")
	if err != nil {
		return nil, err
	}

	primaryUUID := ""
	if spm {
		primaryUUID, err = sess.QueryString(ctx, instance.ScopeGlobal, "group_replication_primary_member")
		if err != nil {
			return nil, err
		}
	}

	view := &groupView{singlePrimaryMode: spm, primaryUUID: primaryUUID}
	total, unreachable := 0, 0
	for _, r := range rows {
		m := GroupMember{
			UUID:  string(r["member_id"]),
			Host:  string(r["member_host"]),
			State: MemberState(strings.ToUpper(string(r["member_state"]))),
		}
		if p := string(r["member_port"]); p != "" {
			var port int
			for _, c := range p {
				port = port*10 + int(c-'0')
			}
			m.Port = port
		}
		m.IsPrimary = spm && m.UUID == primaryUUID
		view.members = append(view.members, m)
		total++
		if m.State == StateUnreachable {
			unreachable++
		}
	}
	view.hasQuorum = total > 0 && (total-unreachable) > total/2
	return view, nil
}

// ConnectGroupPrimary is the PRIMARY resolution algorithm of §4.2: try
// recently-seen primaries first, then the rest of the known membership,
// stopping at the first session that is itself PRIMARY or that names a
// reachable PRIMARY elsewhere.
func (p *Pool) ConnectGroupPrimary(ctx context.Context, groupName string) (*instance.Instance, error) {
	members, ok := p.groupMembersOf(groupName)
	if !ok || len(members) == 0 {
		p.metrics.ObservePoolResolution("primary", false)
		return nil, dbaerr.Newf(dbaerr.CodeMetadataInfoMissing, "no cached members for group %s", groupName)
	}

	recent := p.recentPrimarySet(groupName)
	var recentUUIDs, otherUUIDs []string
	for _, m := range members {
		if _, ok := recent[m.UUID]; ok {
			recentUUIDs = append(recentUUIDs, m.UUID)
		} else {
			otherUUIDs = append(otherUUIDs, m.UUID)
		}
	}

	for _, uuid := range append(recentUUIDs, otherUUIDs...) {
		sess, err := p.tryVia(ctx, groupName, uuid)
		if err != nil {
			p.metrics.ObservePoolResolution("primary", false)
			return nil, err
		}
		if sess != nil {
			p.metrics.ObservePoolResolution("primary", true)
			return sess, nil
		}
	}
	p.metrics.ObservePoolResolution("primary", false)
	return nil, dbaerr.New(dbaerr.CodeGroupHasNoPrimary, "no member of the group could be reached as, or point to, a PRIMARY")
}

// tryVia implements the per-candidate algorithm of §4.2. It returns
// (nil, nil) when the candidate should be skipped in favor of the next
// one (dropped from recent_primaries, not the current PRIMARY).
func (p *Pool) tryVia(ctx context.Context, groupName, uuid string) (*instance.Instance, error) {
	sess, err := p.ConnectUncheckedUUID(ctx, uuid)
	if err != nil {
		if instance.IsConnectionError(err) || dbaerr.Of(err, dbaerr.CodeMetadataInfoMissing) {
			return nil, nil
		}
		return nil, err
	}

	view, err := fetchGroupView(ctx, sess)
	if err != nil {
		sess.Release()
		if instance.IsConnectionError(err) {
			return nil, nil
		}
		return nil, err
	}

	if !view.hasQuorum {
		sess.Release()
		return nil, dbaerr.New(dbaerr.CodeGroupHasNoQuorum, "group has no quorum")
	}

	if sess.GetUUID() == view.primaryUUID {
		p.markRecentPrimary(groupName, sess.GetUUID())
		return sess, nil
	}

	if view.primaryUUID != "" {
		// A different member is PRIMARY; connect to it directly.
		primarySess, err := p.ConnectUncheckedUUID(ctx, view.primaryUUID)
		sess.Release()
		if err != nil {
			if instance.IsConnectionError(err) {
				return nil, nil
			}
			return nil, err
		}
		p.markRecentPrimary(groupName, view.primaryUUID)
		return primarySess, nil
	}

	p.unmarkRecentPrimary(groupName, uuid)
	sess.Release()
	return nil, nil
}

// ConnectGroupSecondary returns any ONLINE non-primary member.
func (p *Pool) ConnectGroupSecondary(ctx context.Context, groupName string) (*instance.Instance, error) {
	return p.connectAnyMatching(ctx, groupName, "secondary", func(v *groupView, m GroupMember) bool {
		return m.State == StateOnline && !m.IsPrimary
	})
}

// ConnectGroupMember returns any ONLINE or RECOVERING member with quorum.
func (p *Pool) ConnectGroupMember(ctx context.Context, groupName string) (*instance.Instance, error) {
	return p.connectAnyMatching(ctx, groupName, "member", func(v *groupView, m GroupMember) bool {
		return m.State == StateOnline || m.State == StateRecovering
	})
}

func (p *Pool) connectAnyMatching(ctx context.Context, groupName, role string, match func(*groupView, GroupMember) bool) (*instance.Instance, error) {
	members, ok := p.groupMembersOf(groupName)
	if !ok || len(members) == 0 {
		p.metrics.ObservePoolResolution(role, false)
		return nil, dbaerr.Newf(dbaerr.CodeMetadataInfoMissing, "no cached members for group %s", groupName)
	}

	reachable := 0
	for _, m := range members {
		sess, err := p.ConnectUncheckedUUID(ctx, m.UUID)
		if err != nil {
			if instance.IsConnectionError(err) {
				continue
			}
			p.metrics.ObservePoolResolution(role, false)
			return nil, err
		}
		reachable++

		view, err := fetchGroupView(ctx, sess)
		if err != nil {
			sess.Release()
			if instance.IsConnectionError(err) {
				continue
			}
			p.metrics.ObservePoolResolution(role, false)
			return nil, err
		}
		if !view.hasQuorum {
			sess.Release()
			continue
		}
		var self GroupMember
		for _, gm := range view.members {
			if gm.UUID == sess.GetUUID() {
				self = gm
				break
			}
		}
		if match(view, self) {
			p.metrics.ObservePoolResolution(role, true)
			return sess, nil
		}
		sess.Release()
	}

	if reachable == 0 {
		p.metrics.ObservePoolResolution(role, false)
		return nil, dbaerr.New(dbaerr.CodeGroupUnreachable, "every member's socket is dead")
	}
	p.metrics.ObservePoolResolution(role, false)
	return nil, dbaerr.New(dbaerr.CodeGroupUnavailable, "no member satisfies the requested role")
}

// ConnectClusterMemberOf takes any session and returns one that is a
// valid (quorum-holding) member of its cluster, using the instance itself
// when it already qualifies.
func (p *Pool) ConnectClusterMemberOf(ctx context.Context, sess *instance.Instance) (*instance.Instance, error) {
	state, _, _, err := p.CheckGroupMember(ctx, sess, true)
	if err == nil && (state == StateOnline || state == StateRecovering) {
		return sess.Retain(), nil
	}

	view, verr := fetchGroupView(ctx, sess)
	if verr != nil {
		return nil, verr
	}
	if !view.hasQuorum {
		return nil, dbaerr.New(dbaerr.CodeGroupHasNoQuorum, "group has no quorum")
	}
	for _, m := range view.members {
		if m.State != StateOnline && m.State != StateRecovering {
			continue
		}
		candidate, cerr := p.ConnectUncheckedUUID(ctx, m.UUID)
		if cerr != nil {
			if instance.IsConnectionError(cerr) {
				continue
			}
			return nil, cerr
		}
		return candidate, nil
	}
	return nil, dbaerr.New(dbaerr.CodeGroupUnavailable, "no member of the group is reachable")
}

// CheckGroupMember classifies sess's own membership state, per §4.2. It
// returns GROUP_REPLICATION_NOT_RUNNING, GROUP_MEMBER_NOT_IN_QUORUM or
// GROUP_MEMBER_NOT_ONLINE as typed errors, or the member's state/group
// name/single-primary-mode on success.
func (p *Pool) CheckGroupMember(ctx context.Context, sess *instance.Instance, allowRecovering bool) (MemberState, string, bool, error) {
	groupName, err := sess.QueryString(ctx, instance.ScopeGlobal, "group_replication_group_name")
	if err != nil {
		return "", "", false, err
	}
	if groupName == "" {
		return "", "", false, dbaerr.New(dbaerr.CodeGroupReplicationNotRunning, "group_replication_group_name is empty")
	}

	view, err := fetchGroupView(ctx, sess)
	if err != nil {
		return "", "", false, err
	}
	if !view.hasQuorum {
		return "", groupName, view.singlePrimaryMode, dbaerr.New(dbaerr.CodeGroupMemberNotInQuorum, "member does not hold quorum")
	}

	var self *GroupMember
	for idx := range view.members {
		if view.members[idx].UUID == sess.GetUUID() {
			self = &view.members[idx]
			break
		}
	}
	if self == nil {
		return "", groupName, view.singlePrimaryMode, dbaerr.New(dbaerr.CodeGroupReplicationNotRunning, "member not present in its own group view")
	}

	ok := self.State == StateOnline || (allowRecovering && self.State == StateRecovering)
	if !ok {
		return self.State, groupName, view.singlePrimaryMode, dbaerr.New(dbaerr.CodeGroupMemberNotOnline, "member state is "+string(self.State))
	}
	return self.State, groupName, view.singlePrimaryMode, nil
}
