package clusterops

import (
	"context"

	"github.com/mysql/innodbcluster-adminapi/go/instance"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// DescribeMember is one row of a Describe report: metadata joined with
// whatever live state was observable when the report was built.
type DescribeMember struct {
	UUID      string
	Label     string
	Endpoint  string
	Role      string // "group_member", per metadata.InstanceType
	State     string // live member_state, or "UNREACHABLE" if sess was nil
	IsPrimary bool
}

// DescribeResult is a read-only topology/metadata report, the §4.7
// expansion mirroring replicaset_describe.cc's nested output.
type DescribeResult struct {
	ClusterID    string
	Name         string
	TopologyType metadata.TopologyType
	Members      []DescribeMember
}

// Describe reports clusterID's metadata, augmented with each member's live
// state where live carries a reachable session (sessions not present there
// are reported UNREACHABLE rather than causing the whole report to fail).
func Describe(ctx context.Context, storage *metadata.Storage, clusterID string, live map[string]*instance.Instance) (DescribeResult, error) {
	cluster, err := storage.GetCluster(ctx, clusterID)
	if err != nil {
		return DescribeResult{}, err
	}
	instances, err := storage.ListInstances(ctx, clusterID)
	if err != nil {
		return DescribeResult{}, err
	}

	result := DescribeResult{ClusterID: cluster.ClusterID, Name: cluster.Name, TopologyType: cluster.TopologyType}
	for _, inst := range instances {
		member := DescribeMember{
			UUID:      inst.UUID,
			Label:     inst.Label,
			Endpoint:  inst.Endpoint,
			Role:      string(inst.InstanceType),
			State:     "UNREACHABLE",
			IsPrimary: inst.PrimaryMaster,
		}
		if sess, ok := live[inst.UUID]; ok && sess != nil {
			if state, err := selfState(ctx, sess); err == nil && state != "" {
				member.State = state
			}
		}
		result.Members = append(result.Members, member)
	}
	return result, nil
}
