// Package clusterops implements C7: the public cluster lifecycle
// operations (create, add/rejoin, remove, set primary, switch topology,
// reset recovery passwords, rescan, describe, dissolve) as C6 commands
// over C1-C5 and C8.
package clusterops

import (
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
	"github.com/mysql/innodbcluster-adminapi/go/metadata"
)

// CreateOptions configures CreateCluster. MultiPrimary and AdoptFromGR
// are mutually exclusive with a non-empty MemberSSLMode, per §4.7.
type CreateOptions struct {
	ClusterName    string
	MultiPrimary   bool
	AdoptFromGR    bool
	MemberSSLMode  string
	ReplicationAllowedHost string
	DisableClone   bool
}

// Validate enforces the §4.7 "multiPrimary / adoptFromGR mutually
// exclude memberSslMode" rule.
func (o CreateOptions) Validate() error {
	if (o.MultiPrimary || o.AdoptFromGR) && o.MemberSSLMode != "" {
		return dbaerr.New(dbaerr.CodeBadArgInvalidOption, "memberSslMode cannot be combined with multiPrimary or adoptFromGR")
	}
	return nil
}

// TopologyTypeOf maps CreateOptions to the metadata TopologyType it
// produces.
func (o CreateOptions) TopologyTypeOf() metadata.TopologyType {
	if o.MultiPrimary {
		return metadata.TopologyMultiPrimary
	}
	return metadata.TopologySinglePrimary
}

// AddOptions configures AddInstance/Rejoin.
type AddOptions struct {
	Label                  string
	ReplicationAllowedHost string
}
