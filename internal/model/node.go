// Package model holds the data types shared by the gatekeeper and the proxy.
package model

import "fmt"

// Role identifies what a backend node is allowed to serve.
type Role int

const (
	// RolePrimary is the single node authoritative for writes and direct reads.
	RolePrimary Role = iota
	// RoleReplica is a read-only data node.
	RoleReplica
)

// String returns the role name used in logs.
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleReplica:
		return "replica"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// BackendNode is one database server of the cluster.
type BackendNode struct {
	Name    string
	Address string
	Role    Role
}

// IsPrimary reports whether the node is the primary.
func (n BackendNode) IsPrimary() bool {
	return n.Role == RolePrimary
}
