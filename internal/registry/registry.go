// Package registry holds the static topology of the database cluster.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devrev/dbrouter/internal/model"
)

// PrimaryName is the logical name given to the primary by FromHosts.
const PrimaryName = "manager"

var (
	// ErrNodeNotFound is returned by Resolve for an unknown name.
	ErrNodeNotFound = errors.New("backend node not found")
	// ErrNoPrimary is returned when no node has the primary role.
	ErrNoPrimary = errors.New("no primary node configured")
	// ErrMultiplePrimaries is returned when more than one node has the primary role.
	ErrMultiplePrimaries = errors.New("more than one primary node configured")
	// ErrNoReplicas is returned when the topology has no replica.
	ErrNoReplicas = errors.New("at least one replica node is required")
	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate backend node name")
)

// Registry maps logical node names to backend nodes.
// It is immutable after New returns and safe for concurrent reads.
type Registry struct {
	byName   map[string]model.BackendNode
	nodes    []model.BackendNode
	primary  model.BackendNode
	replicas []model.BackendNode
}

// New builds a registry from nodes, keeping their order for replica iteration.
func New(nodes []model.BackendNode) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]model.BackendNode, len(nodes)),
		nodes:  make([]model.BackendNode, 0, len(nodes)),
	}

	primaries := 0
	for _, node := range nodes {
		if node.Name == "" {
			return nil, fmt.Errorf("backend node with address %q has no name", node.Address)
		}
		if node.Address == "" {
			return nil, fmt.Errorf("backend node %q has no address", node.Name)
		}
		if _, exists := r.byName[node.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, node.Name)
		}

		r.byName[node.Name] = node
		r.nodes = append(r.nodes, node)

		switch node.Role {
		case model.RolePrimary:
			primaries++
			r.primary = node
		case model.RoleReplica:
			r.replicas = append(r.replicas, node)
		default:
			return nil, fmt.Errorf("backend node %q has unknown role %s", node.Name, node.Role)
		}
	}

	switch {
	case primaries == 0:
		return nil, ErrNoPrimary
	case primaries > 1:
		return nil, ErrMultiplePrimaries
	case len(r.replicas) == 0:
		return nil, ErrNoReplicas
	}

	return r, nil
}

// FromHosts builds the registry of a deployment described by a primary host and
// a replica host list. Replicas are named data_node_<i> in list order.
func FromHosts(primary string, replicas []string) (*Registry, error) {
	nodes := []model.BackendNode{{
		Name:    PrimaryName,
		Address: strings.TrimSpace(primary),
		Role:    model.RolePrimary,
	}}

	i := 0
	for _, host := range replicas {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		nodes = append(nodes, model.BackendNode{
			Name:    fmt.Sprintf("data_node_%d", i),
			Address: host,
			Role:    model.RoleReplica,
		})
		i++
	}

	return New(nodes)
}

// Resolve returns the node registered under name.
func (r *Registry) Resolve(name string) (model.BackendNode, error) {
	node, ok := r.byName[name]
	if !ok {
		return model.BackendNode{}, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return node, nil
}

// Primary returns the primary node.
func (r *Registry) Primary() model.BackendNode {
	return r.primary
}

// Replicas returns the replica nodes in registry order.
func (r *Registry) Replicas() []model.BackendNode {
	out := make([]model.BackendNode, len(r.replicas))
	copy(out, r.replicas)
	return out
}

// Nodes returns every node in registry order.
func (r *Registry) Nodes() []model.BackendNode {
	out := make([]model.BackendNode, len(r.nodes))
	copy(out, r.nodes)
	return out
}
