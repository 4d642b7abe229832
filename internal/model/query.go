package model

import "strconv"

// QueryKind separates statements that must hit the primary from reads.
type QueryKind int

const (
	// KindWrite always targets the primary.
	KindWrite QueryKind = iota
	// KindRead is routed by a Policy.
	KindRead
)

// String returns the kind name used in logs and metric labels.
func (k QueryKind) String() string {
	if k == KindWrite {
		return "write"
	}
	return "read"
}

// Policy selects how a read query picks its backend.
type Policy int

const (
	// PolicyDirect sends the read to the primary.
	PolicyDirect Policy = 0
	// PolicyRandom picks a replica uniformly at random.
	PolicyRandom Policy = 1
	// PolicyCustom picks the replica with the lowest probe latency.
	PolicyCustom Policy = 2
)

// String returns the policy name used in logs and metric labels.
func (p Policy) String() string {
	switch p {
	case PolicyRandom:
		return "random"
	case PolicyCustom:
		return "custom"
	default:
		return "direct"
	}
}

// ParsePolicy maps a method_id value onto a Policy.
// Absent, non-numeric and unknown ids all fall back to PolicyDirect.
func ParsePolicy(raw string) Policy {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return PolicyDirect
	}
	switch Policy(id) {
	case PolicyRandom:
		return PolicyRandom
	case PolicyCustom:
		return PolicyCustom
	default:
		return PolicyDirect
	}
}

// Query is a single statement submitted by a client.
type Query struct {
	Text   string
	Kind   QueryKind
	Policy Policy
}
