// Package concepts turns a language model's answer into a validated concept
// forest.
//
// The model is asked for a JSON array of concept objects linked by parent
// ids. Nothing about that answer is trusted: Build strips formatting
// wrappers, drops malformed objects, and repairs parent links so the result
// is always a forest whose parent references resolve within the same
// answer.
package concepts

import "errors"

// Kind is a concept's level in the hierarchy.
type Kind string

const (
	KindMain    Kind = "main"
	KindConcept Kind = "concept"
	KindDetail  Kind = "detail"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMain, KindConcept, KindDetail:
		return true
	}
	return false
}

// Node is one concept in an extraction result. IDs are unique within one
// Build result only.
type Node struct {
	ID          string  `json:"id,omitempty"`
	Label       string  `json:"label"`
	Kind        Kind    `json:"kind"`
	Explanation string  `json:"explanation"`
	ParentID    *string `json:"parent_id"`
}

// IsRoot reports whether n has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// ErrFormat means the model's answer was not a JSON array of objects.
var ErrFormat = errors.New("extraction response is not a JSON concept array")
