package concepts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Option configures Build.
type Option func(*builder)

// WithDedup collapses concepts whose labels are at least threshold similar
// onto the first occurrence. A threshold of zero disables it.
func WithDedup(threshold float64) Option {
	return func(b *builder) {
		b.dedupThreshold = threshold
	}
}

type builder struct {
	dedupThreshold float64
}

// candidate is a parsed object that survived field validation.
type candidate struct {
	node   Node
	parent string // declared parent id, "" when absent
}

// Build parses raw into a concept forest.
//
// On a malformed answer it returns nil and an error wrapping ErrFormat.
// Individual objects without a label are dropped. Non-string ids and parent
// references count as absent. Parent references that do not resolve become
// null, and every node on a parent cycle is made a root. The remaining
// nodes keep the order the model gave them.
func Build(raw string, opts ...Option) ([]Node, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	elems, err := locateArray(raw)
	if err != nil {
		return nil, err
	}
	if len(elems) > 0 && !hasObject(elems) {
		return nil, fmt.Errorf("%w: array holds no objects", ErrFormat)
	}

	cands := make([]candidate, 0, len(elems))
	for _, elem := range elems {
		if c, ok := decodeCandidate(elem); ok {
			cands = append(cands, c)
		}
	}

	if b.dedupThreshold > 0 {
		cands = dedupe(cands, b.dedupThreshold)
	}

	return link(cands), nil
}

// locateArray finds the concept array in a model answer. Fenced blocks are
// tried first. Then each '[' is tried in turn: an array at the very start
// is taken as is, a later one only when it holds an object, so brackets in
// surrounding prose are skipped. Text after the array is ignored. An answer
// that is a JSON object is rejected.
func locateArray(raw string) ([]json.RawMessage, error) {
	s := strings.TrimSpace(raw)

	blocks := fencedBlocks(s)
	if strings.HasPrefix(s, "```") && len(blocks) > 0 && strings.HasPrefix(blocks[0], "{") {
		s = blocks[0]
	}
	for _, block := range blocks {
		if !strings.HasPrefix(block, "[") {
			continue
		}
		if elems, err := decodeArray(block); err == nil {
			return elems, nil
		}
	}

	if strings.HasPrefix(s, "{") {
		return nil, fmt.Errorf("%w: answer is an object, not an array", ErrFormat)
	}

	var firstErr error
	for i := strings.IndexByte(s, '['); i >= 0; {
		elems, err := decodeArray(s[i:])
		switch {
		case err == nil && (i == 0 || hasObject(elems)):
			return elems, nil
		case err != nil && firstErr == nil:
			firstErr = err
		}
		next := strings.IndexByte(s[i+1:], '[')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, firstErr)
	}
	return nil, fmt.Errorf("%w: no array of concepts found", ErrFormat)
}

// fencedBlocks returns the bodies of markdown code fences in s, without the
// language tag. An unterminated last fence runs to the end of s.
func fencedBlocks(s string) []string {
	parts := strings.Split(s, "```")
	var blocks []string
	for i := 1; i < len(parts); i += 2 {
		block := parts[i]
		if nl := strings.IndexByte(block, '\n'); nl >= 0 && !strings.ContainsAny(block[:nl], "[{") {
			block = block[nl+1:]
		}
		blocks = append(blocks, strings.TrimSpace(block))
	}
	return blocks
}

// decodeArray decodes the JSON array at the start of s and ignores whatever
// follows it.
func decodeArray(s string) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&elems); err != nil {
		return nil, err
	}
	if elems == nil {
		return nil, errors.New("null is not an array")
	}
	return elems, nil
}

func hasObject(elems []json.RawMessage) bool {
	for _, elem := range elems {
		if t := bytes.TrimSpace(elem); len(t) > 0 && t[0] == '{' {
			return true
		}
	}
	return false
}

// decodeCandidate validates one array element. Elements that are not
// objects, or have no usable label, are rejected.
func decodeCandidate(elem json.RawMessage) (candidate, bool) {
	if t := bytes.TrimSpace(elem); len(t) == 0 || t[0] != '{' {
		return candidate{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil {
		return candidate{}, false
	}

	label, ok := stringField(fields, "label")
	if !ok || label == "" {
		return candidate{}, false
	}

	id, _ := stringField(fields, "id")
	kind, _ := stringField(fields, "kind", "type")
	explanation, _ := stringField(fields, "explanation")
	parent, _ := stringField(fields, "parent_id", "parent")

	return candidate{
		node: Node{
			ID:          id,
			Label:       label,
			Kind:        Kind(strings.ToLower(kind)),
			Explanation: explanation,
		},
		parent: parent,
	}, true
}

// stringField returns the first of keys holding a JSON string, trimmed.
// null, numbers and other types count as absent.
func stringField(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		return strings.TrimSpace(s), true
	}
	return "", false
}

// link resolves parent ids to positions, breaks cycles and fills in kinds.
func link(cands []candidate) []Node {
	index := make(map[string]int, len(cands))
	for i := range cands {
		id := cands[i].node.ID
		if id == "" {
			continue
		}
		if _, dup := index[id]; dup {
			// First declaration owns the id.
			cands[i].node.ID = ""
			continue
		}
		index[id] = i
	}

	parents := make([]int, len(cands))
	for i, c := range cands {
		parents[i] = -1
		if c.parent == "" {
			continue
		}
		if p, ok := index[c.parent]; ok {
			parents[i] = p
		}
	}

	breakCycles(parents)

	nodes := make([]Node, len(cands))
	for i, c := range cands {
		n := c.node
		if p := parents[i]; p >= 0 {
			pid := cands[p].node.ID
			n.ParentID = &pid
		}
		if !n.Kind.Valid() {
			if n.ParentID == nil {
				n.Kind = KindMain
			} else {
				n.Kind = KindConcept
			}
		}
		nodes[i] = n
	}
	return nodes
}

// breakCycles sets parents[i] = -1 for every i that lies on a cycle of
// parent links. Nodes that merely lead into a cycle keep their parent.
func breakCycles(parents []int) {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make([]int, len(parents))
	pos := make([]int, len(parents))

	for start := range parents {
		if state[start] != unvisited {
			continue
		}
		var path []int
		cur := start
		for cur >= 0 && state[cur] == unvisited {
			state[cur] = onPath
			pos[cur] = len(path)
			path = append(path, cur)
			cur = parents[cur]
		}
		if cur >= 0 && state[cur] == onPath {
			for _, n := range path[pos[cur]:] {
				parents[n] = -1
			}
		}
		for _, n := range path {
			state[n] = done
		}
	}
}
