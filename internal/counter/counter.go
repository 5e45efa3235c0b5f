package counter

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
)

// Type tags a counter value. DataContent only ever lives on participants
// (their true local counts); Empty, BelowK and Valid only ever come out of
// the secure-sum oracle; Undefined is the coordinator-side placeholder until
// the oracle has answered.
type Type int

const (
	DataContent Type = iota
	Undefined
	Empty
	BelowK
	Valid
)

func (t Type) String() string {
	switch t {
	case DataContent:
		return "DataContent"
	case Undefined:
		return "Undefined"
	case Empty:
		return "Empty"
	case BelowK:
		return "BelowK"
	case Valid:
		return "Valid"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Counter is a tagged record count. N is meaningful for DataContent and
// Valid; it is zero for the other variants.
type Counter struct {
	Type Type
	N    int64
}

// ChildCounters holds, per attribute index, one counter per fully qualified
// child node id for a potential refinement of one TIPS node.
type ChildCounters map[int]map[string]Counter

// NodeCounter bundles a TIPS node's own counter with its potential child
// counters.
type NodeCounter struct {
	Node     Counter
	Children ChildCounters
}

// Data maps TIPS node ids to their counters, preserving insertion order.
// Order matters: the oracle group list is derived from it and must be
// identical on every party, so it mirrors node creation order rather than
// map iteration order.
type Data struct {
	order   []string
	entries map[string]NodeCounter
}

func NewData() *Data {
	return &Data{entries: make(map[string]NodeCounter)}
}

// Set inserts or replaces the counter for a node id. First insertion fixes
// the id's position in iteration order.
func (d *Data) Set(id string, c NodeCounter) {
	if _, ok := d.entries[id]; !ok {
		d.order = append(d.order, id)
	}
	d.entries[id] = c
}

func (d *Data) Get(id string) (NodeCounter, bool) {
	c, ok := d.entries[id]
	return c, ok
}

// IDs returns the node ids in insertion order.
func (d *Data) IDs() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Data) Len() int {
	return len(d.order)
}

// Entry is one (node id, counter) pair inside a group.
type Entry struct {
	ID      string
	Counter Counter
}

// Group is a set of counters the oracle must evaluate together: either the
// singleton {node id → node counter} for one TIPS node, or the sibling set of
// child counters for one (node, attribute) refinement. Coupling matters
// because a refinement is only permitted when no sibling violates k, so the
// oracle masks every sum in a group as soon as one lands in [1, k).
type Group []Entry

// GroupsFrom builds the canonical group list for counter data: for every node
// in insertion order, first the node-counter singleton, then one group per
// attribute with children (attributes ascending, child ids sorted). With
// onlyUndefined set, defined counters are skipped and empty groups dropped —
// the coordinator uses this to ask exactly for what it is missing.
//
// All parties run this over structurally identical data, so the resulting
// group order and arity line up without further synchronization.
func GroupsFrom(d *Data, onlyUndefined bool) []Group {
	var result []Group

	for _, id := range d.order {
		nc := d.entries[id]
		if !onlyUndefined || nc.Node.Type == Undefined {
			result = append(result, Group{{ID: id, Counter: nc.Node}})
		}

		attrs := make([]int, 0, len(nc.Children))
		for attr := range nc.Children {
			attrs = append(attrs, attr)
		}
		sort.Ints(attrs)

		for _, attr := range attrs {
			children := nc.Children[attr]
			childIDs := make([]string, 0, len(children))
			for cid := range children {
				childIDs = append(childIDs, cid)
			}
			sort.Strings(childIDs)

			var g Group
			for _, cid := range childIDs {
				c := children[cid]
				if onlyUndefined && c.Type != Undefined {
					continue
				}
				g = append(g, Entry{ID: cid, Counter: c})
			}
			if len(g) > 0 {
				result = append(result, g)
			}
		}
	}

	return result
}

// NodeIDs flattens the node ids of a group list, preserving group order.
func NodeIDs(groups []Group) []string {
	var ids []string
	for _, g := range groups {
		for _, e := range g {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// FilterByID keeps only entries whose id is in relevantIDs; groups left empty
// are dropped. Participants use this to align their local counters with the
// pending id list announced by the coordinator.
func FilterByID(groups []Group, relevantIDs []string) []Group {
	relevant := make(map[string]struct{}, len(relevantIDs))
	for _, id := range relevantIDs {
		relevant[id] = struct{}{}
	}

	var result []Group
	for _, g := range groups {
		var kept Group
		for _, e := range g {
			if _, ok := relevant[e.ID]; ok {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			result = append(result, kept)
		}
	}
	return result
}

// Incorporate replaces Undefined counters in the data with the oracle output
// carried by groups. Defined counters are left untouched — in particular a
// participant's DataContent counts are never overwritten by bucketed
// variants.
func Incorporate(d *Data, groups []Group) *Data {
	flat := make(map[string]Counter)
	for _, g := range groups {
		for _, e := range g {
			flat[e.ID] = e.Counter
		}
	}

	result := NewData()
	for _, id := range d.order {
		nc := d.entries[id]

		newNode := nc.Node
		if c, ok := flat[id]; ok && nc.Node.Type == Undefined {
			newNode = c
		}

		newChildren := make(ChildCounters, len(nc.Children))
		for attr, children := range nc.Children {
			m := make(map[string]Counter, len(children))
			for cid, cc := range children {
				if c, ok := flat[cid]; ok && cc.Type == Undefined {
					m[cid] = c
				} else {
					m[cid] = cc
				}
			}
			newChildren[attr] = m
		}

		result.Set(id, NodeCounter{Node: newNode, Children: newChildren})
	}
	return result
}

// RandomUpperBound bounds the blinding values used to obfuscate counters on
// the ring-blinded aggregation path.
const RandomUpperBound = 100000

// Add combines two structurally identical counter data sets entrywise
// (C1 + C2). Used to blind counters before they travel the ring.
func Add(a, b *Data) (*Data, error) {
	return combine(a, b, func(x, y int64) int64 { return x + y })
}

// Subtract combines two structurally identical counter data sets entrywise
// (C1 - C2). Used to strip blinding after aggregation.
func Subtract(a, b *Data) (*Data, error) {
	return combine(a, b, func(x, y int64) int64 { return x - y })
}

func combine(a, b *Data, op func(int64, int64) int64) (*Data, error) {
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("counter data size mismatch: %d vs %d nodes", a.Len(), b.Len())
	}

	result := NewData()
	for _, id := range a.order {
		ca := a.entries[id]
		cb, ok := b.entries[id]
		if !ok {
			return nil, fmt.Errorf("counter data mismatch: node %s missing in second operand", id)
		}

		children := make(ChildCounters, len(ca.Children))
		for attr, childrenA := range ca.Children {
			childrenB, ok := cb.Children[attr]
			if !ok {
				return nil, fmt.Errorf("counter data mismatch: node %s attribute %d missing in second operand", id, attr)
			}
			m := make(map[string]Counter, len(childrenA))
			for cid, cca := range childrenA {
				ccb, ok := childrenB[cid]
				if !ok {
					return nil, fmt.Errorf("counter data mismatch: child %s missing in second operand", cid)
				}
				m[cid] = Counter{Type: cca.Type, N: op(cca.N, ccb.N)}
			}
			children[attr] = m
		}

		result.Set(id, NodeCounter{
			Node:     Counter{Type: ca.Node.Type, N: op(ca.Node.N, cb.Node.N)},
			Children: children,
		})
	}
	return result, nil
}

// WithRandomValues builds counter data with the structure of the template but
// cryptographically random counts. The result serves as a blinder: added
// before forwarding, subtracted after the ring closes.
func WithRandomValues(template *Data) *Data {
	result := NewData()
	for _, id := range template.order {
		nc := template.entries[id]

		children := make(ChildCounters, len(nc.Children))
		for attr, childrenT := range nc.Children {
			m := make(map[string]Counter, len(childrenT))
			for cid, c := range childrenT {
				m[cid] = Counter{Type: c.Type, N: randomBelow(RandomUpperBound)}
			}
			children[attr] = m
		}

		result.Set(id, NodeCounter{
			Node:     Counter{Type: nc.Node.Type, N: randomBelow(RandomUpperBound)},
			Children: children,
		})
	}
	return result
}

func randomBelow(bound int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(bound))
	if err != nil {
		// crypto/rand failing means the platform RNG is broken; there is no
		// safe blinding value to fall back to.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return n.Int64()
}
