package tips

import (
	"fmt"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// LinkHeads indexes the current TIPS leaves under every attribute, grouped by
// the label the leaf's QID state has for that attribute. One logical node
// appears once per attribute view; a refinement rewrites only the bucket it
// specializes plus the positions of the replaced nodes in the other views.
//
// Label buckets keep insertion order. Together with the ascending attribute
// scan this makes the best-refinement search deterministic across parties —
// the protocol has no other tree synchronization.
type LinkHeads struct {
	attrs []int
	heads map[int]*attrHeads
}

type attrHeads struct {
	order   []string
	buckets map[string][]*Node
}

func (a *attrHeads) add(label string, n *Node) {
	if _, ok := a.buckets[label]; !ok {
		a.order = append(a.order, label)
	}
	a.buckets[label] = append(a.buckets[label], n)
}

func (a *attrHeads) pop(label string) ([]*Node, bool) {
	nodes, ok := a.buckets[label]
	if !ok {
		return nil, false
	}
	delete(a.buckets, label)
	for i, l := range a.order {
		if l == label {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nodes, true
}

// Setup builds the link-head index for the initial single-leaf tree: the root
// node is filed under every attribute with that attribute's root label.
func Setup(root *Node, trees hierarchy.AttributeTrees) *LinkHeads {
	lh := &LinkHeads{
		attrs: trees.SortedIndices(),
		heads: make(map[int]*attrHeads, len(trees)),
	}
	for _, attr := range lh.attrs {
		ah := &attrHeads{buckets: make(map[string][]*Node)}
		ah.add(trees[attr].Label(), root)
		lh.heads[attr] = ah
	}
	return lh
}

// Refine specializes the (attr, label) bucket in place: the bucket's nodes
// are replaced by their children along attr, the children are filed under the
// new child labels, and every other attribute view swaps the replaced parents
// for the children under its unchanged labels. Returns the newly created
// nodes in deterministic creation order.
//
// The index is only ever mutated here, driven by the request state machine;
// nothing reads it concurrently.
func (lh *LinkHeads) Refine(attr int, label string) ([]*Node, error) {
	ah, ok := lh.heads[attr]
	if !ok {
		return nil, fmt.Errorf("refine: attribute %d not indexed", attr)
	}
	parents, ok := ah.pop(label)
	if !ok {
		return nil, fmt.Errorf("refine: no bucket for attribute %d label %q", attr, label)
	}

	replacements := make(map[*Node][]*Node, len(parents))
	var newNodes []*Node
	for _, parent := range parents {
		children, err := parent.RefinedChildren(attr)
		if err != nil {
			return nil, err
		}
		replacements[parent] = children
		newNodes = append(newNodes, children...)

		for _, child := range children {
			childLabel, err := child.GeneralizationLabel(attr)
			if err != nil {
				return nil, err
			}
			ah.add(childLabel, child)
		}
	}

	// Swap replaced parents for their children in every other view. The new
	// child buckets above contain only fresh nodes, so they are unaffected.
	for _, a := range lh.attrs {
		view := lh.heads[a]
		for _, l := range view.order {
			bucket := view.buckets[l]
			rewritten := bucket[:0:0]
			changed := false
			for _, n := range bucket {
				if children, ok := replacements[n]; ok {
					changed = true
					rewritten = append(rewritten, children...)
				} else {
					rewritten = append(rewritten, n)
				}
			}
			if changed {
				view.buckets[l] = rewritten
			}
		}
	}

	return newNodes, nil
}

// BestRefinement scans every refinable (attribute, label) bucket and returns
// the maximizer of the bucket score, or ok=false when no bucket scores above
// zero and the search has converged.
//
// Score per bucket: zero if any child counter of any node in the bucket is
// BelowK (specializing would break k-anonymity); otherwise the sum of squared
// node counts, preferring large equivalence classes. Attributes are scanned
// ascending and labels in insertion order with a strict comparison, so the
// first maximum wins on ties — identically on every party.
func (lh *LinkHeads) BestRefinement(k int) (bestAttr int, bestLabel string, ok bool) {
	highest := int64(0)

	for _, attr := range lh.attrs {
		view := lh.heads[attr]
		for _, label := range view.order {
			nodes := view.buckets[label]
			if len(nodes) == 0 || len(nodes[0].QIDState[attr].Children) == 0 {
				continue
			}
			score := bucketScore(nodes, attr)
			if score > highest {
				highest = score
				bestAttr, bestLabel, ok = attr, label, true
			}
		}
	}

	return bestAttr, bestLabel, ok
}

func bucketScore(nodes []*Node, attr int) int64 {
	var score int64
	for _, n := range nodes {
		for _, c := range n.ChildCounters[attr] {
			if c.Type == counter.BelowK {
				return 0
			}
		}
		nr := n.NumberOfRecords()
		score += nr * nr
	}
	return score
}

// Leaves returns the current leaves in one attribute's view. Every view links
// the complete partition, so the lowest attribute serves as the canonical
// iteration.
func (lh *LinkHeads) Leaves() []*Node {
	if len(lh.attrs) == 0 {
		return nil
	}
	view := lh.heads[lh.attrs[0]]
	var out []*Node
	for _, label := range view.order {
		out = append(out, view.buckets[label]...)
	}
	return out
}

// AnonymizedRows extracts the full anonymized local dataset from the current
// partition.
func (lh *LinkHeads) AnonymizedRows() []models.Row {
	var rows []models.Row
	for _, n := range lh.Leaves() {
		rows = append(rows, n.AnonymizedRows()...)
	}
	return rows
}

// Attributes returns the indexed attribute indices in ascending order.
func (lh *LinkHeads) Attributes() []int {
	out := make([]int, len(lh.attrs))
	copy(out, lh.attrs)
	return out
}
