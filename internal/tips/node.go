package tips

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// Node is one equivalence class in the current partition of the record space.
//
// On a participant the node carries the locally held records falling into the
// class and DataContent counters derived from them. On the coordinator the
// node is a shell: no records, counters Undefined until the secure-sum oracle
// fills them in.
type Node struct {
	// ID is derived from the QID state and is byte-identical across parties
	// for the same state; the oracle's group alignment depends on that.
	ID string

	// QIDState maps every QID attribute to its currently active hierarchy
	// node (somewhere on the chain from the root down).
	QIDState hierarchy.AttributeTrees

	// Records are the locally held rows covered by QIDState. Nil on the
	// coordinator, possibly empty but non-nil on participants.
	Records []models.Row

	NodeCounter   counter.Counter
	ChildCounters counter.ChildCounters

	hasData bool
}

// NewDataNode builds a participant-side TIPS node over the given records.
// Child counters are computed by counting which records each potential
// specialization would cover.
func NewDataNode(records []models.Row, state hierarchy.AttributeTrees) (*Node, error) {
	if records == nil {
		records = []models.Row{}
	}
	return newNode(records, state, true)
}

// NewShellNode builds a coordinator-side TIPS node: no records, all counters
// Undefined.
func NewShellNode(state hierarchy.AttributeTrees) (*Node, error) {
	return newNode(nil, state, false)
}

func newNode(records []models.Row, state hierarchy.AttributeTrees, hasData bool) (*Node, error) {
	if len(state) < 1 {
		return nil, fmt.Errorf("cannot create TIPS node without QID attributes")
	}

	n := &Node{
		QIDState: state,
		Records:  records,
		hasData:  hasData,
	}
	n.ID = generateID(state, -1, "")

	if hasData {
		n.NodeCounter = counter.Counter{Type: counter.DataContent, N: int64(len(records))}
	} else {
		n.NodeCounter = counter.Counter{Type: counter.Undefined}
	}

	n.ChildCounters = n.initChildCounters()
	return n, nil
}

// generateID concatenates "<attr>.<label>|" in ascending attribute order.
// Passing specializeAttr >= 0 substitutes specializeLabel for that attribute,
// yielding the fully qualified id of a potential child.
func generateID(state hierarchy.AttributeTrees, specializeAttr int, specializeLabel string) string {
	var b strings.Builder
	for _, attr := range state.SortedIndices() {
		b.WriteString(strconv.Itoa(attr))
		b.WriteByte('.')
		if attr == specializeAttr {
			b.WriteString(specializeLabel)
		} else {
			b.WriteString(state[attr].Label())
		}
		b.WriteByte('|')
	}
	return b.String()
}

// initChildCounters walks every attribute's potential specializations once.
// Data nodes count covered records per child; shell nodes place Undefined
// markers for the oracle to resolve.
func (n *Node) initChildCounters() counter.ChildCounters {
	result := make(counter.ChildCounters)

	for _, attr := range n.QIDState.SortedIndices() {
		children := n.QIDState[attr].Children
		if len(children) == 0 {
			continue
		}
		childCounters := make(map[string]counter.Counter, len(children))
		for _, child := range children {
			childID := generateID(n.QIDState, attr, child.Label())
			if n.hasData {
				var cnt int64
				for _, row := range n.Records {
					if attr < len(row) && child.Covers(row[attr]) {
						cnt++
					}
				}
				childCounters[childID] = counter.Counter{Type: counter.DataContent, N: cnt}
			} else {
				childCounters[childID] = counter.Counter{Type: counter.Undefined}
			}
		}
		result[attr] = childCounters
	}

	return result
}

// NumberOfRecords returns the node counter's count.
func (n *Node) NumberOfRecords() int64 {
	return n.NodeCounter.N
}

// HasData reports whether this node carries records (participant side).
func (n *Node) HasData() bool {
	return n.hasData
}

// ExtractCounter snapshots the node's counter information. The child map is
// copied so later oracle incorporation cannot alias into the node.
func (n *Node) ExtractCounter() counter.NodeCounter {
	children := make(counter.ChildCounters, len(n.ChildCounters))
	for attr, m := range n.ChildCounters {
		cp := make(map[string]counter.Counter, len(m))
		for id, c := range m {
			cp[id] = c
		}
		children[attr] = cp
	}
	return counter.NodeCounter{Node: n.NodeCounter, Children: children}
}

// SetCounterValues installs oracle-resolved counters. Only shell nodes accept
// this; a participant's DataContent counters are authoritative and must never
// be replaced by bucketed variants.
func (n *Node) SetCounterValues(nc counter.NodeCounter) error {
	if n.hasData {
		return fmt.Errorf("node %s: refusing to set counters on a node containing data", n.ID)
	}
	n.NodeCounter = nc.Node
	n.ChildCounters = nc.Children
	return nil
}

// GeneralizationLabel returns the node's active label for one attribute.
func (n *Node) GeneralizationLabel(attr int) (string, error) {
	h, ok := n.QIDState[attr]
	if !ok {
		return "", fmt.Errorf("node %s: attribute %d not part of QID state", n.ID, attr)
	}
	return h.Label(), nil
}

// RefinedChildren produces the TIPS nodes resulting from specializing this
// node one step along the given attribute. Data nodes redistribute their
// records over the children; shell nodes inherit the already known child
// counters as the new nodes' node counters.
func (n *Node) RefinedChildren(attr int) ([]*Node, error) {
	current, ok := n.QIDState[attr]
	if !ok {
		return nil, fmt.Errorf("node %s: cannot refine attribute %d, not part of QID state", n.ID, attr)
	}
	if len(current.Children) == 0 {
		return nil, fmt.Errorf("node %s: attribute %d has no further specializations", n.ID, attr)
	}

	result := make([]*Node, 0, len(current.Children))
	for _, child := range current.Children {
		childState := make(hierarchy.AttributeTrees, len(n.QIDState))
		for a, h := range n.QIDState {
			childState[a] = h
		}
		childState[attr] = child

		var childNode *Node
		var err error
		if n.hasData {
			childRecords := make([]models.Row, 0)
			for _, row := range n.Records {
				if attr < len(row) && child.Covers(row[attr]) {
					childRecords = append(childRecords, row)
				}
			}
			childNode, err = NewDataNode(childRecords, childState)
		} else {
			childNode, err = NewShellNode(childState)
			if err == nil {
				// Carry over the count the oracle already resolved for this
				// child during the previous round.
				if cc, ok := n.ChildCounters[attr][childNode.ID]; ok {
					childNode.NodeCounter = cc
				}
			}
		}
		if err != nil {
			return nil, err
		}
		result = append(result, childNode)
	}

	return result, nil
}

// AnonymizedRows returns the node's records with every QID column replaced by
// the active generalization label.
func (n *Node) AnonymizedRows() []models.Row {
	result := make([]models.Row, 0, len(n.Records))
	for _, row := range n.Records {
		out := row.Clone()
		for attr, h := range n.QIDState {
			if attr < len(out) {
				out[attr] = h.Label()
			}
		}
		result = append(result, out)
	}
	return result
}

// ExtractCounterData collects counter information for a node list, keyed and
// ordered by node id in list order. Used each round to announce the counters
// the oracle must resolve for freshly spawned nodes.
func ExtractCounterData(nodes []*Node) *counter.Data {
	data := counter.NewData()
	for _, n := range nodes {
		data.Set(n.ID, n.ExtractCounter())
	}
	return data
}
