package tips

import (
	"testing"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

func testTrees() hierarchy.AttributeTrees {
	age := hierarchy.NewNumerical(1, 119,
		hierarchy.NewNumerical(1, 76),
		hierarchy.NewNumerical(77, 119),
	)
	sex := hierarchy.NewNumerical(1, 2,
		hierarchy.NewNumerical(1, 1),
		hierarchy.NewNumerical(2, 2),
	)
	return hierarchy.AttributeTrees{1: age, 2: sex}
}

func testRecords() []models.Row {
	return []models.Row{
		{"*", int64(30), int64(1)},
		{"*", int64(35), int64(1)},
		{"*", int64(40), int64(2)},
		{"*", int64(70), int64(2)},
		{"*", int64(75), int64(2)},
		{"*", int64(80), int64(2)},
	}
}

func TestNodeIDIsDeterministic(t *testing.T) {
	a, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewShellNode(testTrees())
	if err != nil {
		t.Fatal(err)
	}

	want := "1.1:119|2.1:2|"
	if a.ID != want {
		t.Errorf("data node id = %q, want %q", a.ID, want)
	}
	if b.ID != want {
		t.Errorf("shell node id = %q, want %q", b.ID, want)
	}
}

func TestDataNodeCounters(t *testing.T) {
	node, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}

	if node.NodeCounter.Type != counter.DataContent || node.NodeCounter.N != 6 {
		t.Fatalf("node counter = %v, want DataContent 6", node.NodeCounter)
	}

	// Per attribute, the child counters must sum to the record count.
	for attr, children := range node.ChildCounters {
		var sum int64
		for _, c := range children {
			if c.Type != counter.DataContent {
				t.Errorf("attribute %d: child counter type %v, want DataContent", attr, c.Type)
			}
			sum += c.N
		}
		if sum != 6 {
			t.Errorf("attribute %d: child counters sum to %d, want 6", attr, sum)
		}
	}

	if c := node.ChildCounters[2]["1.1:119|2.1|"]; c.N != 2 {
		t.Errorf("sex=1 child counter = %d, want 2", c.N)
	}
	if c := node.ChildCounters[2]["1.1:119|2.2|"]; c.N != 4 {
		t.Errorf("sex=2 child counter = %d, want 4", c.N)
	}
}

func TestShellNodeCounters(t *testing.T) {
	node, err := NewShellNode(testTrees())
	if err != nil {
		t.Fatal(err)
	}
	if node.NodeCounter.Type != counter.Undefined {
		t.Errorf("shell node counter type = %v, want Undefined", node.NodeCounter.Type)
	}
	for attr, children := range node.ChildCounters {
		for id, c := range children {
			if c.Type != counter.Undefined {
				t.Errorf("attribute %d child %s: type %v, want Undefined", attr, id, c.Type)
			}
		}
	}
}

func TestNodeWithoutAttributesFails(t *testing.T) {
	if _, err := NewDataNode(testRecords(), hierarchy.AttributeTrees{}); err == nil {
		t.Error("expected error for empty attribute set")
	}
}

func TestSetCounterValuesRejectsDataNodes(t *testing.T) {
	node, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	if err := node.SetCounterValues(counter.NodeCounter{}); err == nil {
		t.Error("expected refusal to overwrite DataContent counters")
	}
}

func TestRefinedChildrenDistributeRecords(t *testing.T) {
	node, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}

	children, err := node.RefinedChildren(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	var total int
	for _, c := range children {
		total += len(c.Records)
	}
	if total != len(testRecords()) {
		t.Errorf("children hold %d records, want %d", total, len(testRecords()))
	}
	if children[0].ID != "1.1:76|2.1:2|" || children[1].ID != "1.77:119|2.1:2|" {
		t.Errorf("unexpected child ids %q, %q", children[0].ID, children[1].ID)
	}
}

func TestShellRefinementCarriesChildCounters(t *testing.T) {
	node, err := NewShellNode(testTrees())
	if err != nil {
		t.Fatal(err)
	}
	resolved := counter.NodeCounter{
		Node: counter.Counter{Type: counter.Valid, N: 6},
		Children: counter.ChildCounters{
			1: {
				"1.1:76|2.1:2|":   {Type: counter.Valid, N: 5},
				"1.77:119|2.1:2|": {Type: counter.BelowK},
			},
			2: {
				"1.1:119|2.1|": {Type: counter.Valid, N: 2},
				"1.1:119|2.2|": {Type: counter.Valid, N: 4},
			},
		},
	}
	if err := node.SetCounterValues(resolved); err != nil {
		t.Fatal(err)
	}

	children, err := node.RefinedChildren(2)
	if err != nil {
		t.Fatal(err)
	}
	if children[0].NodeCounter.Type != counter.Valid || children[0].NodeCounter.N != 2 {
		t.Errorf("first child counter = %v, want Valid 2", children[0].NodeCounter)
	}
	if children[1].NodeCounter.Type != counter.Valid || children[1].NodeCounter.N != 4 {
		t.Errorf("second child counter = %v, want Valid 4", children[1].NodeCounter)
	}
}

func TestRefineUpdatesAllViews(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	lh := Setup(root, testTrees())

	newNodes, err := lh.Refine(2, "1:2")
	if err != nil {
		t.Fatal(err)
	}
	if len(newNodes) != 2 {
		t.Fatalf("expected 2 new nodes, got %d", len(newNodes))
	}

	leaves := lh.Leaves()
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves across views, got %d", len(leaves))
	}
	for _, leaf := range leaves {
		label, err := leaf.GeneralizationLabel(2)
		if err != nil {
			t.Fatal(err)
		}
		if label != "1" && label != "2" {
			t.Errorf("leaf has sex label %q after refinement", label)
		}
	}
}

func TestRefineUnknownBucketFails(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	lh := Setup(root, testTrees())

	if _, err := lh.Refine(1, "nope"); err == nil {
		t.Error("expected error for unknown label")
	}
	if _, err := lh.Refine(9, "1:119"); err == nil {
		t.Error("expected error for unknown attribute")
	}
}

func TestBestRefinementTieBreaksToLowerAttribute(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	lh := Setup(root, testTrees())

	attr, label, ok := lh.BestRefinement(2)
	if !ok {
		t.Fatal("expected a refinable bucket")
	}
	// Both buckets score 36 (one node with 6 records); the tie breaks to the
	// lower attribute index.
	if attr != 1 || label != "1:119" {
		t.Errorf("best refinement = (%d, %q), want (1, \"1:119\")", attr, label)
	}
}

func TestBestRefinementSkipsBelowK(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	// Mark one age child as BelowK: the age bucket scores zero and the sex
	// bucket must win.
	root.ChildCounters[1]["1.77:119|2.1:2|"] = counter.Counter{Type: counter.BelowK}
	lh := Setup(root, testTrees())

	attr, label, ok := lh.BestRefinement(2)
	if !ok {
		t.Fatal("expected the sex bucket to remain refinable")
	}
	if attr != 2 || label != "1:2" {
		t.Errorf("best refinement = (%d, %q), want (2, \"1:2\")", attr, label)
	}
}

func TestBestRefinementNoneOnLeaves(t *testing.T) {
	trees := hierarchy.AttributeTrees{
		1: hierarchy.NewNumerical(0, 1),
	}
	root, err := NewDataNode([]models.Row{{"*", int64(0)}}, trees)
	if err != nil {
		t.Fatal(err)
	}
	lh := Setup(root, trees)

	if _, _, ok := lh.BestRefinement(2); ok {
		t.Error("expected no refinement for leaf-only hierarchies")
	}
}

func TestAnonymizedRowsUseLabels(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	lh := Setup(root, testTrees())
	if _, err := lh.Refine(2, "1:2"); err != nil {
		t.Fatal(err)
	}

	rows := lh.AnonymizedRows()
	if len(rows) != len(testRecords()) {
		t.Fatalf("expected %d rows, got %d", len(testRecords()), len(rows))
	}
	for _, row := range rows {
		if row[1] != "1:119" {
			t.Errorf("age cell = %v, want generalized label 1:119", row[1])
		}
		if row[2] != "1" && row[2] != "2" {
			t.Errorf("sex cell = %v, want refined label", row[2])
		}
	}
}

func TestExtractCounterData(t *testing.T) {
	root, err := NewDataNode(testRecords(), testTrees())
	if err != nil {
		t.Fatal(err)
	}
	children, err := root.RefinedChildren(2)
	if err != nil {
		t.Fatal(err)
	}

	data := ExtractCounterData(children)
	if data.Len() != 2 {
		t.Fatalf("expected counter data for 2 nodes, got %d", data.Len())
	}
	ids := data.IDs()
	if ids[0] != children[0].ID || ids[1] != children[1].ID {
		t.Errorf("counter data order %v does not follow node order", ids)
	}
}
