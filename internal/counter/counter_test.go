package counter

import (
	"testing"
)

func sampleData() *Data {
	d := NewData()
	d.Set("A|", NodeCounter{
		Node: Counter{Type: Undefined},
		Children: ChildCounters{
			1: {"A1|": {Type: Undefined}, "A2|": {Type: Undefined}},
			2: {"B1|": {Type: Undefined}, "B2|": {Type: Undefined}},
		},
	})
	return d
}

func TestGroupsFromOrdering(t *testing.T) {
	groups := GroupsFrom(sampleData(), false)

	// One singleton node group plus one child group per attribute, attributes
	// ascending, children sorted by id.
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 1 || groups[0][0].ID != "A|" {
		t.Errorf("group 0 should be the node singleton, got %v", groups[0])
	}
	if groups[1][0].ID != "A1|" || groups[1][1].ID != "A2|" {
		t.Errorf("group 1 should hold attribute 1 children sorted, got %v", groups[1])
	}
	if groups[2][0].ID != "B1|" || groups[2][1].ID != "B2|" {
		t.Errorf("group 2 should hold attribute 2 children sorted, got %v", groups[2])
	}
}

func TestGroupsFromOnlyUndefined(t *testing.T) {
	d := NewData()
	d.Set("A|", NodeCounter{
		Node: Counter{Type: Valid, N: 9},
		Children: ChildCounters{
			1: {"A1|": {Type: Undefined}, "A2|": {Type: Valid, N: 5}},
		},
	})

	groups := GroupsFrom(d, true)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group of undefined counters, got %d", len(groups))
	}
	if len(groups[0]) != 1 || groups[0][0].ID != "A1|" {
		t.Errorf("expected only the undefined child, got %v", groups[0])
	}
}

func TestNodeIDsAndFilter(t *testing.T) {
	groups := GroupsFrom(sampleData(), false)

	ids := NodeIDs(groups)
	want := []string{"A|", "A1|", "A2|", "B1|", "B2|"}
	if len(ids) != len(want) {
		t.Fatalf("NodeIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("NodeIDs() = %v, want %v", ids, want)
		}
	}

	filtered := FilterByID(groups, []string{"A1|", "A2|"})
	if len(filtered) != 1 {
		t.Fatalf("expected a single surviving group, got %d", len(filtered))
	}
	if len(filtered[0]) != 2 {
		t.Errorf("expected both attribute 1 children to survive, got %v", filtered[0])
	}
}

func TestIncorporateReplacesOnlyUndefined(t *testing.T) {
	d := NewData()
	d.Set("A|", NodeCounter{
		Node: Counter{Type: DataContent, N: 4},
		Children: ChildCounters{
			1: {"A1|": {Type: Undefined}, "A2|": {Type: DataContent, N: 2}},
		},
	})

	resolved := []Group{
		{{ID: "A|", Counter: Counter{Type: Valid, N: 100}}},
		{{ID: "A1|", Counter: Counter{Type: Valid, N: 7}}, {ID: "A2|", Counter: Counter{Type: Valid, N: 50}}},
	}

	result := Incorporate(d, resolved)
	nc, ok := result.Get("A|")
	if !ok {
		t.Fatal("node lost during incorporation")
	}
	if nc.Node.Type != DataContent || nc.Node.N != 4 {
		t.Errorf("DataContent node counter must not be replaced, got %v", nc.Node)
	}
	if c := nc.Children[1]["A1|"]; c.Type != Valid || c.N != 7 {
		t.Errorf("Undefined child should take the oracle output, got %v", c)
	}
	if c := nc.Children[1]["A2|"]; c.Type != DataContent || c.N != 2 {
		t.Errorf("DataContent child must not be replaced, got %v", c)
	}
}

func TestBlindingRoundTrip(t *testing.T) {
	d := NewData()
	d.Set("A|", NodeCounter{
		Node: Counter{Type: DataContent, N: 11},
		Children: ChildCounters{
			1: {"A1|": {Type: DataContent, N: 4}, "A2|": {Type: DataContent, N: 7}},
		},
	})

	blinder := WithRandomValues(d)
	blinded, err := Add(d, blinder)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	recovered, err := Subtract(blinded, blinder)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}

	nc, _ := recovered.Get("A|")
	if nc.Node.N != 11 {
		t.Errorf("node counter after round trip = %d, want 11", nc.Node.N)
	}
	if nc.Children[1]["A1|"].N != 4 || nc.Children[1]["A2|"].N != 7 {
		t.Errorf("child counters after round trip = %v", nc.Children[1])
	}
}

func TestCombineMismatchFails(t *testing.T) {
	a := NewData()
	a.Set("A|", NodeCounter{Node: Counter{Type: DataContent, N: 1}, Children: ChildCounters{}})
	b := NewData()
	b.Set("B|", NodeCounter{Node: Counter{Type: DataContent, N: 1}, Children: ChildCounters{}})

	if _, err := Add(a, b); err == nil {
		t.Error("expected structural mismatch error")
	}
}

func TestDataPreservesInsertionOrder(t *testing.T) {
	d := NewData()
	d.Set("z|", NodeCounter{})
	d.Set("a|", NodeCounter{})
	d.Set("m|", NodeCounter{})
	d.Set("a|", NodeCounter{Node: Counter{Type: Valid, N: 1}}) // replace keeps position

	ids := d.IDs()
	want := []string{"z|", "a|", "m|"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs() = %v, want %v", ids, want)
		}
	}
}
