package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardsafe/kanon-engine/internal/coordinator"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/internal/metrics"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

var testCategories = []string{"Center", "Age", "Sex"}

func testTrees() hierarchy.AttributeTrees {
	age := hierarchy.NewNumerical(1, 119,
		hierarchy.NewNumerical(1, 76,
			hierarchy.NewNumerical(1, 65),
			hierarchy.NewNumerical(66, 76),
		),
		hierarchy.NewNumerical(77, 119),
	)
	sex := hierarchy.NewNumerical(1, 2,
		hierarchy.NewNumerical(1, 1),
		hierarchy.NewNumerical(2, 2),
	)
	return hierarchy.AttributeTrees{1: age, 2: sex}
}

// Six records spread over three parties, two each.
func testPartyRecords() [][]models.Row {
	return [][]models.Row{
		{
			{int64(1), int64(30), int64(1)},
			{int64(1), int64(35), int64(1)},
		},
		{
			{int64(2), int64(40), int64(2)},
			{int64(2), int64(70), int64(2)},
		},
		{
			{int64(3), int64(75), int64(2)},
			{int64(3), int64(80), int64(2)},
		},
	}
}

func testConfig() Config {
	return Config{
		K:            2,
		Trees:        testTrees(),
		Categories:   testCategories,
		PartyRecords: testPartyRecords(),
	}
}

func runWithTimeout(t *testing.T, cfg Config) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := Run(ctx, cfg)
	require.NoError(t, err)
	return result
}

func TestRunProducesKAnonymousUnion(t *testing.T) {
	result := runWithTimeout(t, testConfig())

	require.Len(t, result.Rows, 6, "no row may be lost or duplicated")
	assert.True(t, result.KAnonymous)
	assert.True(t, metrics.FulfillsKAnonymity(result.Rows, []int{1, 2}, 2))

	for _, row := range result.Rows {
		assert.Equal(t, "*", row[0], "center column must stay redacted")
	}

	// The age split [1,76] / [77,119] would strand a single record, so age
	// stays generalized and sex splits into classes of size 2 and 4.
	sizes := metrics.ClassSizes(result.Rows, []int{1, 2})
	assert.Equal(t, []int{2, 4}, sizes)
	for _, row := range result.Rows {
		assert.Equal(t, "1:119", models.CellString(row[1]))
	}
}

func TestRunSortsResultBySecondColumn(t *testing.T) {
	result := runWithTimeout(t, testConfig())
	for i := 1; i < len(result.Rows); i++ {
		assert.LessOrEqual(t,
			models.CompareCells(result.Rows[i-1][1], result.Rows[i][1]), 0,
			"rows must come back sorted by the second column")
	}
}

func TestRunIsDeterministicAcrossRuns(t *testing.T) {
	a := runWithTimeout(t, testConfig())
	b := runWithTimeout(t, testConfig())

	assert.Equal(t, a.Rounds, b.Rounds)

	classesA := metrics.EquivalenceClasses(a.Rows, []int{1, 2})
	classesB := metrics.EquivalenceClasses(b.Rows, []int{1, 2})
	require.Len(t, classesB, len(classesA))
	for key, rows := range classesA {
		assert.Len(t, classesB[key], len(rows), "class %s differs between runs", key)
	}
}

func TestRunConvergesWithinHierarchyBound(t *testing.T) {
	cfg := testConfig()
	result := runWithTimeout(t, cfg)

	var internal int
	var count func(n *hierarchy.Node)
	count = func(n *hierarchy.Node) {
		if !n.IsLeaf() {
			internal++
		}
		for _, c := range n.Children {
			count(c)
		}
	}
	for _, idx := range cfg.Trees.SortedIndices() {
		count(cfg.Trees[idx])
	}

	assert.LessOrEqual(t, result.Rounds, internal,
		"round count must be bounded by the number of internal hierarchy nodes")
	assert.GreaterOrEqual(t, result.Rounds, 1)
}

func TestRunAppliesCriteria(t *testing.T) {
	cfg := testConfig()
	cfg.Criteria = []models.Criterion{{Category: "Age", Operator: ">", Value: "50"}}

	result := runWithTimeout(t, cfg)

	require.Len(t, result.Rows, 3, "only the three rows above age 50 may survive")
	assert.True(t, result.KAnonymous)
	for _, row := range result.Rows {
		assert.Equal(t, "2", models.CellString(row[2]), "surviving rows all have sex 2")
	}
}

func TestRunWithLargerK(t *testing.T) {
	cfg := testConfig()
	cfg.K = 6

	result := runWithTimeout(t, cfg)

	// k equals the total row count: nothing can be specialized, all rows end
	// up in the single fully generalized class.
	require.Len(t, result.Rows, 6)
	assert.True(t, result.KAnonymous)
	sizes := metrics.ClassSizes(result.Rows, []int{1, 2})
	assert.Equal(t, []int{6}, sizes)
	assert.Equal(t, 0, result.Rounds)
}

func TestRunReportsProgress(t *testing.T) {
	cfg := testConfig()
	var events []coordinator.Event
	cfg.Progress = func(ev coordinator.Event) {
		events = append(events, ev)
	}

	result := runWithTimeout(t, cfg)

	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, result.RequestID, ev.RequestID)
	}
	assert.Equal(t, "Done", events[len(events)-1].State)
}

func TestRunRejectsSingleParticipant(t *testing.T) {
	cfg := testConfig()
	cfg.PartyRecords = cfg.PartyRecords[:1]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Run(ctx, cfg)
	require.Error(t, err)
}
