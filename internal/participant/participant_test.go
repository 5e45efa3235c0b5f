package participant

import (
	"testing"

	"github.com/shardsafe/kanon-engine/pkg/models"
)

var testCategories = []string{"Center", "Age", "Sex"}

func testRecords() []models.Row {
	return []models.Row{
		{int64(1), int64(30), int64(1)},
		{int64(1), int64(35), int64(1)},
		{int64(2), int64(40), int64(2)},
		{int64(2), int64(70), int64(2)},
	}
}

func TestFilterByCriteriaRedactsCenter(t *testing.T) {
	rows := FilterByCriteria(testRecords(), testCategories, nil)
	if len(rows) != 4 {
		t.Fatalf("expected all rows without criteria, got %d", len(rows))
	}
	for i, row := range rows {
		if row[0] != "*" {
			t.Errorf("row %d center = %v, want redacted", i, row[0])
		}
	}
}

func TestFilterByCriteriaDoesNotMutateInput(t *testing.T) {
	records := testRecords()
	_ = FilterByCriteria(records, testCategories, nil)
	if records[0][0] != int64(1) {
		t.Error("input records were mutated during filtering")
	}
}

func TestFilterByCriteriaOperators(t *testing.T) {
	tests := []struct {
		name      string
		criterion models.Criterion
		expected  int
	}{
		{"Equality", models.Criterion{Category: "Sex", Operator: "=", Value: "1"}, 2},
		{"Less than", models.Criterion{Category: "Age", Operator: "<", Value: "40"}, 2},
		{"Greater than", models.Criterion{Category: "Age", Operator: ">", Value: "35"}, 2},
		{"No match", models.Criterion{Category: "Age", Operator: ">", Value: "100"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := FilterByCriteria(testRecords(), testCategories, []models.Criterion{tt.criterion})
			if len(rows) != tt.expected {
				t.Errorf("got %d rows, want %d", len(rows), tt.expected)
			}
		})
	}
}

func TestFilterByCriteriaCombined(t *testing.T) {
	criteria := []models.Criterion{
		{Category: "Age", Operator: ">", Value: "30"},
		{Category: "Sex", Operator: "=", Value: "2"},
	}
	rows := FilterByCriteria(testRecords(), testCategories, criteria)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows matching both criteria, got %d", len(rows))
	}
}

func TestFilterByCriteriaUnknownCategoryEmptiesResult(t *testing.T) {
	criteria := []models.Criterion{{Category: "Height", Operator: "<", Value: "180"}}
	if rows := FilterByCriteria(testRecords(), testCategories, criteria); len(rows) != 0 {
		t.Errorf("expected empty contribution for unknown category, got %d rows", len(rows))
	}
}

func TestFilterByCriteriaUnparseableValueEmptiesResult(t *testing.T) {
	criteria := []models.Criterion{{Category: "Age", Operator: "<", Value: "old"}}
	if rows := FilterByCriteria(testRecords(), testCategories, criteria); len(rows) != 0 {
		t.Errorf("expected empty contribution for unparseable value, got %d rows", len(rows))
	}
}
