package models

import (
	"fmt"
	"strconv"
)

// Row is one data record. Cells hold int64, float64 or string after CSV
// parsing; generalized QID cells are replaced by string labels. Rows survive
// a JSON round-trip (integers come back as float64, or as json.Number where
// the decoder uses UseNumber), so all numeric access must go through Numeric.
type Row []any

// Clone returns a shallow-safe copy of the row (cells are immutable values).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Numeric coerces a cell to float64. Returns false for non-numeric cells.
func Numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case json5Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// json5Number lets Numeric accept json.Number without importing encoding/json
// here; encoding/json's Number satisfies it.
type json5Number interface{ Float64() (float64, error) }

// CompareCells orders two row cells for the final result sort: numbers first
// (ascending), then strings lexicographically.
func CompareCells(a, b any) int {
	na, aok := Numeric(a)
	nb, bok := Numeric(b)
	switch {
	case aok && bok:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	sa, sb := CellString(a), CellString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

// CellString renders a cell the way it appears in CSV output.
func CellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// Party addresses one protocol member. The coordinator always has id 0; the
// ring successor of party i is party i+1, wrapping back to the coordinator.
type Party struct {
	ID         int    `json:"id"`
	Host       string `json:"host"`
	RingPort   int    `json:"ring_port"`
	MotionPort int    `json:"motion_port"`
}

func (p Party) RingAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.RingPort)
}

func (p Party) MotionAddr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.MotionPort)
}

// NextInRing returns the successor of the party with id on the fixed ring
// topology. The highest id wraps back to the coordinator (id 0).
func NextInRing(parties []Party, id int) (Party, error) {
	var coordinator *Party
	for i := range parties {
		if parties[i].ID == id+1 {
			return parties[i], nil
		}
		if parties[i].ID == 0 {
			coordinator = &parties[i]
		}
	}
	if coordinator == nil {
		return Party{}, fmt.Errorf("party roster has no coordinator (id 0)")
	}
	return *coordinator, nil
}

// Criterion filters records at request start, e.g. {"Age", "<", "65"}.
type Criterion struct {
	Category string `json:"category"`
	Operator string `json:"operator"` // one of "=", "<", ">"
	Value    string `json:"value"`
}

func (c Criterion) String() string {
	return c.Category + " " + c.Operator + " " + c.Value
}

// Dummy rows pad the secure set union so the coordinator's contribution count
// stays hidden. The first column carries the sentinel, the second a random
// sort key so dummies spread through the sorted result before removal.
const (
	DummySentinel = "DUMMY"
	NrDummiesMin  = 1
	NrDummiesMax  = 50
)

// DummyRow builds a dummy row of the given width. Width is the column count
// of the dataset being anonymized; remaining cells are zero-filled.
func DummyRow(width int, sortKey int64) Row {
	if width < 2 {
		width = 2
	}
	row := make(Row, width)
	row[0] = DummySentinel
	row[1] = sortKey
	for i := 2; i < width; i++ {
		row[i] = int64(0)
	}
	return row
}

// IsDummy reports whether a decrypted row is a coordinator dummy.
func (r Row) IsDummy() bool {
	if len(r) == 0 {
		return false
	}
	s, ok := r[0].(string)
	return ok && s == DummySentinel
}
