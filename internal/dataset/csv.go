// Package dataset provides CSV ingestion and the generalization hierarchies
// of the bundled datasets (the stroke-registry medical data and the UCI
// adult census data).
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/shardsafe/kanon-engine/pkg/models"
)

// MissingValue marks an incomplete cell; rows containing it anywhere are
// dropped at read time.
const MissingValue = "?"

// ReadCSV reads a comma-separated file with a header row. Cells parse to
// int64, then float64, then fall back to the raw string.
func ReadCSV(path string) (categories []string, rows []models.Row, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening dataset: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading dataset: %v", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("dataset %s is empty", path)
	}

	categories = records[0]
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		incomplete := false
		for _, cell := range record {
			if cell == MissingValue {
				incomplete = true
				break
			}
		}
		if incomplete {
			continue
		}

		row := make(models.Row, len(record))
		for i, cell := range record {
			row[i] = parseCell(cell)
		}
		rows = append(rows, row)
	}

	return categories, rows, nil
}

func parseCell(cell string) any {
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

// SliceForParty returns the contiguous slice of rows owned by one party
// under the even horizontal split used in deployments: party i of n owns
// rows [(i-1)·⌊len/n⌋, i·⌊len/n⌋).
func SliceForParty(rows []models.Row, partyID, numParties int) []models.Row {
	if numParties < 1 || partyID < 1 || partyID > numParties {
		return nil
	}
	span := len(rows) / numParties
	return rows[(partyID-1)*span : partyID*span]
}
