package models

import "time"

// RunSummary describes one completed anonymization request as persisted and
// served by the coordinator's status API.
type RunSummary struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	K          int       `json:"k"`
	NumParties int       `json:"num_parties"`
	NumQIDs    int       `json:"num_qids"`
	Rounds     int       `json:"rounds"`
	RowCount   int       `json:"row_count"`
	KAnonymous bool      `json:"k_anonymous"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
