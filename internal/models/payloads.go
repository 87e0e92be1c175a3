package models

import "time"

// Rename records a piece-count correction.
type Rename struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Pages     int    `json:"pages"`
	Declared  int    `json:"declared"`
	Corrected int    `json:"corrected"`
}

// Quarantine records a document moved to the bad-document directory because
// its name did not match the naming pattern.
type Quarantine struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RunReport summarises one pipeline invocation.
type RunReport struct {
	Container   string       `json:"container"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	DryRun      bool         `json:"dryRun"`
	Planned     []string     `json:"planned"`
	Fetched     []string     `json:"fetched"`
	Extracted   []string     `json:"extracted"`
	Quarantined []Quarantine `json:"quarantined"`
	Renamed     []Rename     `json:"renamed"`
	Finalized   []string     `json:"finalized"`
	Archived    []string     `json:"archived"`
}
