package models

import "time"

// SearchResult is a single catalog hit.
type SearchResult struct {
	ID      int      `json:"id"`
	Path    string   `json:"path"`
	Authors []string `json:"authors"`
	Score   float64  `json:"score"`
	Rank    int      `json:"rank"`
}

// SearchResponse is the response for a catalog search.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}

// Build status values recorded in the ledger.
const (
	BuildRunning   = "running"
	BuildSucceeded = "succeeded"
	BuildFailed    = "failed"
)

// BuildStats counts what happened to each enumerated file.
type BuildStats struct {
	Found   int `json:"found"`
	Indexed int `json:"indexed"`
	// Skipped files had no resolvable history.
	Skipped int `json:"skipped"`
	// Failed files hit a resolution error.
	Failed int `json:"failed"`
}

// Build is one row of the build ledger.
type Build struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      BuildStats `json:"stats"`
	Error      string     `json:"error,omitempty"`
}
