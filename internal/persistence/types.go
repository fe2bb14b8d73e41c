package persistence

import "time"

// Document is a unit of text indexed for full-text retrieval.
type Document struct {
	ID        string
	Title     string
	Body      string
	Source    string
	Metadata  map[string]string
	UpdatedAt time.Time
}

// DocumentHit is one ranked search result. Score is in (0, 1]; higher is better.
type DocumentHit struct {
	ID      string
	Title   string
	Source  string
	Snippet string
	Score   float64
}
