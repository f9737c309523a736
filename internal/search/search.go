package search

import "context"

// Result is a single sheet hit returned to the caller.
type Result struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. UserID restricts hits to sheets the user
// holds a grant on; an empty UserID matches nothing.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push sheets into a search index.
type Indexer interface {
	IndexSheet(rec SheetRecord) error
	IndexSheets(records []SheetRecord) error
	DeleteSheet(id int64) error
}

// RecordSource loads the indexable view of sheets from the system of record.
type RecordSource interface {
	LoadSheetRecord(ctx context.Context, sheetID int64) (SheetRecord, error)
	LoadAllRecords(ctx context.Context) ([]SheetRecord, error)
}

// SheetRecord is the data we index for a sheet. Members lists the user IDs
// holding any grant on it and is what per-user filtering runs against.
type SheetRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Detail  string   `json:"detail"`
	Members []string `json:"members"`
}

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
