package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsQuery = `plainto_tsquery('simple', $1)`

// Search matches sheets the user holds a grant on, ranked with ts_rank and
// snippeted with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}
	q = normalize(q)
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM sheets s
		JOIN sheet_access a ON a.sheet_id = s.id
		WHERE a.user_id = $2 AND s.fts @@ `+pgftsQuery,
		q.Text, q.UserID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.title,
			ts_headline('simple', s.detail, %[1]s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM sheets s
		JOIN sheet_access a ON a.sheet_id = s.id
		WHERE a.user_id = $2 AND s.fts @@ %[1]s
		ORDER BY ts_rank(s.fts, %[1]s) DESC, s.id
		LIMIT %[2]d OFFSET %[3]d`, pgftsQuery, q.Limit, q.Offset),
		q.Text, q.UserID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.SheetID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadSheetRecord returns one sheet with its current member list.
func (p *PgFTS) LoadSheetRecord(ctx context.Context, sheetID int64) (SheetRecord, error) {
	records, err := p.loadRecords(ctx, `WHERE s.id = $1`, sheetID)
	if err != nil {
		return SheetRecord{}, err
	}
	if len(records) == 0 {
		return SheetRecord{}, sql.ErrNoRows
	}
	return records[0], nil
}

// LoadAllRecords returns every sheet for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SheetRecord, error) {
	return p.loadRecords(ctx, "")
}

func (p *PgFTS) loadRecords(ctx context.Context, where string, args ...any) ([]SheetRecord, error) {
	// user ids are uuids, so a comma-joined list splits cleanly
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.detail, coalesce(string_agg(a.user_id, ',' ORDER BY a.user_id), '')
		FROM sheets s
		LEFT JOIN sheet_access a ON a.sheet_id = s.id
		`+where+`
		GROUP BY s.id, s.title, s.detail
		ORDER BY s.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load sheets: %w", err)
	}
	defer rows.Close()

	records := make([]SheetRecord, 0)
	for rows.Next() {
		var id int64
		var rec SheetRecord
		var members string
		if err := rows.Scan(&id, &rec.Title, &rec.Detail, &members); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		rec.Members = splitMembers(members)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheets: %w", err)
	}
	return records, nil
}

func splitMembers(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}
