package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLSearch implements Searcher with ILIKE matching straight against
// Postgres, as the fallback when Meilisearch is down.
type SQLSearch struct {
	db *sql.DB
}

func NewSQLSearch(db *sql.DB) *SQLSearch {
	return &SQLSearch{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *SQLSearch) Healthy() bool {
	return true
}

// Search matches the query against project number, document number, and
// title, applying the same visibility rules as the quotation listing.
func (p *SQLSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := []string{"(q.project_number ILIKE $1 OR q.document_number ILIKE $1 OR q.title ILIKE $1)"}
	args := []any{"%" + q.Text + "%"}
	argN := 2

	join := ""
	switch q.Role {
	case "seller":
		where = append(where, fmt.Sprintf("q.created_by = $%d", argN))
		args = append(args, q.UserID)
		argN++
	case "buyer":
		join = " JOIN users u ON u.id = q.created_by"
		where = append(where, fmt.Sprintf("u.onboarded_by = $%d", argN))
		args = append(args, q.UserID)
		argN++
	}
	if q.Status != "" {
		where = append(where, fmt.Sprintf("q.status = $%d", argN))
		args = append(args, q.Status)
		argN++
	}

	base := "FROM quotations q" + join + " WHERE " + strings.Join(where, " AND ")

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sql search count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT q.id, q.project_number, q.document_number, q.title, q.status, q.current_version, q.created_by
		%s
		ORDER BY q.updated_at DESC
		LIMIT %d OFFSET %d`, base, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sql search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectNumber, &r.DocumentNumber, &r.Title, &r.Status, &r.LatestVersion, &r.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("sql search scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all quotations for full reindexing.
func (p *SQLSearch) LoadAllRecords(ctx context.Context) ([]QuotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT q.id, q.project_number, q.document_number, q.title, q.status, q.current_version, q.created_by,
			COALESCE(u.onboarded_by, '')
		FROM quotations q
		JOIN users u ON u.id = q.created_by
	`)
	if err != nil {
		return nil, fmt.Errorf("load quotations: %w", err)
	}
	defer rows.Close()

	records := make([]QuotationRecord, 0)
	for rows.Next() {
		var rec QuotationRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectNumber, &rec.DocumentNumber, &rec.Title, &rec.Status, &rec.LatestVersion, &rec.CreatedBy, &rec.OnboardedBy); err != nil {
			return nil, fmt.Errorf("scan quotation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotations: %w", err)
	}
	return records, nil
}
