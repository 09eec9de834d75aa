package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Document is an indexed record. StableID is the content-derived id, so
// re-processing the same bytes produces the same value while FilePath and
// Provenance track where the copy came from.
type Document struct {
	ID             int64
	TaskID         int64
	FilePath       string
	StableID       string
	Provenance     string
	SHA256         string
	Theme          string
	Title          string
	Summary        string
	DocType        string
	InferredDate   string
	BreachCategory string
	Reliability    string
	KeyQuote       string
	Privileged     bool
	EntitiesJSON   string
	TenantID       string
	CreatedAt      int64
}

const docColumns = `id, task_id, file_path, stable_id, provenance, sha256, theme, title,
	summary, doc_type, inferred_date, breach_category, reliability,
	key_quote, privileged, entities_json, tenant_id, created_at`

// AddDocument inserts a document row and its FTS mirror, returning the new
// row id. content is indexed but not stored on the docs row itself.
func (ix *Index) AddDocument(ctx context.Context, doc Document, content string) (int64, error) {
	res, err := ix.db.ExecContext(ctx, `INSERT INTO docs (
		task_id, file_path, stable_id, provenance, sha256, theme, title, summary,
		doc_type, inferred_date, breach_category, reliability, key_quote,
		privileged, entities_json, tenant_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.TaskID, doc.FilePath, doc.StableID, doc.Provenance, doc.SHA256,
		doc.Theme, doc.Title, nullable(doc.Summary), doc.DocType, doc.InferredDate,
		doc.BreachCategory, doc.Reliability, doc.KeyQuote, boolInt(doc.Privileged),
		doc.EntitiesJSON, doc.TenantID, ix.now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := ix.db.ExecContext(ctx,
		`INSERT INTO docs_fts (rowid, content, theme, file_path) VALUES (?, ?, ?, ?)`,
		id, content, doc.Theme, doc.FilePath,
	); err != nil {
		return 0, err
	}
	return id, nil
}

// SearchHit is a document plus its FTS snippet.
type SearchHit struct {
	Document
	Snippet string
}

// SearchOptions narrows an FTS query.
type SearchOptions struct {
	TenantID string
	Theme    string
	DocType  string
	Limit    int
}

// Search runs an FTS5 match, best ranked first.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	where := []string{"docs_fts MATCH ?"}
	args := []any{query}
	if opts.TenantID != "" {
		where = append(where, "d.tenant_id = ?")
		args = append(args, opts.TenantID)
	}
	if opts.Theme != "" {
		where = append(where, "d.theme LIKE ?")
		args = append(args, "%"+opts.Theme+"%")
	}
	if opts.DocType != "" {
		where = append(where, "d.doc_type LIKE ?")
		args = append(args, "%"+opts.DocType+"%")
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s, snippet(docs_fts, 0, '[', ']', '…', 10)
		FROM docs_fts
		JOIN docs d ON d.id = docs_fts.rowid
		WHERE %s
		ORDER BY rank
		LIMIT ?`, prefixColumns("d"), strings.Join(where, " AND "))

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := scanDoc(rows, &h.Document, &h.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Doc fetches a single document, or nil when absent.
func (ix *Index) Doc(ctx context.Context, id int64) (*Document, error) {
	row := ix.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM docs WHERE id = ?", docColumns), id)
	var d Document
	if err := scanDoc(row, &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// DocByTask fetches the newest document produced for a task, or nil.
func (ix *Index) DocByTask(ctx context.Context, taskID int64, tenantID string) (*Document, error) {
	q := fmt.Sprintf("SELECT %s FROM docs WHERE task_id = ?", docColumns)
	args := []any{taskID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	q += " ORDER BY id DESC LIMIT 1"
	row := ix.db.QueryRowContext(ctx, q, args...)
	var d Document
	if err := scanDoc(row, &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// UpdateSummary sets the summary on a document.
func (ix *Index) UpdateSummary(ctx context.Context, docID int64, summary string) error {
	_, err := ix.db.ExecContext(ctx, "UPDATE docs SET summary = ? WHERE id = ?", summary, docID)
	return err
}

// PendingSummaries lists documents without a summary, oldest first; it
// drives batch enrichment runs.
func (ix *Index) PendingSummaries(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ix.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM docs WHERE summary IS NULL ORDER BY created_at ASC, id ASC LIMIT ?",
		docColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDoc(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocPath moves a document (and its FTS mirror) to a new file path.
// Reports whether a row was updated.
func (ix *Index) UpdateDocPath(ctx context.Context, docID int64, filePath, tenantID string) (bool, error) {
	q := "UPDATE docs SET file_path = ? WHERE id = ?"
	args := []any{filePath, docID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	res, err := ix.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	_, err = ix.db.ExecContext(ctx, "UPDATE docs_fts SET file_path = ? WHERE rowid = ?", filePath, docID)
	return true, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDoc(row rowScanner, d *Document, extra ...any) error {
	var privileged int64
	var summary sql.NullString
	dest := []any{
		&d.ID, &d.TaskID, &d.FilePath, &d.StableID, &d.Provenance, &d.SHA256,
		&d.Theme, &d.Title, &summary, &d.DocType, &d.InferredDate,
		&d.BreachCategory, &d.Reliability, &d.KeyQuote, &privileged,
		&d.EntitiesJSON, &d.TenantID, &d.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	d.Summary = summary.String
	d.Privileged = privileged != 0
	return nil
}

// prefixColumns qualifies docColumns with a table alias for joins.
func prefixColumns(alias string) string {
	parts := strings.Split(docColumns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullable maps "" to NULL so PendingSummaries can find unsummarized docs.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
