package index

import (
	"context"

	"github.com/fieldarchive/ingestor/internal/geo"
)

// GeoPoint is a confirmed coordinate attached to a document.
type GeoPoint struct {
	ID    int64
	DocID int64
	Lat   float64
	Lon   float64
}

// Suggestion is a soft geo hint (gazetteer or model derived) awaiting
// review. Status starts as "pending".
type Suggestion struct {
	ID       int64
	DocID    int64
	TaskID   int64
	Label    string
	Lat      float64
	Lon      float64
	Score    float64
	Source   string
	Status   string
	TenantID string
}

// AddGeoPoints attaches extracted coordinates to a document.
func (ix *Index) AddGeoPoints(ctx context.Context, docID, taskID int64, theme, title string, coords []geo.Point, tenantID string) error {
	if len(coords) == 0 {
		return nil
	}
	now := ix.now().Unix()
	for _, c := range coords {
		if _, err := ix.db.ExecContext(ctx,
			`INSERT INTO geo_points (doc_id, task_id, lat, lon, theme, title, tenant_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			docID, taskID, c.Lat, c.Lon, theme, title, tenantID, now,
		); err != nil {
			return err
		}
	}
	return nil
}

// GeoForDoc returns the confirmed points for a document.
func (ix *Index) GeoForDoc(ctx context.Context, docID int64, tenantID string) ([]GeoPoint, error) {
	q := "SELECT id, doc_id, lat, lon FROM geo_points WHERE doc_id = ?"
	args := []any{docID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []GeoPoint
	for rows.Next() {
		var p GeoPoint
		if err := rows.Scan(&p.ID, &p.DocID, &p.Lat, &p.Lon); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// AddSuggestion records a pending geo suggestion and returns its id.
func (ix *Index) AddSuggestion(ctx context.Context, s Suggestion) (int64, error) {
	res, err := ix.db.ExecContext(ctx,
		`INSERT INTO geo_suggestions (doc_id, task_id, label, lat, lon, score, source, status, tenant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		s.DocID, s.TaskID, s.Label, s.Lat, s.Lon, s.Score, s.Source, s.TenantID, ix.now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SuggestionsForDoc lists suggestions for a document, newest first.
func (ix *Index) SuggestionsForDoc(ctx context.Context, docID int64, tenantID string) ([]Suggestion, error) {
	q := `SELECT id, doc_id, task_id, label, lat, lon, score, source, status, tenant_id
		FROM geo_suggestions WHERE doc_id = ?`
	args := []any{docID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	q += " ORDER BY created_at DESC, id DESC"
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		if err := rows.Scan(&s.ID, &s.DocID, &s.TaskID, &s.Label, &s.Lat, &s.Lon,
			&s.Score, &s.Source, &s.Status, &s.TenantID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AcceptSuggestion promotes a suggestion to a confirmed geo point.
func (ix *Index) AcceptSuggestion(ctx context.Context, suggestionID int64, tenantID string) error {
	var s Suggestion
	q := `SELECT id, doc_id, task_id, label, lat, lon, score, source, status, tenant_id
		FROM geo_suggestions WHERE id = ?`
	args := []any{suggestionID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	row := ix.db.QueryRowContext(ctx, q, args...)
	if err := row.Scan(&s.ID, &s.DocID, &s.TaskID, &s.Label, &s.Lat, &s.Lon,
		&s.Score, &s.Source, &s.Status, &s.TenantID); err != nil {
		return err
	}
	if err := ix.AddGeoPoints(ctx, s.DocID, s.TaskID, "", s.Label, []geo.Point{{Lat: s.Lat, Lon: s.Lon}}, s.TenantID); err != nil {
		return err
	}
	return ix.setSuggestionStatus(ctx, suggestionID, "accepted", tenantID)
}

// RejectSuggestion marks a suggestion rejected.
func (ix *Index) RejectSuggestion(ctx context.Context, suggestionID int64, tenantID string) error {
	return ix.setSuggestionStatus(ctx, suggestionID, "rejected", tenantID)
}

func (ix *Index) setSuggestionStatus(ctx context.Context, suggestionID int64, status, tenantID string) error {
	q := "UPDATE geo_suggestions SET status = ? WHERE id = ?"
	args := []any{status, suggestionID}
	if tenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	_, err := ix.db.ExecContext(ctx, q, args...)
	return err
}
