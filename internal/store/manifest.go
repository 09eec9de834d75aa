package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// ManifestStore deduplicates submissions by content hash. A file whose
// sha256 is already present for the tenant is skipped at enqueue time.
type ManifestStore struct {
	s *Store
}

var manifestColumns = []string{
	"id", "sha256", "file_path", "original_name", "size_bytes",
	"theme", "tenant_id", "created_at", "updated_at",
}

// Find returns the manifest entry for a hash, or nil when unseen.
func (ms *ManifestStore) Find(ctx context.Context, sha256, tenantID string) (*ManifestEntry, error) {
	sel := ms.s.builder().Select(manifestColumns...).From(entsql.Table("file_manifest")).
		Where(entsql.And(
			entsql.EQ("sha256", sha256),
			entsql.EQ("tenant_id", tenantID),
		))
	query, args := sel.Query()

	entry, err := scanManifest(ms.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Record inserts a manifest entry, updating the path fields when the hash
// is already present for the tenant.
func (ms *ManifestStore) Record(ctx context.Context, e ManifestEntry) error {
	now := ms.s.now().Unix()

	existing, err := ms.Find(ctx, e.SHA256, e.TenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		upd := ms.s.builder().Update("file_manifest").
			Set("file_path", e.FilePath).
			Set("original_name", e.OriginalName).
			Set("size_bytes", e.SizeBytes).
			Set("theme", e.Theme).
			Set("updated_at", now).
			Where(entsql.EQ("id", existing.ID))
		query, args := upd.Query()
		_, err := ms.s.exec(ctx, query, args)
		return err
	}

	ins := ms.s.builder().Insert("file_manifest").
		Columns("sha256", "file_path", "original_name", "size_bytes", "theme", "tenant_id", "created_at", "updated_at").
		Values(e.SHA256, e.FilePath, e.OriginalName, e.SizeBytes, e.Theme, e.TenantID, now, now)
	_, err = ms.s.insertReturningID(ctx, ins)
	return err
}

// UpdatePath rewrites the stored path after a processed-file move.
func (ms *ManifestStore) UpdatePath(ctx context.Context, sha256, tenantID, filePath string) error {
	upd := ms.s.builder().Update("file_manifest").
		Set("file_path", filePath).
		Set("updated_at", ms.s.now().Unix()).
		Where(entsql.And(
			entsql.EQ("sha256", sha256),
			entsql.EQ("tenant_id", tenantID),
		))
	query, args := upd.Query()
	_, err := ms.s.exec(ctx, query, args)
	return err
}

func scanManifest(row rowScanner) (*ManifestEntry, error) {
	var (
		e         ManifestEntry
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&e.ID, &e.SHA256, &e.FilePath, &e.OriginalName, &e.SizeBytes,
		&e.Theme, &e.TenantID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}
