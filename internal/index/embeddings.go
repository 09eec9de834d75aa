package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"sort"
)

// StoreEmbedding upserts the embedding vector for a document. Vectors are
// JSON-encoded; the index stays a single portable sqlite file.
func (ix *Index) StoreEmbedding(ctx context.Context, docID int64, tenantID string, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	buf, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	_, err = ix.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO doc_embeddings (doc_id, tenant_id, vector) VALUES (?, ?, ?)",
		docID, tenantID, string(buf))
	return err
}

// Embedding returns the stored vector for a document, or nil when absent.
func (ix *Index) Embedding(ctx context.Context, docID int64) ([]float32, error) {
	var raw string
	err := ix.db.QueryRowContext(ctx,
		"SELECT vector FROM doc_embeddings WHERE doc_id = ?", docID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Rerank orders FTS hits by cosine similarity to the query vector. Hits
// without a stored embedding keep their FTS rank, after the scored ones.
func (ix *Index) Rerank(ctx context.Context, queryVec []float32, hits []SearchHit) []SearchHit {
	if len(queryVec) == 0 || len(hits) == 0 {
		return hits
	}
	type scored struct {
		hit   SearchHit
		score float64
	}
	var ranked []scored
	var unranked []SearchHit
	for _, h := range hits {
		vec, err := ix.Embedding(ctx, h.ID)
		if err != nil || vec == nil {
			unranked = append(unranked, h)
			continue
		}
		if s := cosine(queryVec, vec); s >= 0 {
			ranked = append(ranked, scored{hit: h, score: s})
		} else {
			unranked = append(unranked, h)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]SearchHit, 0, len(hits))
	for _, r := range ranked {
		out = append(out, r.hit)
	}
	return append(out, unranked...)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
