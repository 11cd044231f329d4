package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/dbutil"
)

type ChunkEmbedding struct {
	Chunk     model.CodeChunk
	Embedding []float32
}

// ChunkEmbeddingRepo persists the retrieval index: one embedded chunk per row, grouped by alias.
type ChunkEmbeddingRepo struct {
	db *sqlx.DB
}

func NewChunkEmbeddingRepo(db *sqlx.DB) *ChunkEmbeddingRepo {
	return &ChunkEmbeddingRepo{db: db}
}

// Replace swaps the whole index of an alias in one transaction.
func (r *ChunkEmbeddingRepo) Replace(ctx context.Context, alias string, items []ChunkEmbedding) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chunk_embeddings WHERE alias = ?`), alias); err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, item := range items {
		chunkJSON, err := json.Marshal(item.Chunk)
		if err != nil {
			return err
		}
		vecJSON, err := json.Marshal(item.Embedding)
		if err != nil {
			return err
		}
		data := map[string]interface{}{
			"alias":       alias,
			"chunk_id":    item.Chunk.ID,
			"file_path":   item.Chunk.FilePath,
			"chunk_index": item.Chunk.ChunkIndex,
			"chunk":       string(chunkJSON),
			"embedding":   string(vecJSON),
			"ctime":       now,
		}
		sqlStr, args, err := builder.BuildInsert("chunk_embeddings", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ChunkEmbeddingRepo) ListByAlias(ctx context.Context, alias string) ([]ChunkEmbedding, error) {
	where := map[string]interface{}{
		"alias":    alias,
		"_orderby": "file_path asc, chunk_index asc",
	}
	sqlStr, args, err := builder.BuildSelect("chunk_embeddings", where, []string{"chunk", "embedding"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkEmbedding
	for rows.Next() {
		var chunkJSON, vecJSON string
		if err := rows.Scan(&chunkJSON, &vecJSON); err != nil {
			return nil, err
		}
		var item ChunkEmbedding
		if err := json.Unmarshal([]byte(chunkJSON), &item.Chunk); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vecJSON), &item.Embedding); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *ChunkEmbeddingRepo) DeleteByAlias(ctx context.Context, alias string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM chunk_embeddings WHERE alias = ?`), alias)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ChunkEmbeddingRepo) CountByAlias(ctx context.Context, alias string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(1) FROM chunk_embeddings WHERE alias = ?`), alias)
	return n, err
}
