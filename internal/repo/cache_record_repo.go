package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

var cacheRecordFields = []string{
	"alias", "name", "provider", "model", "source", "system_instruction",
	"token_count", "ttl_seconds", "ctime", "expire_time",
}

// CacheRecordRepo stores one record per alias; Save is an atomic alias-keyed upsert.
type CacheRecordRepo struct {
	db *sqlx.DB
}

func NewCacheRecordRepo(db *sqlx.DB) *CacheRecordRepo {
	return &CacheRecordRepo{db: db}
}

func (r *CacheRecordRepo) Save(ctx context.Context, rec *model.CacheRecord) error {
	const query = `
		INSERT INTO cache_records (alias, name, provider, model, source, system_instruction, token_count, ttl_seconds, ctime, expire_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (alias) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			source = EXCLUDED.source,
			system_instruction = EXCLUDED.system_instruction,
			token_count = EXCLUDED.token_count,
			ttl_seconds = EXCLUDED.ttl_seconds,
			ctime = EXCLUDED.ctime,
			expire_time = EXCLUDED.expire_time
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		rec.Alias,
		rec.Name,
		rec.Provider,
		rec.Model,
		rec.Source,
		rec.SystemInstruction,
		rec.TokenCount,
		rec.TTLSeconds,
		toMilli(rec.CreatedAt),
		toMilli(rec.ExpiresAt),
	)
	return err
}

func (r *CacheRecordRepo) Update(ctx context.Context, rec *model.CacheRecord) error {
	update := map[string]interface{}{
		"name":               rec.Name,
		"provider":           rec.Provider,
		"model":              rec.Model,
		"source":             rec.Source,
		"system_instruction": rec.SystemInstruction,
		"token_count":        rec.TokenCount,
		"ttl_seconds":        rec.TTLSeconds,
		"ctime":              toMilli(rec.CreatedAt),
		"expire_time":        toMilli(rec.ExpiresAt),
	}
	sqlStr, args, err := builder.BuildUpdate("cache_records", map[string]interface{}{"alias": rec.Alias}, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *CacheRecordRepo) GetByAlias(ctx context.Context, alias string) (*model.CacheRecord, error) {
	return r.getOne(ctx, map[string]interface{}{"alias": alias})
}

func (r *CacheRecordRepo) GetByName(ctx context.Context, name string) (*model.CacheRecord, error) {
	return r.getOne(ctx, map[string]interface{}{"name": name, "_limit": []uint{0, 1}})
}

func (r *CacheRecordRepo) List(ctx context.Context) ([]*model.CacheRecord, error) {
	return r.list(ctx, map[string]interface{}{"_orderby": "ctime desc"})
}

// ListExpiredBefore returns records whose expiry is strictly before cutoff.
func (r *CacheRecordRepo) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.CacheRecord, error) {
	return r.list(ctx, map[string]interface{}{"expire_time <": toMilli(cutoff), "_orderby": "expire_time asc"})
}

func (r *CacheRecordRepo) DeleteByAlias(ctx context.Context, alias string) error {
	sqlStr, args, err := builder.BuildDelete("cache_records", map[string]interface{}{"alias": alias})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *CacheRecordRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.CacheRecord, error) {
	sqlStr, args, err := builder.BuildSelect("cache_records", where, cacheRecordFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rec, err := scanCacheRecord(r.db.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	return rec, err
}

func (r *CacheRecordRepo) list(ctx context.Context, where map[string]interface{}) ([]*model.CacheRecord, error) {
	sqlStr, args, err := builder.BuildSelect("cache_records", where, cacheRecordFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.CacheRecord
	for rows.Next() {
		rec, err := scanCacheRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCacheRecord(row rowScanner) (*model.CacheRecord, error) {
	var rec model.CacheRecord
	var ctime, expire int64
	if err := row.Scan(&rec.Alias, &rec.Name, &rec.Provider, &rec.Model, &rec.Source, &rec.SystemInstruction,
		&rec.TokenCount, &rec.TTLSeconds, &ctime, &expire); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMilli(ctime)
	rec.ExpiresAt = fromMilli(expire)
	return &rec, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
