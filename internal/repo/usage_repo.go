package repo

import (
	"context"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/dbutil"
	"github.com/xxxsen/ctxcache/internal/pkg/idutil"
)

type UsageRepo struct {
	db *sqlx.DB
}

func NewUsageRepo(db *sqlx.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

func (r *UsageRepo) Log(ctx context.Context, rec *model.UsageRecord) error {
	ctime := rec.Ctime
	if ctime == 0 {
		ctime = time.Now().Unix()
	}
	data := map[string]interface{}{
		"id":            idutil.NewID(),
		"alias":         rec.Alias,
		"operation":     rec.Operation,
		"model":         rec.Model,
		"tier":          rec.Tier,
		"tokens":        rec.Tokens,
		"cached_tokens": rec.CachedTokens,
		"ctime":         ctime,
	}
	sqlStr, args, err := builder.BuildInsert("usage_logs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Summary aggregates usage per alias; an empty alias summarises every alias.
func (r *UsageRepo) Summary(ctx context.Context, alias string, since int64) ([]model.UsageSummary, error) {
	where := map[string]interface{}{
		"ctime >=": since,
		"_groupby": "alias",
		"_orderby": "alias asc",
	}
	if alias != "" {
		where["alias"] = alias
	}
	sqlStr, args, err := builder.BuildSelect("usage_logs", where, []string{
		"alias", "COUNT(1)", "COALESCE(SUM(tokens), 0)", "COALESCE(SUM(cached_tokens), 0)",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UsageSummary
	for rows.Next() {
		var item model.UsageSummary
		if err := rows.Scan(&item.Alias, &item.Requests, &item.Tokens, &item.CachedTokens); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *UsageRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("usage_logs", map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(r.db, sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
