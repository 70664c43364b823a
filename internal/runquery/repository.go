// Package runquery serves the read side: filtered, paginated run listings and trace trees.
package runquery

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
	"github.com/armadaproject/tracelens/internal/runstore"
)

type RunRepository interface {
	// ListRuns returns one page of root runs. query.From and query.To must be resolved.
	ListRuns(ctx context.Context, query *model.RunsQuery) (*model.RunsPage, error)
	// GetRunsByTraceId returns every run in the trace, earliest start time first.
	GetRunsByTraceId(ctx context.Context, traceId string) ([]*model.Run, error)
}

// SqlRunRepository reads runs from postgres through database/sql.
type SqlRunRepository struct {
	db      *sql.DB
	builder *QueryBuilder
}

func NewSqlRunRepository(db *sql.DB) *SqlRunRepository {
	return &SqlRunRepository{db: db, builder: NewQueryBuilder()}
}

func (r *SqlRunRepository) ListRuns(ctx context.Context, query *model.RunsQuery) (*model.RunsPage, error) {
	listQuery, err := r.builder.ListRuns(query)
	if err != nil {
		return nil, err
	}
	countQuery, err := r.builder.CountRuns(query)
	if err != nil {
		return nil, err
	}

	runs, err := r.queryRuns(ctx, listQuery)
	if err != nil {
		return nil, err
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery.Sql, countQuery.Args...).Scan(&total); err != nil {
		return nil, runerrors.NewStorageError("count runs", err)
	}
	return &model.RunsPage{Runs: runs, TotalRowCount: total}, nil
}

func (r *SqlRunRepository) GetRunsByTraceId(ctx context.Context, traceId string) ([]*model.Run, error) {
	query, err := r.builder.RunsByTraceId(traceId)
	if err != nil {
		return nil, err
	}
	return r.queryRuns(ctx, query)
}

func (r *SqlRunRepository) queryRuns(ctx context.Context, query *Query) ([]*model.Run, error) {
	rows, err := r.db.QueryContext(ctx, query.Sql, query.Args...)
	if err != nil {
		return nil, runerrors.NewStorageError("select runs", err)
	}
	defer rows.Close()

	runs := []*model.Run{}
	for rows.Next() {
		run, err := runstore.ScanRun(rows)
		if err != nil {
			return nil, runerrors.NewStorageError("scan run", errors.WithStack(err))
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, runerrors.NewStorageError("select runs", err)
	}
	return runs, nil
}
