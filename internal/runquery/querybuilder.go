package runquery

import (
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/model"
	"github.com/armadaproject/tracelens/internal/runstore"
)

var (
	runsTable = goqu.T("runs")

	col_id                = goqu.C("id")
	col_startTime         = goqu.C("start_time")
	col_sessionName       = goqu.C("session_name")
	col_error             = goqu.C("error")
	col_inputs            = goqu.C("inputs")
	col_outputs           = goqu.C("outputs")
	col_parentRunId       = goqu.C("parent_run_id")
	col_traceId           = goqu.C("trace_id")
	selectedColumns       = columns(runstore.RunColumns)
	likeSpecialCharacters = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// Query is a parameterised SQL statement.
type Query struct {
	Sql  string
	Args []interface{}
}

// QueryBuilder renders run queries for postgres.
type QueryBuilder struct {
	dialect goqu.DialectWrapper
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{dialect: goqu.Dialect("postgres")}
}

// ListRuns selects one page of root runs, newest start time first.
func (b *QueryBuilder) ListRuns(q *model.RunsQuery) (*Query, error) {
	where := filters(q)
	if q.StartId > 0 {
		if q.IsGetNewest {
			where = append(where, col_id.Gt(q.StartId))
		} else {
			where = append(where, col_id.Lt(q.StartId))
		}
	}
	ds := b.dialect.
		From(runsTable).
		Select(selectedColumns...).
		Where(where...).
		Order(col_startTime.Desc(), col_id.Desc())
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return toQuery(ds)
}

// CountRuns counts the runs matching the same filters as ListRuns, ignoring the cursor and limit.
func (b *QueryBuilder) CountRuns(q *model.RunsQuery) (*Query, error) {
	ds := b.dialect.
		From(runsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(filters(q)...)
	return toQuery(ds)
}

// RunsByTraceId selects every run in a trace, earliest start time first.
func (b *QueryBuilder) RunsByTraceId(traceId string) (*Query, error) {
	ds := b.dialect.
		From(runsTable).
		Select(selectedColumns...).
		Where(col_traceId.Eq(traceId)).
		Order(col_startTime.Asc(), col_id.Asc())
	return toQuery(ds)
}

func filters(q *model.RunsQuery) []exp.Expression {
	where := []exp.Expression{
		col_parentRunId.IsNull(),
		col_startTime.Gt(q.From),
	}
	if q.To != nil {
		where = append(where, col_startTime.Lte(*q.To))
	}
	if q.SessionName != "" {
		where = append(where, col_sessionName.Eq(q.SessionName))
	}
	if q.SessionNameFilter != "" {
		where = append(where, col_sessionName.ILike(containsPattern(q.SessionNameFilter)))
	}
	switch q.Status {
	case model.StatusError:
		where = append(where, col_error.IsNotNull())
	case model.StatusSuccess:
		where = append(where, col_error.IsNull())
	}
	if q.InputsFilter != "" {
		where = append(where, goqu.Cast(col_inputs, "TEXT").ILike(containsPattern(q.InputsFilter)))
	}
	if q.OutputsFilter != "" {
		where = append(where, goqu.Cast(col_outputs, "TEXT").ILike(containsPattern(q.OutputsFilter)))
	}
	return where
}

// containsPattern matches s anywhere. LIKE wildcards in s are matched literally.
func containsPattern(s string) string {
	return "%" + likeSpecialCharacters.Replace(s) + "%"
}

func columns(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, name := range names {
		out[i] = goqu.C(name)
	}
	return out
}

func toQuery(ds *goqu.SelectDataset) (*Query, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Query{Sql: sql, Args: args}, nil
}
