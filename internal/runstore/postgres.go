package runstore

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
)

// PostgresRunStore writes runs to the runs table.
// Uniqueness of (user_id, run_id) is enforced by the table's unique constraint.
type PostgresRunStore struct {
	db *pgxpool.Pool
}

func NewPostgresRunStore(db *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

const insertRunSql = `
INSERT INTO runs (
	run_id, name, run_type, start_time, end_time, extra, serialized, events, tags, error,
	reference_example_id, parent_run_id, trace_id, dotted_order, inputs, outputs, session_name,
	api_key, user_id, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING id`

const replaceRunSql = `
UPDATE runs SET
	run_id = $2, name = $3, run_type = $4, start_time = $5, end_time = $6, extra = $7,
	serialized = $8, events = $9, tags = $10, error = $11, reference_example_id = $12,
	parent_run_id = $13, trace_id = $14, dotted_order = $15, inputs = $16, outputs = $17,
	session_name = $18, api_key = $19, user_id = $20, created_at = $21, updated_at = $22
WHERE id = $1`

func (s *PostgresRunStore) CreateRun(ctx context.Context, run *model.Run) (*model.Run, error) {
	args, err := runArgs(run)
	if err != nil {
		return nil, err
	}
	created := run.DeepCopy()
	err = s.db.QueryRow(ctx, insertRunSql, args...).Scan(&created.Id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, errors.WithStack(&runerrors.ErrAlreadyExists{
				Type:  "run",
				Value: run.RunId,
			})
		}
		return nil, runerrors.NewStorageError("insert run", err)
	}
	return created, nil
}

func (s *PostgresRunStore) GetRun(ctx context.Context, userId int64, runId string) (*model.Run, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+selectRunColumns+", api_key::text, user_id FROM runs WHERE user_id = $1 AND run_id = $2",
		userId, runId)
	return selectedRun(row, runId)
}

func (s *PostgresRunStore) GetRunByRunId(ctx context.Context, runId string) (*model.Run, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+selectRunColumns+", api_key::text, user_id FROM runs WHERE run_id = $1 ORDER BY id LIMIT 1",
		runId)
	return selectedRun(row, runId)
}

func selectedRun(row pgx.Row, runId string) (*model.Run, error) {
	run, err := scanRunWithOwner(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.WithStack(&runerrors.ErrNotFound{Type: "run", Value: runId})
	}
	if err != nil {
		return nil, runerrors.NewStorageError("select run", err)
	}
	return run, nil
}

func (s *PostgresRunStore) ReplaceRun(ctx context.Context, run *model.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, replaceRunSql, append([]interface{}{run.Id}, args...)...)
	if err != nil {
		return runerrors.NewStorageError("update run", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.WithStack(&runerrors.ErrNotFound{Type: "run", Value: run.RunId})
	}
	return nil
}

// scanRunWithOwner reads RunColumns followed by api_key and user_id.
func scanRunWithOwner(row pgx.Row) (*model.Run, error) {
	var (
		apiKey *string
		userId int64
	)
	run, err := ScanRun(scannerFunc(func(dest ...interface{}) error {
		return row.Scan(append(dest, &apiKey, &userId)...)
	}))
	if err != nil {
		return nil, err
	}
	if apiKey != nil {
		run.ApiKey = *apiKey
	}
	run.UserId = userId
	return run, nil
}

type scannerFunc func(dest ...interface{}) error

func (f scannerFunc) Scan(dest ...interface{}) error {
	return f(dest...)
}

// runArgs returns the insert parameters, run_id through updated_at.
func runArgs(run *model.Run) ([]interface{}, error) {
	jsonArgs := make([]interface{}, 6)
	for i, v := range []interface{}{run.Extra, run.Serialized, run.Events, run.Tags, run.Inputs, run.Outputs} {
		p, err := jsonParam(v)
		if err != nil {
			return nil, err
		}
		jsonArgs[i] = p
	}
	var apiKey interface{}
	if run.ApiKey != "" {
		apiKey = run.ApiKey
	}
	return []interface{}{
		run.RunId,
		model.StringPtr(run.Name),
		run.RunType,
		run.StartTime,
		run.EndTime,
		jsonArgs[0],
		jsonArgs[1],
		jsonArgs[2],
		jsonArgs[3],
		run.Error,
		run.ReferenceExampleId,
		run.ParentRunId,
		run.TraceId,
		run.DottedOrder,
		jsonArgs[4],
		jsonArgs[5],
		run.SessionName,
		apiKey,
		run.UserId,
		run.CreatedAt,
		run.UpdatedAt,
	}, nil
}
