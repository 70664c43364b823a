package runstore

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
)

const (
	runsTable    = "runs"
	apiKeysTable = "api_keys"

	idIndex      = "id"       // server id
	runIdIndex   = "run_id"   // client run id, shared across users
	traceIdIndex = "trace_id" // runs without a trace id are not indexed
)

type apiKeyRecord struct {
	Key    string
	UserId int64
}

// MemDbStore keeps runs and API keys in an in-memory go-memdb database.
// It implements RunStore and UserLookup, and answers the same reads as the SQL repository.
// Stored objects are never modified in place; every write inserts a fresh copy.
type MemDbStore struct {
	db     *memdb.MemDB
	lastId int64
}

func NewMemDbStore() (*MemDbStore, error) {
	db, err := memdb.NewMemDB(memDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemDbStore{db: db}, nil
}

// AddApiKey registers key as belonging to userId.
func (s *MemDbStore) AddApiKey(key string, userId int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(apiKeysTable, &apiKeyRecord{Key: strings.ToLower(key), UserId: userId}); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (s *MemDbStore) UserIdForApiKey(_ context.Context, key string) (int64, error) {
	if _, err := uuid.Parse(key); err != nil {
		return 0, errors.WithStack(&runerrors.ErrUnauthenticated{
			Key:     runerrors.MaskKey(key),
			Message: "api key is not a valid uuid",
		})
	}
	txn := s.db.Txn(false)
	obj, err := txn.First(apiKeysTable, idIndex, strings.ToLower(key))
	if err != nil {
		return 0, runerrors.NewStorageError("select api key", err)
	}
	if obj == nil {
		return 0, errors.WithStack(&runerrors.ErrUnauthenticated{Key: runerrors.MaskKey(key)})
	}
	return obj.(*apiKeyRecord).UserId, nil
}

func (s *MemDbStore) CreateRun(_ context.Context, run *model.Run) (*model.Run, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := s.runsByRunId(txn, run.RunId)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.UserId == run.UserId {
			return nil, errors.WithStack(&runerrors.ErrAlreadyExists{Type: "run", Value: run.RunId})
		}
	}

	created := run.DeepCopy()
	created.Id = atomic.AddInt64(&s.lastId, 1)
	if err := txn.Insert(runsTable, created); err != nil {
		return nil, runerrors.NewStorageError("insert run", err)
	}
	txn.Commit()
	return created.DeepCopy(), nil
}

func (s *MemDbStore) GetRun(_ context.Context, userId int64, runId string) (*model.Run, error) {
	runs, err := s.runsByRunId(s.db.Txn(false), runId)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.UserId == userId {
			return run.DeepCopy(), nil
		}
	}
	return nil, errors.WithStack(&runerrors.ErrNotFound{Type: "run", Value: runId})
}

// GetRunByRunId returns the oldest run with the given client id.
func (s *MemDbStore) GetRunByRunId(_ context.Context, runId string) (*model.Run, error) {
	runs, err := s.runsByRunId(s.db.Txn(false), runId)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.WithStack(&runerrors.ErrNotFound{Type: "run", Value: runId})
	}
	return runs[0].DeepCopy(), nil
}

func (s *MemDbStore) ReplaceRun(_ context.Context, run *model.Run) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	obj, err := txn.First(runsTable, idIndex, run.Id)
	if err != nil {
		return runerrors.NewStorageError("select run", err)
	}
	if obj == nil {
		return errors.WithStack(&runerrors.ErrNotFound{Type: "run", Value: run.RunId})
	}
	if err := txn.Insert(runsTable, run.DeepCopy()); err != nil {
		return runerrors.NewStorageError("update run", err)
	}
	txn.Commit()
	return nil
}

// ListRuns returns one page of root runs matching query, newest start time first.
// query.From and query.To must already be resolved.
func (s *MemDbStore) ListRuns(_ context.Context, query *model.RunsQuery) (*model.RunsPage, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(runsTable, idIndex)
	if err != nil {
		return nil, runerrors.NewStorageError("select runs", err)
	}

	var total int64
	matched := []*model.Run{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		run := obj.(*model.Run)
		if !matchesFilters(run, query) {
			continue
		}
		total++
		if query.StartId > 0 {
			if query.IsGetNewest && run.Id <= query.StartId {
				continue
			}
			if !query.IsGetNewest && run.Id >= query.StartId {
				continue
			}
		}
		matched = append(matched, run)
	}

	sort.Slice(matched, func(i, j int) bool {
		ti, tj := *matched[i].StartTime, *matched[j].StartTime
		if ti.Equal(tj) {
			return matched[i].Id > matched[j].Id
		}
		return ti.After(tj)
	})
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	page := &model.RunsPage{Runs: make([]*model.Run, len(matched)), TotalRowCount: total}
	for i, run := range matched {
		page.Runs[i] = publicCopy(run)
	}
	return page, nil
}

// GetRunsByTraceId returns every run in the trace, earliest start time first.
func (s *MemDbStore) GetRunsByTraceId(_ context.Context, traceId string) ([]*model.Run, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(runsTable, traceIdIndex, traceId)
	if err != nil {
		return nil, runerrors.NewStorageError("select runs", err)
	}
	runs := []*model.Run{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		runs = append(runs, publicCopy(obj.(*model.Run)))
	}
	sort.SliceStable(runs, func(i, j int) bool {
		// Runs without a start time sort last, as NULLs do in an ascending postgres sort.
		si, sj := runs[i].StartTime, runs[j].StartTime
		if si == nil || sj == nil {
			return si != nil && sj == nil
		}
		if si.Equal(*sj) {
			return runs[i].Id < runs[j].Id
		}
		return si.Before(*sj)
	})
	return runs, nil
}

func (s *MemDbStore) runsByRunId(txn *memdb.Txn, runId string) ([]*model.Run, error) {
	it, err := txn.Get(runsTable, runIdIndex, runId)
	if err != nil {
		return nil, runerrors.NewStorageError("select run", err)
	}
	runs := []*model.Run{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		runs = append(runs, obj.(*model.Run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Id < runs[j].Id })
	return runs, nil
}

func matchesFilters(run *model.Run, q *model.RunsQuery) bool {
	if run.ParentRunId != nil {
		return false
	}
	if run.StartTime == nil || !run.StartTime.After(q.From) {
		return false
	}
	if q.To != nil && run.StartTime.After(*q.To) {
		return false
	}
	if q.SessionName != "" && (run.SessionName == nil || *run.SessionName != q.SessionName) {
		return false
	}
	if q.SessionNameFilter != "" &&
		(run.SessionName == nil || !strings.Contains(strings.ToLower(*run.SessionName), strings.ToLower(q.SessionNameFilter))) {
		return false
	}
	switch q.Status {
	case model.StatusError:
		if !run.Failed() {
			return false
		}
	case model.StatusSuccess:
		if run.Failed() {
			return false
		}
	}
	if q.InputsFilter != "" && !run.Inputs.ContainsFold(q.InputsFilter) {
		return false
	}
	if q.OutputsFilter != "" && !run.Outputs.ContainsFold(q.OutputsFilter) {
		return false
	}
	return true
}

// publicCopy returns a copy without the owner columns, matching what the SQL repository selects.
func publicCopy(run *model.Run) *model.Run {
	out := run.DeepCopy()
	out.ApiKey = ""
	out.UserId = 0
	return out
}

func memDbSchema() *memdb.DBSchema {
	runIndexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.IntFieldIndex{Field: "Id"},
		},
		runIdIndex: {
			Name:    runIdIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "RunId"},
		},
		traceIdIndex: {
			Name:         traceIdIndex,
			Unique:       false,
			AllowMissing: true,
			Indexer:      &memdb.StringFieldIndex{Field: "TraceId"},
		},
	}
	apiKeyIndexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "Key"},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			runsTable:    {Name: runsTable, Indexes: runIndexes},
			apiKeysTable: {Name: apiKeysTable, Indexes: apiKeyIndexes},
		},
	}
}
