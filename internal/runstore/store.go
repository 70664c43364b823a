// Package runstore persists run records.
//
// PostgresRunStore is the production store. MemDbStore keeps everything in memory and also
// serves reads, which makes it usable for development and for pipeline tests.
package runstore

import (
	"context"

	"github.com/armadaproject/tracelens/internal/model"
)

// RunStore is the write side used by the merge worker.
type RunStore interface {
	// CreateRun inserts run and returns it with its server id set. A run with the same
	// (UserId, RunId) pair yields *runerrors.ErrAlreadyExists.
	CreateRun(ctx context.Context, run *model.Run) (*model.Run, error)
	// GetRun returns the run userId owns under the client run id, or *runerrors.ErrNotFound.
	GetRun(ctx context.Context, userId int64, runId string) (*model.Run, error)
	// GetRunByRunId returns the oldest run with the client run id, whoever owns it, or
	// *runerrors.ErrNotFound. Used for updates whose owner cannot be resolved.
	GetRunByRunId(ctx context.Context, runId string) (*model.Run, error)
	// ReplaceRun overwrites every column of the row with server id run.Id.
	ReplaceRun(ctx context.Context, run *model.Run) error
}

// UserLookup resolves an API key to the id of the user owning it.
type UserLookup interface {
	// UserIdForApiKey returns *runerrors.ErrUnauthenticated if the key is unknown or revoked.
	UserIdForApiKey(ctx context.Context, key string) (int64, error)
}
