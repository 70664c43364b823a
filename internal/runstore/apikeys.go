package runstore

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
)

type PostgresUserLookup struct {
	db *pgxpool.Pool
}

func NewPostgresUserLookup(db *pgxpool.Pool) *PostgresUserLookup {
	return &PostgresUserLookup{db: db}
}

func (l *PostgresUserLookup) UserIdForApiKey(ctx context.Context, key string) (int64, error) {
	var userId int64
	err := l.db.QueryRow(ctx,
		"SELECT user_id FROM api_keys WHERE key = $1 AND deleted_at IS NULL",
		key).Scan(&userId)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.WithStack(&runerrors.ErrUnauthenticated{Key: runerrors.MaskKey(key)})
	}
	if err != nil {
		return 0, runerrors.NewStorageError("select api key", err)
	}
	return userId, nil
}

// CachedUserLookup remembers successful lookups in an LRU cache.
// Unknown keys are not cached, so that a key issued after a failed lookup starts working immediately.
// Revoking a key takes effect once it has been evicted or the process restarts.
type CachedUserLookup struct {
	delegate UserLookup
	cache    *lru.Cache
}

func NewCachedUserLookup(delegate UserLookup, size int) (*CachedUserLookup, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CachedUserLookup{delegate: delegate, cache: cache}, nil
}

func (l *CachedUserLookup) UserIdForApiKey(ctx context.Context, key string) (int64, error) {
	// Keys are uuids; anything else cannot exist and would only produce a cast error in postgres.
	if _, err := uuid.Parse(key); err != nil {
		return 0, errors.WithStack(&runerrors.ErrUnauthenticated{
			Key:     runerrors.MaskKey(key),
			Message: "api key is not a valid uuid",
		})
	}
	if userId, ok := l.cache.Get(key); ok {
		return userId.(int64), nil
	}
	userId, err := l.delegate.UserIdForApiKey(ctx, key)
	if err != nil {
		return 0, err
	}
	l.cache.Add(key, userId)
	return userId, nil
}
