package runstore

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
)

type countingLookup struct {
	users map[string]int64
	calls int
}

func (l *countingLookup) UserIdForApiKey(_ context.Context, key string) (int64, error) {
	l.calls++
	userId, ok := l.users[key]
	if !ok {
		return 0, errors.WithStack(&runerrors.ErrUnauthenticated{Key: runerrors.MaskKey(key)})
	}
	return userId, nil
}

func TestCachedUserLookup(t *testing.T) {
	ctx := context.Background()
	delegate := &countingLookup{users: map[string]int64{testApiKey: 7}}
	lookup, err := NewCachedUserLookup(delegate, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		userId, err := lookup.UserIdForApiKey(ctx, testApiKey)
		require.NoError(t, err)
		assert.Equal(t, int64(7), userId)
	}
	assert.Equal(t, 1, delegate.calls)

	unknown := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	_, err = lookup.UserIdForApiKey(ctx, unknown)
	assert.True(t, runerrors.IsAuth(err))
	assert.Equal(t, 2, delegate.calls)

	// failures are not cached
	delegate.users[unknown] = 8
	userId, err := lookup.UserIdForApiKey(ctx, unknown)
	require.NoError(t, err)
	assert.Equal(t, int64(8), userId)
	assert.Equal(t, 3, delegate.calls)
}

func TestCachedUserLookup_RejectsMalformedKeys(t *testing.T) {
	delegate := &countingLookup{}
	lookup, err := NewCachedUserLookup(delegate, 10)
	require.NoError(t, err)

	_, err = lookup.UserIdForApiKey(context.Background(), "K")
	assert.True(t, runerrors.IsAuth(err))
	assert.Equal(t, 0, delegate.calls)
}

func TestNewCachedUserLookup_InvalidSize(t *testing.T) {
	_, err := NewCachedUserLookup(&countingLookup{}, 0)
	assert.Error(t, err)
}
