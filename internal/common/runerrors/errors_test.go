package runerrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"ErrUnauthenticated":              {&ErrUnauthenticated{}, "auth"},
		"ErrAlreadyExists":                {&ErrAlreadyExists{}, "duplicate"},
		"ErrNotFound":                     {&ErrNotFound{}, "not_found"},
		"ErrInvalidArgument":              {&ErrInvalidArgument{}, "validation"},
		"ErrStorage":                      {&ErrStorage{Cause: errors.New("conn reset")}, "storage"},
		"pkg.Error => ErrNotFound":        {errors.WithMessage(&ErrNotFound{}, "foo"), "not_found"},
		"pkg.Error => ErrUnauthenticated": {errors.WithStack(&ErrUnauthenticated{}), "auth"},
		"pkg.Error":                       {errors.New("foo"), "unknown"},
		"nil":                             {nil, "none"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Kind(tc.err))
		})
	}
}

func TestNewStorageError(t *testing.T) {
	assert.NoError(t, NewStorageError("insert run", nil))

	cause := errors.New("connection refused")
	err := NewStorageError("insert run", cause)
	assert.True(t, IsStorage(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "insert run")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `resource "r1" of type "run" does not exist`, (&ErrNotFound{Type: "run", Value: "r1"}).Error())
	assert.Equal(t, `resource "r1" already exists; for user 7`, (&ErrAlreadyExists{Value: "r1", Message: "for user 7"}).Error())
	assert.Equal(t, `value "x" is invalid for field "start_time"`, (&ErrInvalidArgument{Name: "start_time", Value: "x"}).Error())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", MaskKey("abc"))
	assert.Equal(t, "****eb55", MaskKey("cf4ac184-44c8-438e-93d8-9b61f147eb55"))
}
