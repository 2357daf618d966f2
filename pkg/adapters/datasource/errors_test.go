package datasource

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ErrorKindNone},
		{context.DeadlineExceeded, ErrorKindTimeout},
		{fmt.Errorf("exec: %w", context.DeadlineExceeded), ErrorKindTimeout},
		{errors.New("ERROR: canceling statement due to statement timeout"), ErrorKindTimeout},
		{errors.New("Query execution was interrupted, maximum statement execution time exceeded"), ErrorKindTimeout},
		{errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), ErrorKindConnection},
		{errors.New("driver: bad connection"), ErrorKindConnection},
		{errors.New("permission denied for table users"), ErrorKindPermission},
		{errors.New("Access denied for user 'app'"), ErrorKindPermission},
		{errors.New(`syntax error at or near "SELEC"`), ErrorKindSyntax},
		{errors.New("no such table: users"), ErrorKindSyntax},
		{errors.New(`relation "users" does not exist`), ErrorKindSyntax},
		{errors.New("division by zero"), ErrorKindUnknown},
		{NewAdapterError(ErrorKindPermission, errors.New("nope")), ErrorKindPermission},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.err))
		})
	}
}

func TestAdapterError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("run: %w", NewAdapterError(ErrorKindConnection, errors.New("reset")))

	assert.ErrorIs(t, err, ErrAdapterConnection)
	assert.NotErrorIs(t, err, ErrAdapterTimeout)
	assert.Equal(t, "run: reset", err.Error())
}
