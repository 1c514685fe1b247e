package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Store", "InsertFrames", "commit"))

	err := Wrap(ErrStorageFailed, "Store", "InsertFrames", "commit")
	assert.Equal(t, "Store.InsertFrames: commit failed: storage operation failed", err.Error())
	assert.ErrorIs(t, err, ErrStorageFailed)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"fatal wrapper", WrapFatal(fmt.Errorf("dlopen"), "Library", "Open", "load"), ErrorFatal},
		{"invalid wrapper", WrapInvalid(fmt.Errorf("short read"), "Decoder", "Decode", "read"), ErrorInvalid},
		{"transient wrapper", WrapTransient(fmt.Errorf("conn reset"), "Store", "Ping", "ping"), ErrorTransient},
		{"plain invalid", fmt.Errorf("bad: %w", ErrInvalidArgument), ErrorInvalid},
		{"plain fatal", fmt.Errorf("bad: %w", ErrMissingConfig), ErrorFatal},
		{"unknown", fmt.Errorf("boom"), ErrorTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := context.DeadlineExceeded
	err := WrapFatal(base, "Gateway", "Invoke", "acquire")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))

	var ce *ClassifiedError
	assert.True(t, As(err, &ce))
	assert.Equal(t, "Gateway", ce.Component)
	assert.Equal(t, "Invoke", ce.Operation)
	assert.Equal(t, "fatal", ce.Class.String())
}
