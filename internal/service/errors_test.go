package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubvertError_Error(t *testing.T) {
	cause := errors.New("exit status 1")
	err := WrapError(cause, ErrExtraction, "extraction failed").
		WithContext("track", "#2(eng)").
		WithContext("path", "/media/a.mkv")

	assert.Equal(t,
		"[ExtractionFailure] extraction failed | context: path=/media/a.mkv, track=#2(eng) | cause: exit status 1",
		err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIsErrorType(t *testing.T) {
	err := WrapError(errors.New("x"), ErrPersist, "tag update failed")
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, IsErrorType(err, ErrPersist))
	assert.True(t, IsErrorType(wrapped, ErrPersist))
	assert.False(t, IsErrorType(err, ErrProbe))
	assert.False(t, IsErrorType(errors.New("plain"), ErrPersist))
	assert.False(t, IsErrorType(nil, ErrPersist))
}

func TestSafeExecute(t *testing.T) {
	err := SafeExecute(func() error { panic("nil map") })
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrUnknown))
	assert.Contains(t, err.Error(), "nil map")

	want := errors.New("plain")
	assert.Equal(t, want, SafeExecute(func() error { return want }))
	assert.NoError(t, SafeExecute(func() error { return nil }))
}

func TestDefaultErrorHandler(t *testing.T) {
	h := NewDefaultErrorHandler()
	assert.True(t, h.Handle(NewError(ErrConfig, "bad cron")))
	assert.False(t, h.Handle(errors.New("plain")))

	for _, typ := range []ErrorType{ErrNotApplicable, ErrResolution, ErrProbe, ErrExtraction, ErrPersist, ErrPageFetch, ErrConfig, ErrUnknown} {
		assert.NotEmpty(t, h.GetAdvice(NewError(typ, "x")), typ.String())
	}
}
