package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	require.Equal(t, CodeValidation, CodeOf(NewValidation("bad request")))
	require.Equal(t, CodeNotFound, CodeOf(NewNotFound("command", "apr-404")))
	require.Equal(t, CodeConflict, CodeOf(NewConflict("apr-1", StateApproved)))
	require.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	require.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestInvalidTransitionCarriesState(t *testing.T) {
	err := NewInvalidTransition("approve", StateExecuted)

	require.True(t, IsCode(err, CodeInvalidTransition))
	require.Equal(t, StateExecuted, err.CurrentState)
	require.Contains(t, err.Error(), "EXECUTED")
}

func TestExecutionFailureUnwraps(t *testing.T) {
	cause := errors.New("adapter: connection refused")
	err := NewExecutionFailure(cause)

	require.True(t, IsCode(err, CodeExecutionFailure))
	require.ErrorIs(t, err, cause)
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := NewNotFound("command", "apr-9")
	wrapped := fmt.Errorf("registry: %w", inner)

	require.Equal(t, CodeNotFound, CodeOf(wrapped))
	require.True(t, IsCode(wrapped, CodeNotFound))
}
