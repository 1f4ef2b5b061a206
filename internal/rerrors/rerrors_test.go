package rerrors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTransport, "busclient.Create", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "[transport] busclient.Create boom", err.Error())
}

func TestKindRetryable(t *testing.T) {
	require.True(t, KindConflict.Retryable())
	require.True(t, KindTransport.Retryable())
	require.True(t, KindTimeout.Retryable())
	require.True(t, KindLLMTimeout.Retryable())
	require.False(t, KindValidation.Retryable())
	require.False(t, KindFatal.Retryable())
}

func TestClassifyFromMessage(t *testing.T) {
	require.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	require.Equal(t, KindConflict, Classify(errors.New("409 version conflict")))
	require.Equal(t, KindNotFound, Classify(errors.New("breadcrumb not found")))
	require.Equal(t, KindAuth, Classify(errors.New("401 unauthorized")))
	require.Equal(t, KindValidation, Classify(errors.New("invalid selector")))
	require.Equal(t, KindExecutorFault, Classify(errors.New("divide by zero")))
}

func TestKindOfPrefersStructuredError(t *testing.T) {
	wrapped := New(KindLLMParse, "agent.parseReply", errors.New("unexpected token"))
	require.Equal(t, KindLLMParse, KindOf(wrapped))
	require.Equal(t, KindTransport, KindOf(errors.New("connection refused")))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(New(KindConflict, "op", errors.New("x"))))
	require.False(t, IsRetryable(New(KindValidation, "op", errors.New("x"))))
}
