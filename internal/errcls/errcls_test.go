package errcls

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Tag(KindAuthFailed, cause)
	require.Error(t, err)
	assert.Equal(t, "auth_failed: boom", err.Error())
	assert.True(t, errors.Is(err, cause))

	var tagged *TaggedError
	require.True(t, errors.As(err, &tagged))
	assert.Equal(t, KindAuthFailed, tagged.Kind)
}

func TestTagNilIsNil(t *testing.T) {
	assert.Nil(t, Tag(KindAuthFailed, nil))
}

func TestTriggersFallback(t *testing.T) {
	assert.True(t, TriggersFallback(Tag(KindConnectTimeout, errors.New("x"))))
	assert.True(t, TriggersFallback(Tag(KindConnectRefused, errors.New("x"))))
	assert.False(t, TriggersFallback(Tag(KindAuthFailed, errors.New("x"))))
	assert.False(t, TriggersFallback(errors.New("plain")))
}

func TestIsBenign(t *testing.T) {
	assert.True(t, IsBenign(io.EOF))
	assert.True(t, IsBenign(context.Canceled))
	assert.True(t, IsBenign(errors.New("connection reset by peer")))
	assert.True(t, IsBenign(Tag(KindConnectTimeout, errors.New("dial timed out"))))
	assert.False(t, IsBenign(Tag(KindAuthFailed, errors.New("bad mac"))))
	assert.False(t, IsBenign(errors.New("something truly unexpected")))
	assert.False(t, IsBenign(nil))
}

func TestIsBenignAllFailedHeuristic(t *testing.T) {
	assert.True(t, IsBenign(errors.New("all candidates failed")))
}

func TestIsWarning(t *testing.T) {
	assert.True(t, IsWarning(errors.New("backpressure: buffer full")))
	assert.True(t, IsWarning(errors.New("max iterations exceeded")))
	assert.False(t, IsWarning(errors.New("bad mac")))
	assert.False(t, IsWarning(nil))
}

func TestIsNetClose(t *testing.T) {
	assert.True(t, IsNetClose(io.EOF))
	assert.True(t, IsNetClose(context.Canceled))
	assert.True(t, IsNetClose(errors.New("use of closed network connection")))
	assert.False(t, IsNetClose(errors.New("bad mac")))
	assert.False(t, IsNetClose(nil))
}
