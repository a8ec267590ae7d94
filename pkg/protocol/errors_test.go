package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	original := fmt.Errorf("dial tcp: refused")
	err := Wrap(KindSandboxError, "box-a", original)

	assert.True(t, errors.Is(err, NewError(KindSandboxError, "")))
	assert.False(t, errors.Is(err, NewError(KindTimeout, "")))
	assert.ErrorIs(t, err, original)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknownBox, KindOf(NewError(KindUnknownBox, "ghost")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain error")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", Kind(999).String())
}
