package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("add message: %w", NotFound("chat %d not found", 7))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "add message: chat 7 not found", err.Error())
}

func TestCauseIsReachable(t *testing.T) {
	err := Storage(io.ErrUnexpectedEOF, "insert chat")

	assert.True(t, IsStorage(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "insert chat: unexpected EOF", err.Error())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "preset name is required", UserMessage(Validation("preset name is required")))
	assert.Equal(t, "chat 3 is already streaming", UserMessage(fmt.Errorf("send: %w", Busy("chat 3 is already streaming"))))
	assert.Equal(t, GenericNotice, UserMessage(Remote(io.EOF, "stream")))
	assert.Equal(t, GenericNotice, UserMessage(errors.New("boom")))
	assert.Empty(t, UserMessage(nil))
}
