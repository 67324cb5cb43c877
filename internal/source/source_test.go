package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	err := &AuthError{Account: "work", Message: "bad password"}
	assert.Equal(t, "auth error (work): bad password", err.Error())

	assert.True(t, IsAuthError(err))
	assert.True(t, IsAuthError(fmt.Errorf("sorting INBOX: %w", err)))
	assert.False(t, IsAuthError(errors.New("timeout")))
	assert.False(t, IsAuthError(nil))
}
