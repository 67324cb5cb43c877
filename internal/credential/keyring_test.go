package credential_test

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/credential"
)

func TestKeyring(t *testing.T) {
	k := credential.NewKeyring(keyring.NewArrayKeyring(nil))

	_, err := k.Password("work")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	require.NoError(t, k.SetPassword("work", "s3cret"))
	got, err := k.Password("work")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = k.Password("home")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	require.NoError(t, k.DeletePassword("work"))
	require.NoError(t, k.DeletePassword("work"))
	_, err = k.Password("work")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "imap-work", credential.Key("work"))
}
