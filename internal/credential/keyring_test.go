package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewProvider(keyring.NewArrayKeyring(nil))

	_, err := p.Get("t1", "gmail")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Set("t1", "Gmail", Credential{Username: "sam@example.com", Password: "app-pass"}))
	c, err := p.Get("t1", "gmail")
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", c.Username)
	assert.Equal(t, "app-pass", c.Password)

	_, err = p.Get("t2", "gmail")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Delete("t1", "gmail"))
	_, err = p.Get("t1", "gmail")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetRejectsIncomplete(t *testing.T) {
	t.Parallel()

	p := NewProvider(keyring.NewArrayKeyring(nil))
	assert.Error(t, p.Set("t1", "gmail", Credential{Username: "x"}))
}

func TestOpenFileBackend(t *testing.T) {
	t.Parallel()

	p, err := Open(Config{Backend: "file", FileDir: t.TempDir(), FilePassword: "secret"})
	require.NoError(t, err)
	require.NoError(t, p.Set("t1", "gmail", Credential{Username: "u", Password: "p"}))
	c, err := p.Get("t1", "gmail")
	require.NoError(t, err)
	assert.Equal(t, "u", c.Username)
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key(" abc ", "GMail"); got != "abc/gmail" {
		t.Fatalf("Key = %q, want %q", got, "abc/gmail")
	}
}
