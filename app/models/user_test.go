package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	user, err := CreateUser("Ada Lovelace", "ada@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Equal(t, ROLE_USER, user.Role)
	assert.Equal(t, STATUS_ACTIVE, user.Status)
	assert.NotEqual(t, "s3cret-pass", user.Password)
	assert.True(t, CheckPasswordHash("s3cret-pass", user.Password))
	assert.False(t, CheckPasswordHash("wrong-pass", user.Password))
}

func TestCreateUserValidation(t *testing.T) {
	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short name", "ab", "ada@example.com", "s3cret-pass"},
		{"bad email", "Ada Lovelace", "not-an-email", "s3cret-pass"},
		{"short password", "Ada Lovelace", "ada@example.com", "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateUser(tc.username, tc.email, tc.password)
			assert.Error(t, err)
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	hash := HashAPIKey("rk_live_abc123")
	assert.Len(t, hash, 64)
	assert.Equal(t, strings.ToLower(hash), hash)
	assert.Equal(t, hash, HashAPIKey("rk_live_abc123"))
	assert.NotEqual(t, hash, HashAPIKey("rk_live_abc124"))
}
