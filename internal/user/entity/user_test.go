package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicHidesCredentials(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	u := &User{ID: 7, Email: "a@x.com", Name: "A", PasswordHash: "$2a$10$abc", TwoFactorSecret: &secret}

	p := u.Public()
	assert.Equal(t, PublicUser{ID: 7, Email: "a@x.com", Name: "A", Roles: []string{}}, p)

	raw, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "$2a$10$abc")
	assert.NotContains(t, string(raw), secret)
}

func TestHasAnyRole(t *testing.T) {
	held := []string{"SOLICITANTE", "COORDENADOR"}
	assert.True(t, HasAnyRole(held, []string{"ADMIN", "COORDENADOR"}))
	assert.False(t, HasAnyRole(held, []string{"ADMIN"}))
	assert.False(t, HasAnyRole(nil, []string{"ADMIN"}))
}

func TestHasTwoFactorSecret(t *testing.T) {
	empty := ""
	assert.False(t, (&User{}).HasTwoFactorSecret())
	assert.False(t, (&User{TwoFactorSecret: &empty}).HasTwoFactorSecret())
	s := "ABC"
	assert.True(t, (&User{TwoFactorSecret: &s}).HasTwoFactorSecret())
}
