package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsableHonoursSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, false},
		{"static", Credential{AccessToken: "a"}, true},
		{"fresh", Credential{AccessToken: "a", ExpiresAt: now.Add(10 * time.Minute)}, true},
		{"inside skew", Credential{AccessToken: "a", ExpiresAt: now.Add(30 * time.Second)}, false},
		{"exactly at skew", Credential{AccessToken: "a", ExpiresAt: now.Add(DefaultSkew)}, false},
		{"expired", Credential{AccessToken: "a", ExpiresAt: now.Add(-time.Second)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cred.Usable(now, DefaultSkew))
		})
	}
}

func TestRotateKeepsRefreshTokenWhenNoneIssued(t *testing.T) {
	old := Credential{AccessToken: "a1", RefreshToken: "r1"}

	assert.Equal(t, "r2", old.Rotate(Credential{AccessToken: "a2", RefreshToken: "r2"}).RefreshToken)
	assert.Equal(t, "r1", old.Rotate(Credential{AccessToken: "a2"}).RefreshToken)
}
