package credential

import "time"

// DefaultSkew is subtracted from the expiry before a token is handed out.
const DefaultSkew = 60 * time.Second

// Credential is the OAuth2 credential for the upstream API.
// A zero ExpiresAt marks a static token that never expires.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Usable reports whether the access token may be handed to a caller at now:
// it must expire strictly after now+skew.
func (c Credential) Usable(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.After(now.Add(skew))
}

// CanRefresh reports whether a refresh-token grant is possible.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Rotate returns the credential after a refresh: the new access token and,
// when the grant returned one, the new refresh token.
func (c Credential) Rotate(next Credential) Credential {
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}
	return next
}
