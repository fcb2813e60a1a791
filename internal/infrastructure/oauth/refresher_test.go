package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
)

func newTestRefresher(t *testing.T, h http.HandlerFunc) *Refresher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		RedirectURL:  "https://gateway.example/oauth/callback",
	}, WithHTTPClient(srv.Client()))
}

func TestRefreshSendsGrantInParams(t *testing.T) {
	var form map[string]string
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, req.ParseForm())
		form = map[string]string{
			"grant_type":    req.PostForm.Get("grant_type"),
			"refresh_token": req.PostForm.Get("refresh_token"),
			"client_id":     req.PostForm.Get("client_id"),
			"client_secret": req.PostForm.Get("client_secret"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"Bearer","expires_in":3600}`))
	})

	before := time.Now()
	cred, err := r.Refresh(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "r1",
		"client_id":     "client-1",
		"client_secret": "secret-1",
	}, form)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r2", cred.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), cred.ExpiresAt, 5*time.Second)
}

func TestRefreshRejectedIsAuth(t *testing.T) {
	r := newTestRefresher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := r.Refresh(context.Background(), "r1")
	require.ErrorIs(t, err, fault.ErrAuth)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRefreshServerErrorIsUpstream(t *testing.T) {
	r := newTestRefresher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := r.Refresh(context.Background(), "r1")
	require.ErrorIs(t, err, fault.ErrUpstream)
	assert.NotErrorIs(t, err, fault.ErrAuth)
}

func TestRefreshWithoutTokenIsAuth(t *testing.T) {
	r := New(Config{TokenURL: "http://127.0.0.1:0/token"})
	_, err := r.Refresh(context.Background(), " ")
	require.ErrorIs(t, err, fault.ErrAuth)
}

func TestExchangeCode(t *testing.T) {
	var gotCode, gotRedirect string
	r := newTestRefresher(t, func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, req.ParseForm())
		gotCode = req.PostForm.Get("code")
		gotRedirect = req.PostForm.Get("redirect_uri")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","token_type":"Bearer"}`))
	})

	cred, err := r.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "code-1", gotCode)
	assert.Equal(t, "https://gateway.example/oauth/callback", gotRedirect)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.True(t, cred.ExpiresAt.IsZero(), "no expires_in means a static token")
}

func TestAuthCodeURL(t *testing.T) {
	r := New(Config{ClientID: "client-1", AuthURL: "https://auth.example/authorize", RedirectURL: "https://gw/cb"})
	u := r.AuthCodeURL("state-1")
	assert.Contains(t, u, "client_id=client-1")
	assert.Contains(t, u, "state=state-1")
}
