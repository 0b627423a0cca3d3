package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamui-project/kamui-session/internal/session"
	"github.com/kamui-project/kamui-session/internal/token"
)

type memoryRegistry struct {
	clientID     string
	clientSecret string
	saves        int
}

func (r *memoryRegistry) GetClientCredentials() (string, string, error) {
	return r.clientID, r.clientSecret, nil
}

func (r *memoryRegistry) SaveClientCredentials(clientID, clientSecret string) error {
	r.clientID = clientID
	r.clientSecret = clientSecret
	r.saves++
	return nil
}

func signedIDToken(t *testing.T, subject string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

// fakeProvider is a minimal OAuth server for the endpoints the gateway uses
type fakeProvider struct {
	idToken string

	mu      sync.Mutex
	revoked []string
	forms   map[string]url.Values
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{forms: make(map[string]url.Values)}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/register", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(RegistrationResponse{ClientID: "registered-id", ClientSecret: "registered-secret"})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		p.record("token", r.PostForm)

		resp := map[string]interface{}{
			"token_type": "bearer",
			"expires_in": 3600,
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "auth-code" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			resp["access_token"] = "signed-in-access"
			resp["refresh_token"] = "signed-in-refresh"
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "good-refresh" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			resp["access_token"] = "refreshed-access"
			resp["refresh_token"] = "rotated-refresh"
		}
		if p.idToken != "" {
			resp["id_token"] = p.idToken
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/oauth/introspect", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		p.record("introspect", r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("token") == "active-token" || r.PostForm.Get("token") == "signed-in-access" {
			w.Write([]byte(`{"active":true,"sub":"introspected-user"}`))
			return
		}
		w.Write([]byte(`{"active":false}`))
	})
	mux.HandleFunc("/oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		p.mu.Lock()
		p.revoked = append(p.revoked, r.PostForm.Get("token_type_hint"))
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return p, server
}

func (p *fakeProvider) record(endpoint string, form url.Values) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forms[endpoint] = form
}

func (p *fakeProvider) form(endpoint string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forms[endpoint]
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestGateway_RegistersClientOnce(t *testing.T) {
	_, server := newFakeProvider(t)
	registry := &memoryRegistry{}
	g := NewGateway(server.URL, registry)

	require.NoError(t, g.ensureClient(context.Background()))
	require.NoError(t, g.ensureClient(context.Background()))

	assert.Equal(t, 1, registry.saves)
	assert.Equal(t, "registered-id", registry.clientID)
	assert.Equal(t, &ClientCredentials{ClientID: "registered-id", ClientSecret: "registered-secret"}, g.GetClientCredentials())
}

func TestGateway_UsesStoredClient(t *testing.T) {
	_, server := newFakeProvider(t)
	registry := &memoryRegistry{clientID: "stored-id", clientSecret: "stored-secret"}
	g := NewGateway(server.URL, registry)

	require.NoError(t, g.ensureClient(context.Background()))
	assert.Equal(t, 0, registry.saves)
	assert.Equal(t, "stored-id", g.GetClientCredentials().ClientID)
}

func TestGateway_RedirectURIsCoverPortRange(t *testing.T) {
	g := NewGateway("https://api.example.com/", nil, WithCallbackPort(9000))

	uris := g.redirectURIs()
	assert.Len(t, uris, callbackPortRange)
	assert.Equal(t, "http://localhost:9000/callback", uris[0])
	assert.Equal(t, "http://localhost:9009/callback", uris[callbackPortRange-1])
	assert.Equal(t, "https://api.example.com", g.apiURL)
}

func TestGateway_Refresh(t *testing.T) {
	provider, server := newFakeProvider(t)
	provider.idToken = signedIDToken(t, "user-42")
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid", clientSecret: "secret"})

	rec, err := g.Refresh(context.Background(), token.New("old", "good-refresh", time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", rec.AccessToken)
	assert.Equal(t, "rotated-refresh", rec.RefreshToken)
	assert.Equal(t, "user-42", rec.Subject)
	assert.True(t, rec.ExpiresAt.After(time.Now()))

	form := provider.form("token")
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "cid", form.Get("client_id"))
}

func TestGateway_RefreshRejected(t *testing.T) {
	_, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid"})

	_, err := g.Refresh(context.Background(), token.New("old", "revoked-refresh", time.Time{}))
	assert.Error(t, err)

	_, err = g.Refresh(context.Background(), token.New("old", "", time.Time{}))
	assert.Error(t, err)
}

func TestGateway_Introspect(t *testing.T) {
	provider, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid", clientSecret: "secret"})

	active, err := g.Introspect(context.Background(), token.New("active-token", "", time.Time{}))
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "active-token", provider.form("introspect").Get("token"))

	active, err = g.Introspect(context.Background(), token.New("revoked-token", "", time.Time{}))
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGateway_IntrospectUnreachable(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", &memoryRegistry{clientID: "cid"},
		WithHTTPClient(&http.Client{Timeout: time.Second}))

	_, err := g.Introspect(context.Background(), token.New("active-token", "", time.Time{}))
	assert.Error(t, err)
}

func TestGateway_SignOutRevokesBothTokens(t *testing.T) {
	provider, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid"})

	require.NoError(t, g.SignOut(context.Background(), token.New("access", "refresh", time.Time{})))
	assert.Equal(t, []string{"refresh_token", "access_token"}, provider.revoked)

	require.NoError(t, g.SignOut(context.Background(), nil))
	assert.Len(t, provider.revoked, 2, "nothing to revoke when signed out")
}

func TestGateway_SignOutWithoutClient(t *testing.T) {
	_, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{})

	assert.Error(t, g.SignOut(context.Background(), token.New("access", "", time.Time{})))
}

func TestGateway_SignIn(t *testing.T) {
	provider, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid"},
		WithCallbackPort(freePort(t)),
		WithLoginTimeout(5*time.Second))

	presenter := session.PresenterFunc(func(ctx context.Context, authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))
		assert.Equal(t, "cid", q.Get("client_id"))

		callback := q.Get("redirect_uri") + "?" + url.Values{
			"code":  {"auth-code"},
			"state": {q.Get("state")},
		}.Encode()
		go func() {
			resp, err := http.Get(callback)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	})

	rec, err := g.SignIn(context.Background(), presenter)
	require.NoError(t, err)
	assert.Equal(t, "signed-in-access", rec.AccessToken)
	assert.Equal(t, "signed-in-refresh", rec.RefreshToken)
	assert.Equal(t, "introspected-user", rec.Subject, "subject falls back to introspection")
	assert.NotEmpty(t, provider.form("token").Get("code_verifier"))
}

func TestGateway_SignInStateMismatch(t *testing.T) {
	_, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid"},
		WithCallbackPort(freePort(t)),
		WithLoginTimeout(5*time.Second))

	presenter := session.PresenterFunc(func(ctx context.Context, authURL string) error {
		u, _ := url.Parse(authURL)
		callback := u.Query().Get("redirect_uri") + "?code=auth-code&state=forged"
		go func() {
			resp, err := http.Get(callback)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	})

	_, err := g.SignIn(context.Background(), presenter)
	assert.ErrorContains(t, err, "state mismatch")
}

func TestGateway_SignInPresenterFailure(t *testing.T) {
	_, server := newFakeProvider(t)
	g := NewGateway(server.URL, &memoryRegistry{clientID: "cid"}, WithCallbackPort(freePort(t)))
	presentErr := errors.New("no display")

	_, err := g.SignIn(context.Background(), session.PresenterFunc(func(context.Context, string) error {
		return presentErr
	}))
	assert.ErrorIs(t, err, presentErr)

	_, err = g.SignIn(context.Background(), nil)
	assert.ErrorIs(t, err, session.ErrPresentationUnavailable)
}

func TestSubjectFromIDToken(t *testing.T) {
	assert.Equal(t, "user-1", subjectFromIDToken(signedIDToken(t, "user-1")))
	assert.Empty(t, subjectFromIDToken(""))
	assert.Empty(t, subjectFromIDToken("not-a-jwt"))
}

func TestBrowserPresenter(t *testing.T) {
	var out bytes.Buffer
	var opened string
	p := NewBrowserPresenter(&out)
	p.openURL = func(u string) error {
		opened = u
		return errors.New("no browser")
	}

	err := p.Present(context.Background(), "https://api.example.com/oauth/authorize?state=x")
	require.NoError(t, err, "a browser failure still leaves the printed URL")
	assert.Equal(t, "https://api.example.com/oauth/authorize?state=x", opened)
	assert.Contains(t, out.String(), "https://api.example.com/oauth/authorize?state=x")
}
