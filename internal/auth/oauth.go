// Package auth implements the identity provider gateway used by the
// session coordinator: OAuth authorization code sign-in with PKCE, token
// refresh, online introspection and revocation against the Kamui API.
package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/kamui-project/kamui-session/internal/session"
	"github.com/kamui-project/kamui-session/internal/token"
)

const (
	// DefaultCallbackPort is the default port for the local OAuth callback server
	DefaultCallbackPort = 9876

	// DefaultClientName is the default name for dynamic client registration
	DefaultClientName = "Kamui CLI"

	// DefaultLoginTimeout bounds how long sign-in waits for the browser callback
	DefaultLoginTimeout = 5 * time.Minute

	callbackPortRange = 10
	scope             = "full"
)

// ClientRegistry persists the OAuth client credentials obtained through
// dynamic client registration
type ClientRegistry interface {
	GetClientCredentials() (clientID, clientSecret string, err error)
	SaveClientCredentials(clientID, clientSecret string) error
}

// ClientCredentials contains OAuth client credentials
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// RegistrationResponse represents the response from dynamic client registration
type RegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Gateway talks OAuth to the Kamui API. It implements session.Gateway.
type Gateway struct {
	apiURL       string
	registry     ClientRegistry
	httpClient   *http.Client
	callbackPort int
	loginTimeout time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	clientID     string
	clientSecret string
}

var _ session.Gateway = (*Gateway)(nil)

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithHTTPClient sets the HTTP client used for all provider calls
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = c }
}

// WithCallbackPort sets the first port tried for the local callback server
func WithCallbackPort(port int) GatewayOption {
	return func(g *Gateway) { g.callbackPort = port }
}

// WithLoginTimeout bounds how long SignIn waits for the user
func WithLoginTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.loginTimeout = d }
}

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway creates a gateway for the API at apiURL
func NewGateway(apiURL string, registry ClientRegistry, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		apiURL:       strings.TrimRight(apiURL, "/"),
		registry:     registry,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		callbackPort: DefaultCallbackPort,
		loginTimeout: DefaultLoginTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetClientCredentials sets the OAuth client credentials
func (g *Gateway) SetClientCredentials(clientID, clientSecret string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clientID = clientID
	g.clientSecret = clientSecret
}

// GetClientCredentials returns the current client credentials
func (g *Gateway) GetClientCredentials() *ClientCredentials {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clientID == "" {
		return nil
	}
	return &ClientCredentials{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
	}
}

// RegisterClient performs OAuth Dynamic Client Registration (RFC 7591)
func (g *Gateway) RegisterClient(ctx context.Context, redirectURIs []string) (*ClientCredentials, error) {
	reqBody := map[string]interface{}{
		"client_name":   DefaultClientName,
		"redirect_uris": redirectURIs,
		"grant_types":   []string{"authorization_code", "refresh_token"},
		"scope":         scope,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/oauth/register", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client registration failed with status %d", resp.StatusCode)
	}

	var regResp RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}

	return &ClientCredentials{
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
	}, nil
}

// ensureClient loads stored client credentials, registering the CLI
// first if there are none
func (g *Gateway) ensureClient(ctx context.Context) error {
	if g.GetClientCredentials() != nil {
		return nil
	}

	if g.registry != nil {
		clientID, clientSecret, err := g.registry.GetClientCredentials()
		if err != nil {
			return fmt.Errorf("failed to get client credentials: %w", err)
		}
		if clientID != "" {
			g.SetClientCredentials(clientID, clientSecret)
			return nil
		}
	}

	g.logger.InfoContext(ctx, "registering CLI with Kamui Platform")
	creds, err := g.RegisterClient(ctx, g.redirectURIs())
	if err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}
	g.SetClientCredentials(creds.ClientID, creds.ClientSecret)

	if g.registry != nil {
		if err := g.registry.SaveClientCredentials(creds.ClientID, creds.ClientSecret); err != nil {
			return fmt.Errorf("failed to save client credentials: %w", err)
		}
	}
	return nil
}

// SignIn performs the authorization code flow. It starts a local callback
// server, asks p to send the user to the authorization URL, and exchanges
// the returned code for tokens.
func (g *Gateway) SignIn(ctx context.Context, p session.Presenter) (*token.Record, error) {
	if p == nil {
		return nil, session.ErrPresentationUnavailable
	}

	port, err := g.findAvailablePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}
	redirectURI := callbackURL(port)

	if err := g.ensureClient(ctx); err != nil {
		return nil, err
	}

	state, err := generateRandomState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	cfg := g.oauthConfig(redirectURI)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := g.startCallbackServer(port, state, codeChan, errChan)
	if err != nil {
		return nil, err
	}
	defer server.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	if err := p.Present(ctx, authURL); err != nil {
		return nil, fmt.Errorf("failed to present sign-in: %w", err)
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.loginTimeout):
		return nil, errors.New("authentication timed out")
	}

	tok, err := cfg.Exchange(g.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rec := token.FromOAuth2(tok)
	rec.Subject = g.subjectFor(ctx, rec)
	return rec, nil
}

// Refresh exchanges rec's refresh token for new tokens
func (g *Gateway) Refresh(ctx context.Context, rec *token.Record) (*token.Record, error) {
	if !rec.RefreshTokenPresent() {
		return nil, errors.New("no refresh token available")
	}
	if err := g.ensureClient(ctx); err != nil {
		return nil, err
	}

	src := g.oauthConfig("").TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	next := token.FromOAuth2(tok)
	next.Subject = subjectFromIDToken(next.IDToken)
	return next, nil
}

// Introspect asks the API whether rec's access token is active (RFC 7662)
func (g *Gateway) Introspect(ctx context.Context, rec *token.Record) (bool, error) {
	resp, err := g.introspect(ctx, rec.AccessToken)
	if err != nil {
		return false, err
	}
	return resp.Active, nil
}

func (g *Gateway) introspect(ctx context.Context, accessToken string) (*oidc.IntrospectionResponse, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, err
	}

	creds := g.GetClientCredentials()
	server, err := rs.NewResourceServerClientCredentials(ctx, g.apiURL, creds.ClientID, creds.ClientSecret,
		rs.WithClient(g.httpClient),
		rs.WithStaticEndpoints(g.apiURL+"/oauth/token", g.apiURL+"/oauth/introspect"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection client: %w", err)
	}

	resp, err := rs.Introspect[*oidc.IntrospectionResponse](ctx, server, accessToken)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	if resp == nil {
		return nil, errors.New("empty introspection response")
	}
	return resp, nil
}

// SignOut revokes rec's tokens (RFC 7009). A nil rec is a no-op.
func (g *Gateway) SignOut(ctx context.Context, rec *token.Record) error {
	if rec == nil {
		return nil
	}
	creds := g.GetClientCredentials()
	if creds == nil && g.registry != nil {
		clientID, clientSecret, err := g.registry.GetClientCredentials()
		if err != nil {
			return fmt.Errorf("failed to get client credentials: %w", err)
		}
		creds = &ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}
	}
	if creds == nil || creds.ClientID == "" {
		return errors.New("no client credentials to revoke with")
	}

	var errs []error
	if rec.RefreshTokenPresent() {
		errs = append(errs, g.revoke(ctx, creds, rec.RefreshToken, "refresh_token"))
	}
	if rec.AccessToken != "" {
		errs = append(errs, g.revoke(ctx, creds, rec.AccessToken, "access_token"))
	}
	return errors.Join(errs...)
}

func (g *Gateway) revoke(ctx context.Context, creds *ClientCredentials, value, hint string) error {
	data := url.Values{}
	data.Set("token", value)
	data.Set("token_type_hint", hint)
	data.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		data.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/oauth/revoke", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token revocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}
	return nil
}

// subjectFor reads the subject from the ID token, falling back to
// introspection when the provider issued no ID token
func (g *Gateway) subjectFor(ctx context.Context, rec *token.Record) string {
	if sub := subjectFromIDToken(rec.IDToken); sub != "" {
		return sub
	}
	resp, err := g.introspect(ctx, rec.AccessToken)
	if err != nil {
		g.logger.WarnContext(ctx, "could not determine token subject", "error", err)
		return ""
	}
	return resp.Subject
}

// subjectFromIDToken extracts the sub claim without verifying the signature.
// The subject is only used to notice account switches, never to grant access.
func subjectFromIDToken(raw string) string {
	if raw == "" {
		return ""
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

func (g *Gateway) oauthConfig(redirectURI string) *oauth2.Config {
	creds := g.GetClientCredentials()
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:   g.apiURL + "/oauth/authorize",
			TokenURL:  g.apiURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{scope},
	}
	if creds != nil {
		cfg.ClientID = creds.ClientID
		cfg.ClientSecret = creds.ClientSecret
	}
	return cfg
}

// clientContext makes oauth2 use the gateway's HTTP client
func (g *Gateway) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func (g *Gateway) redirectURIs() []string {
	uris := make([]string, 0, callbackPortRange)
	for port := g.callbackPort; port < g.callbackPort+callbackPortRange; port++ {
		uris = append(uris, callbackURL(port))
	}
	return uris
}

func callbackURL(port int) string {
	return fmt.Sprintf("http://localhost:%d/callback", port)
}

// findAvailablePort finds an available port starting from the default
func (g *Gateway) findAvailablePort() (int, error) {
	for port := g.callbackPort; port < g.callbackPort+callbackPortRange; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port found")
}

// startCallbackServer starts the local OAuth callback server
func (g *Gateway) startCallbackServer(port int, expectedState string, codeChan chan<- string, errChan chan<- error) (*http.Server, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if query.Get("state") != expectedState {
			sendErr(errChan, fmt.Errorf("state mismatch"))
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}

		if errMsg := query.Get("error"); errMsg != "" {
			sendErr(errChan, fmt.Errorf("OAuth error: %s - %s", errMsg, query.Get("error_description")))
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, resultHTML("Authentication failed. You can close this window."))
			return
		}

		code := query.Get("code")
		if code == "" {
			sendErr(errChan, fmt.Errorf("no authorization code received"))
			http.Error(w, "No code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, resultHTML("Authentication successful! You can close this window."))

		select {
		case codeChan <- code:
		default:
		}
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go server.Serve(listener)

	return server, nil
}

func sendErr(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

// generateRandomState generates a cryptographically secure random state string
func generateRandomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// resultHTML returns the HTML page shown after the browser redirect
func resultHTML(message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Kamui CLI</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background-color: #f5f5f5;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-bottom: 10px; }
        p { color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Kamui CLI</h1>
        <p>%s</p>
    </div>
</body>
</html>`, message)
}
