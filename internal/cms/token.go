package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Token is an OAuth access/refresh token pair.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore persists tokens as two plain files under the auth directory,
// matching the layout the authorization web flow writes.
type TokenStore struct {
	accessPath  string
	refreshPath string
}

// NewTokenStore creates the auth directory if needed.
func NewTokenStore(dir string) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}
	return &TokenStore{
		accessPath:  filepath.Join(dir, "access"),
		refreshPath: filepath.Join(dir, "refresh"),
	}, nil
}

// Load reads the stored token pair. Missing files return an empty token,
// which surfaces later as an authorization failure on the first request.
func (s *TokenStore) Load() Token {
	var t Token
	if data, err := os.ReadFile(s.accessPath); err == nil {
		t.AccessToken = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(s.refreshPath); err == nil {
		t.RefreshToken = strings.TrimSpace(string(data))
	}
	return t
}

// Save persists the token pair.
func (s *TokenStore) Save(t Token) error {
	if err := os.WriteFile(s.accessPath, []byte(t.AccessToken), 0600); err != nil {
		return fmt.Errorf("failed to write access token: %w", err)
	}
	if err := os.WriteFile(s.refreshPath, []byte(t.RefreshToken), 0600); err != nil {
		return fmt.Errorf("failed to write refresh token: %w", err)
	}
	return nil
}

// OAuthConfig carries the application credentials and endpoints for the
// CMS authorization-code flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	CallbackURL  string
}

// AuthorizeURL builds the browser URL that starts the authorization flow.
func (c OAuthConfig) AuthorizeURL() string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.ClientID)
	params.Set("redirect_uri", c.CallbackURL)
	return c.AuthURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a token pair.
func (c OAuthConfig) ExchangeCode(ctx context.Context, code string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("redirect_uri", c.CallbackURL)
	return c.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for a fresh token pair.
func (c OAuthConfig) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	return c.tokenRequest(ctx, form)
}

func (c OAuthConfig) tokenRequest(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return Token{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	return token, nil
}
