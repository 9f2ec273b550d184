package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// defaultTokenLifetime is assumed when the token endpoint omits
// expiresIn.
const defaultTokenLifetime = 1800 * time.Second

// tokenSource implements oauth2.TokenSource against the upstream's
// nonstandard token endpoint: JSON request bodies with a grantType
// discriminator instead of form-encoded OAuth2 grants. It is wrapped in
// oauth2.ReuseTokenSource by the client, so Token is only called when
// the cached token has expired.
type tokenSource struct {
	cfg    Config
	client *http.Client

	mu           sync.Mutex
	refreshToken string
}

type tokenRequest struct {
	GrantType    string `json:"grantType"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	License      string `json:"license,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	refresh := ts.refreshToken
	ts.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ts.cfg.Timeout)
	defer cancel()

	var tok *oauth2.Token
	var err error
	if refresh != "" {
		tok, err = ts.grant(ctx, tokenRequest{
			GrantType:    "refreshToken",
			ClientID:     ts.cfg.ClientID,
			ClientSecret: ts.cfg.ClientSecret,
			RefreshToken: refresh,
		})
		if err == nil {
			return tok, nil
		}
		// Fall through to a fresh password grant; refresh tokens are
		// invalidated server-side when the session is revoked.
	}

	return ts.grant(ctx, tokenRequest{
		GrantType:    "password",
		ClientID:     ts.cfg.ClientID,
		ClientSecret: ts.cfg.ClientSecret,
		License:      ts.cfg.License,
		Username:     ts.cfg.Username,
		Password:     ts.cfg.Password,
	})
}

func (ts *tokenSource) grant(ctx context.Context, reqBody tokenRequest) (*oauth2.Token, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.BaseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token request failed: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response without accessToken")
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}

	ts.mu.Lock()
	ts.refreshToken = tr.RefreshToken
	ts.mu.Unlock()

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(lifetime),
	}, nil
}
