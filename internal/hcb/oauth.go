package hcb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hackatlas/atlas/internal/model"
)

// Config identifies this application to the HCB authorization server.
type Config struct {
	APIBase     string
	ClientID    string
	RedirectURI string
}

// requestTimeout bounds every outbound call; the HCB API can be slow.
const requestTimeout = 15 * time.Second

// OAuthClient talks to HCB's token and identity endpoints. HCB is a public
// OAuth client setup: requests carry the client id only, as a JSON body.
type OAuthClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOAuthClient(cfg Config, logger *slog.Logger) *OAuthClient {
	return &OAuthClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

// AuthorizeURL builds the authorization redirect for the login flow. A
// non-empty state is round-tripped through HCB and checked in the callback.
func (c *OAuthClient) AuthorizeURL(state string) string {
	v := url.Values{}
	v.Set("client_id", c.cfg.ClientID)
	v.Set("redirect_uri", c.cfg.RedirectURI)
	v.Set("response_type", "code")
	v.Set("scope", "read write")
	if state != "" {
		v.Set("state", state)
	}
	return c.cfg.APIBase + "/oauth/authorize?" + v.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshError reports a token-endpoint rejection. A 4xx means the refresh
// token is gone (rotated, revoked, expired) and the user must log in again;
// 5xx is a transient upstream fault the caller may retry.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("hcb: token endpoint returned %d", e.Status)
}

// Fatal reports whether re-authentication is required.
func (e *RefreshError) Fatal() bool {
	return e.Status >= 400 && e.Status < 500
}

// Exchange trades an authorization code for a token triple.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (model.TokenData, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_id":    c.cfg.ClientID,
		"code":         code,
		"grant_type":   "authorization_code",
		"redirect_uri": c.cfg.RedirectURI,
	})
}

// Refresh trades a refresh token for a fresh triple. HCB rotates refresh
// tokens, so the returned triple always replaces the stored one.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (model.TokenData, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_id":     c.cfg.ClientID,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
}

func (c *OAuthClient) tokenRequest(ctx context.Context, params map[string]string) (model.TokenData, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return model.TokenData{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return model.TokenData{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.TokenData{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.logger != nil {
			c.logger.Error("token endpoint rejected request",
				"grant_type", params["grant_type"],
				"status", resp.StatusCode,
				"body", string(respBody))
		}
		return model.TokenData{}, &RefreshError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return model.TokenData{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return model.TokenData{}, fmt.Errorf("token response missing access_token")
	}

	return model.TokenData{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// Identity is the profile HCB reports for the token's owner.
type Identity struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatar_url"`
}

// FetchUser loads the identity behind an access token. Used once per login,
// right after the code exchange.
func (c *OAuthClient) FetchUser(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("%w: user response missing id", ErrMalformedResponse)
	}
	return &id, nil
}

// IsReauthRequired reports whether err means the stored refresh token is no
// longer usable and the user has to go through the OAuth flow again.
func IsReauthRequired(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Fatal()
}
