package hcb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackatlas/atlas/internal/model"
	"github.com/hackatlas/atlas/internal/store"
)

// refreshWindow is how close to expiry a token may get before the client
// refreshes it ahead of a call.
const refreshWindow = 5 * time.Minute

var (
	// ErrNotAuthenticated means the user has no stored token material.
	ErrNotAuthenticated = errors.New("hcb: user not authenticated")
	// ErrMalformedResponse means HCB answered 2xx with a body that is not
	// valid JSON.
	ErrMalformedResponse = errors.New("hcb: malformed upstream response")
)

// APIError is a non-2xx answer from the HCB resource API. The body is kept
// for server-side logging; handlers reduce it to a generic message.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hcb: api request failed with status %d", e.Status)
}

// Client makes bearer-authenticated calls to the HCB resource API on behalf
// of a stored user. Before every call it loads the user's token triple,
// refreshes it when near expiry, and persists the refreshed triple before
// using it.
type Client struct {
	oauth      *OAuthClient
	users      *store.UserStore
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(oauth *OAuthClient, users *store.UserStore, logger *slog.Logger) *Client {
	return &Client{
		oauth: oauth,
		users: users,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger: logger,
	}
}

// ensureFresh returns token material guaranteed to outlive the upcoming
// call. A refresh result is written to the store before it is returned, so
// a crash between refresh and use cannot strand a rotated token the store
// has never seen.
func (c *Client) ensureFresh(ctx context.Context, userID int64) (*model.TokenData, error) {
	td, err := c.users.TokenData(userID)
	if err != nil {
		return nil, err
	}
	if td == nil {
		return nil, ErrNotAuthenticated
	}

	if time.Until(td.ExpiresAt) >= refreshWindow {
		return td, nil
	}

	fresh, err := c.oauth.Refresh(ctx, td.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := c.users.UpdateTokens(userID, fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("token refreshed", "user_id", userID)
	}
	return &fresh, nil
}

// Do issues an authenticated request. payload, when non-nil, is sent as a
// JSON body. The returned TokenData is the triple actually used, which may
// be newer than what the caller last saw.
func (c *Client) Do(ctx context.Context, userID int64, method, path string, payload any) (json.RawMessage, *model.TokenData, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return c.do(ctx, userID, method, path, body, contentType)
}

// DoMultipart uploads a file as a multipart form. Used for receipt uploads;
// the multipart writer supplies its own content type.
func (c *Client) DoMultipart(ctx context.Context, userID int64, path, field, filename string, file io.Reader) (json.RawMessage, *model.TokenData, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, nil, fmt.Errorf("copy form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, nil, fmt.Errorf("close multipart writer: %w", err)
	}
	return c.do(ctx, userID, http.MethodPost, path, &buf, mw.FormDataContentType())
}

func (c *Client) do(ctx context.Context, userID int64, method, path string, body io.Reader, contentType string) (json.RawMessage, *model.TokenData, error) {
	td, err := c.ensureFresh(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	// Absolute URLs pass through untouched.
	fullURL := path
	if !strings.HasPrefix(path, "http") {
		fullURL = c.oauth.cfg.APIBase + path
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+td.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if c.logger != nil {
			c.logger.Error("api request failed",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
				"body", string(respBody))
		}
		return nil, nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, td, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(respBody) {
		if c.logger != nil {
			c.logger.Error("invalid json from api",
				"method", method,
				"path", path,
				"status", resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}

	return json.RawMessage(respBody), td, nil
}

// buildQuery renders a query string, dropping empty values.
func buildQuery(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		if val != "" {
			v.Set(k, val)
		}
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
