// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

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
	"strings"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/clock"
	"github.com/bureau-foundation/matrix-commander/lib/netutil"
	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/lib/secret"
	"github.com/bureau-foundation/matrix-commander/lib/version"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver, e.g.
	// "https://matrix.example.org".
	HomeserverURL string

	// HTTPClient defaults to a client with no overall timeout; each
	// attempt is bounded by Timeout instead.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Timeout bounds each request attempt. Zero means unbounded.
	Timeout time.Duration

	// RetryTimeout bounds how long transient failures are retried,
	// measured from the first attempt. Zero disables retries.
	RetryTimeout time.Duration
}

// Client is an unauthenticated Matrix client. It is shared by the
// sessions created from it.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	clock          clock.Clock
	timeout        time.Duration
	retryTimeout   time.Duration
	initialBackoff time.Duration
}

// NewClient validates config and creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must be an absolute http or https URL", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Client{
		baseURL:        strings.TrimRight(config.HomeserverURL, "/"),
		httpClient:     httpClient,
		logger:         logger,
		clock:          clk,
		timeout:        config.Timeout,
		retryTimeout:   config.RetryTimeout,
		initialBackoff: initialBackoff,
	}, nil
}

// HomeserverURL returns the base URL without a trailing slash.
func (c *Client) HomeserverURL() string { return c.baseURL }

// PasswordLogin holds the parameters of a password login. Login reads
// Password but does not close it.
type PasswordLogin struct {
	// Username is a localpart or a full user ID.
	Username string
	Password *secret.Buffer

	// DeviceName becomes the new device's display name.
	DeviceName string

	// RefreshToken asks the homeserver to issue a refresh token.
	RefreshToken bool
}

// Login authenticates with a password and returns a session for the
// newly created device.
func (c *Client) Login(ctx context.Context, login PasswordLogin) (*DirectSession, error) {
	if login.Username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if login.Password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	// The password becomes a heap string only for the JSON encoding of
	// this one request.
	request := LoginRequest{
		Type: "m.login.password",
		Identifier: UserIdentifier{
			Type: "m.id.user",
			User: login.Username,
		},
		Password:                 login.Password.String(),
		InitialDeviceDisplayName: login.DeviceName,
		RefreshToken:             login.RefreshToken,
	}

	body, err := c.do(ctx, call{method: http.MethodPost, path: "/_matrix/client/v3/login", body: request}, "")
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	if response.AccessToken == "" || response.UserID.IsZero() || response.DeviceID.IsZero() {
		return nil, fmt.Errorf("messaging: login response is missing user_id, device_id or access_token")
	}

	c.logger.Info("logged in to matrix",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
		"refresh_token", response.RefreshToken != "",
	)
	return c.SessionFromToken(TokenSession{
		UserID:       response.UserID,
		DeviceID:     response.DeviceID,
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
	})
}

// TokenSession is a previously issued login, as stored between runs.
type TokenSession struct {
	UserID       ref.UserID
	DeviceID     ref.DeviceID
	AccessToken  string
	RefreshToken string
}

// SessionFromToken wraps stored tokens into a session without
// contacting the homeserver; the first request reveals whether the
// token is still valid. The caller must Close the session.
func (c *Client) SessionFromToken(tokens TokenSession) (*DirectSession, error) {
	if tokens.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: user ID is required")
	}
	accessToken, err := secret.NewFromString(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	session := &DirectSession{
		client:      c,
		userID:      tokens.UserID,
		deviceID:    tokens.DeviceID,
		accessToken: accessToken,
	}
	if tokens.RefreshToken != "" {
		session.refreshToken, err = secret.NewFromString(tokens.RefreshToken)
		if err != nil {
			accessToken.Close()
			return nil, fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}
	return session, nil
}

// refresh exchanges a refresh token for new tokens. The endpoint is
// unauthenticated: the refresh token is the credential.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	body, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/_matrix/client/v3/refresh",
		body:   RefreshRequest{RefreshToken: refreshToken},
	}, "")
	if err != nil {
		return nil, err
	}
	var response RefreshResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if response.AccessToken == "" {
		return nil, fmt.Errorf("refresh response has no access_token")
	}
	return &response, nil
}

// call describes one API request.
type call struct {
	method string
	path   string
	query  url.Values

	// body is JSON-encoded unless raw is set.
	body        any
	raw         []byte
	contentType string

	// wait is added to the attempt timeout for long-polling requests.
	wait time.Duration
}

// do performs a call, retrying transient failures within the retry
// budget. accessToken is empty for unauthenticated endpoints.
func (c *Client) do(ctx context.Context, request call, accessToken string) ([]byte, error) {
	var payload []byte
	contentType := request.contentType
	switch {
	case request.raw != nil:
		payload = request.raw
	case request.body != nil:
		encoded, err := json.Marshal(request.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = encoded
		contentType = "application/json"
	}

	started := c.clock.Now()
	backoff := c.initialBackoff
	for attempt := 1; ; attempt++ {
		body, transient, wait, err := c.attempt(ctx, request, payload, contentType, accessToken)
		if err == nil {
			return body, nil
		}
		if !transient || ctx.Err() != nil {
			return body, err
		}
		if wait <= 0 {
			wait = backoff
		}
		if c.clock.Now().Sub(started)+wait > c.retryTimeout {
			return body, err
		}
		c.logger.Debug("retrying homeserver request",
			"method", request.method,
			"path", request.path,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (while waiting to retry after: %v)", ctx.Err(), err)
		case <-c.clock.After(wait):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// attempt performs a single HTTP exchange. It returns the response body
// alongside a *MatrixError so callers can inspect error payloads.
func (c *Client) attempt(ctx context.Context, request call, payload []byte, contentType, accessToken string) (body []byte, transient bool, wait time.Duration, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout+request.wait)
		defer cancel()
	}

	requestURL := c.baseURL + request.path
	if len(request.query) > 0 {
		requestURL += "?" + request.query.Encode()
	}
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.method, requestURL, bodyReader)
	if err != nil {
		return nil, false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpRequest.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, true, 0, fmt.Errorf("request to %s %s failed: %w", request.method, request.path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		transient = !errors.Is(err, netutil.ErrResponseTooLarge)
		return nil, transient, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, false, 0, nil
	}

	matrixErr := &MatrixError{}
	if jsonErr := json.Unmarshal(responseBody, matrixErr); jsonErr != nil || matrixErr.Code == "" {
		// A reverse proxy error page, most likely.
		matrixErr = &MatrixError{
			Code:    ErrCodeUnknown,
			Message: fmt.Sprintf("unexpected response from %s %s: %s", request.method, request.path, truncate(string(responseBody), 200)),
		}
	}
	matrixErr.StatusCode = response.StatusCode
	transient, wait = retryDelay(matrixErr)
	return responseBody, transient, wait, matrixErr
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

// escapePath joins escaped path segments onto a prefix.
func escapePath(prefix string, segments ...string) string {
	var builder strings.Builder
	builder.WriteString(prefix)
	for _, segment := range segments {
		builder.WriteByte('/')
		builder.WriteString(url.PathEscape(segment))
	}
	return builder.String()
}
