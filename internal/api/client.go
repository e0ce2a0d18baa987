package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://cloud.supernote.com/api"

	// defaultUserAgent mimics the browser the service's web client runs in;
	// the login payload's browser field must stay consistent with it.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36"

	headerCSRFToken   = "X-XSRF-TOKEN"
	headerAccessToken = "x-access-token"
	csrfCookieName    = "XSRF-TOKEN"
	csrfEndpoint      = "/csrf"
)

// Client speaks the wire protocol over a single HTTP session. It holds the
// CSRF and access tokens as session state and is not safe for concurrent
// use; one Client serves one logical account.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	accessToken string
	csrfToken   string
}

// Options configures a Client. Zero values select production defaults.
type Options struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a protocol client. When no HTTP client is supplied, one
// with a cookie jar is built — the service sets the XSRF-TOKEN cookie on the
// CSRF endpoint and expects it back alongside the header.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar}
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns the current access token, or "" when unauthenticated.
func (c *Client) Token() string {
	return c.accessToken
}

// UseToken installs a previously issued access token (e.g. from the token
// cache). The caller is expected to validate it with a probe call.
func (c *Client) UseToken(token string) {
	c.accessToken = token
}

// ClearToken drops the access token, returning the client to the
// unauthenticated state.
func (c *Client) ClearToken() {
	c.accessToken = ""
}

// apiResponse is the envelope every JSON endpoint wraps its payload in.
type apiResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

// rejection converts a success=false envelope into an APIError.
func (r *apiResponse) rejection(fallback string) *APIError {
	msg := r.ErrorMsg
	if msg == "" {
		msg = fallback
	}

	return &APIError{Code: r.ErrorCode, Message: msg, Err: ErrRejected}
}

// FetchCSRFToken obtains a fresh anti-forgery token from the CSRF endpoint.
// The token arrives in the x-xsrf-token response header or the XSRF-TOKEN
// cookie; the cookie jar keeps the cookie half of the pair.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfEndpoint, nil)
	if err != nil {
		return "", fmt.Errorf("api: creating CSRF request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api: fetching CSRF token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "CSRF fetch failed", Err: classifyStatus(resp.StatusCode)}
	}

	token := resp.Header.Get("x-xsrf-token")
	if token == "" {
		for _, ck := range resp.Cookies() {
			if ck.Name == csrfCookieName {
				token = ck.Value
				break
			}
		}
	}

	if token == "" {
		return "", ErrNoCSRFToken
	}

	c.csrfToken = token
	c.logger.Debug("fetched CSRF token")

	return token, nil
}

// apiCall performs a CSRF-aware JSON POST and decodes the response into out.
// Every endpoint except /csrf carries the X-XSRF-TOKEN header (fetched
// lazily on first need) and, once authenticated, x-access-token. A 403
// response triggers exactly one CSRF refresh and one retry: the CSRF token
// expires independently of the access token and 403 is the only signal the
// service gives. A second failure propagates.
func (c *Client) apiCall(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("api: encoding %s request: %w", endpoint, err)
	}

	if endpoint != csrfEndpoint && c.csrfToken == "" {
		if _, err := c.FetchCSRFToken(ctx); err != nil {
			return err
		}
	}

	resp, err := c.postOnce(ctx, endpoint, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		c.logger.Debug("got 403, refreshing CSRF token", slog.String("endpoint", endpoint))

		if _, err := c.FetchCSRFToken(ctx); err != nil {
			return err
		}

		resp, err = c.postOnce(ctx, endpoint, body)
		if err != nil {
			return err
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", endpoint, err)
	}

	return nil
}

// postOnce executes a single JSON POST (no retry).
func (c *Client) postOnce(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api: creating %s request: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if endpoint != csrfEndpoint && c.csrfToken != "" {
		req.Header.Set(headerCSRFToken, c.csrfToken)
	}

	if c.accessToken != "" {
		req.Header.Set(headerAccessToken, c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: POST %s: %w", endpoint, err)
	}

	return resp, nil
}
