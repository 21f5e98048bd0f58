package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

type Options struct {
	// BaseURL is the REST API root, AuthURL the OAuth server root.
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// WebhookSigningKey is handed to the provider when subscribing so that
	// deliveries carry a verifiable signature.
	WebhookSigningKey string

	HTTPClient        *http.Client
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	UserAgent         string
	Now               func() time.Time
}

// Client is a stateless wrapper over the scheduling provider's API. It never
// refreshes tokens itself; callers hand it a valid access token per call.
type Client struct {
	baseURL    *url.URL
	oauth      *oauth2.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	signingKey string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://api.calendly.com"
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", opts.BaseURL)
	}
	authBase := strings.TrimRight(strings.TrimSpace(opts.AuthURL), "/")
	if authBase == "" {
		authBase = "https://auth.calendly.com"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "appointment-sync/1.0"
	}

	return &Client{
		baseURL: baseURL,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authBase + "/oauth/authorize",
				TokenURL:  authBase + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		userAgent:  userAgent,
		signingKey: opts.WebhookSigningKey,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		now:        now,
	}, nil
}

// AuthCodeURL is where the user is sent to grant access. state comes back
// untouched on the callback.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrAuthExchangeFailed)
	}
	conf := *c.oauth
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}
	tok, err := conf.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}
	return tok, nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrAuthExchangeFailed)
	}
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", ErrAuthExchangeFailed, err)
	}
	return tok, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// resolve turns a path or absolute provider link into a URL on the API host.
func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrForeignURI, ref)
	}
	if !u.IsAbs() {
		return c.baseURL.ResolveReference(u), nil
	}
	if !strings.EqualFold(u.Scheme, c.baseURL.Scheme) || !strings.EqualFold(u.Host, c.baseURL.Host) {
		return nil, fmt.Errorf("%w: %q", ErrForeignURI, ref)
	}
	return u, nil
}

// do sends one API call. Only transport failures are retried, with backoff;
// every non-2xx, 429 and 5xx included, is returned as a *RequestError
// straight away.
func (c *Client) do(ctx context.Context, method, ref, token string, payload, out any) error {
	u, err := c.resolve(ref)
	if err != nil {
		return err
	}
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, u.Path, err)
			}
			return nil
		}

		return &RequestError{
			Method:     method,
			URL:        u.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			RetryAfter: parseRetryAfterSeconds(resp.Header.Get("Retry-After")),
		}
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Title != "" {
			return parsed.Title
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
