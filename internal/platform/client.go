package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrUnauthenticated is returned by mutations attempted without a credential.
	// No request is issued.
	ErrUnauthenticated = errors.New("sign in required")

	// ErrUnauthorized marks a credential the platform rejected (HTTP 401).
	ErrUnauthorized = errors.New("credential rejected")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
}

// Unwrap lets errors.Is match ErrUnauthorized for 401 responses.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Options configure a Client.
type Options struct {
	Owner      string
	Repo       string
	Branch     string
	RawBaseURL string
	APIBaseURL string
	GraphQLURL string
	UserAgent  string
	Timeout    time.Duration

	// RequestsPerSecond caps outbound requests. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

const (
	defaultRawBaseURL = "https://raw.githubusercontent.com"
	defaultAPIBaseURL = "https://api.github.com"
	defaultGraphQLURL = "https://api.github.com/graphql"
	defaultBranch     = "main"
	defaultUserAgent  = "rappterbook/0.1"
	requestTimeout    = 10 * time.Second
)

// Client talks to the hosting platform: raw state files, the REST read
// endpoint and the GraphQL mutation endpoint.
type Client struct {
	owner     string
	repo      string
	branch    string
	rawBase   *url.URL
	apiBase   *url.URL
	graphql   string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	now       func() time.Time
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	owner := strings.TrimSpace(opts.Owner)
	repo := strings.TrimSpace(opts.Repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("platform owner and repo are required")
	}
	rawBase, err := parseBaseURL(firstNonEmpty(opts.RawBaseURL, defaultRawBaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse raw base url: %w", err)
	}
	apiBase, err := parseBaseURL(firstNonEmpty(opts.APIBaseURL, defaultAPIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		owner:     owner,
		repo:      repo,
		branch:    firstNonEmpty(opts.Branch, defaultBranch),
		rawBase:   rawBase,
		apiBase:   apiBase,
		graphql:   firstNonEmpty(opts.GraphQLURL, defaultGraphQLURL),
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: firstNonEmpty(opts.UserAgent, defaultUserAgent),
		now:       time.Now,
	}, nil
}

// Owner returns the configured resource owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the configured repository name.
func (c *Client) Repo() string { return c.repo }

// rawURL builds a cache-busted raw file URL for a repository path.
func (c *Client) rawURL(path string) string {
	u := *c.rawBase
	u.Path = fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase.Path, c.owner, c.repo, c.branch, strings.TrimPrefix(path, "/"))
	u.RawQuery = url.Values{"t": {strconv.FormatInt(c.now().UnixNano(), 10)}}.Encode()
	return u.String()
}

func (c *Client) apiURL(path string, query url.Values) string {
	u := *c.apiBase
	u.Path = strings.TrimSuffix(c.apiBase.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// request performs one HTTP exchange and returns the body of a 2xx response.
func (c *Client) request(ctx context.Context, method, target, token string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: pathOf(target), Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, target, token string, dest any) error {
	data, err := c.request(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(data []byte) string {
	var env struct {
		Message string        `json:"message"`
		Errors  []remoteError `json:"errors"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	if msg := joinErrors(env.Errors); msg != "" {
		if env.Message != "" {
			return env.Message + ": " + msg
		}
		return msg
	}
	return env.Message
}

type remoteError struct {
	Message string `json:"message"`
}

func joinErrors(errs []remoteError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if m := strings.TrimSpace(e.Message); m != "" {
			msgs = append(msgs, m)
		}
	}
	return strings.Join(msgs, "; ")
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Path
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
