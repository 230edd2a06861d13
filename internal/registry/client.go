package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/imageref"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/utils"
	"github.com/MrSnakeDoc/exposure/internal/version"
)

const (
	DefaultPageSize = 200
	DefaultMaxPages = 8
	DefaultTimeout  = 6 * time.Second

	dockerHubAPIHost = "registry-1.docker.io"
	maxBodyBytes     = 4 << 20
)

// ErrUnauthorized is returned when the registry still answers 401 after a bearer token was obtained.
var ErrUnauthorized = errors.New("registry authentication failed")

// StatusError is any tag listing response that is neither 200 nor 401.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tags request failed (%d)", e.StatusCode)
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client  // optional, built from Timeout when nil
	Timeout    time.Duration // per request
	UserAgent  string
	PageSize   int
	MaxPages   int
	Cache      *TagCache // optional
	Logger     logger.Logger
	Now        func() time.Time
}

// Client lists tags through the Docker Registry HTTP API v2.
type Client struct {
	http      *http.Client
	userAgent string
	pageSize  int
	maxPages  int
	cache     *TagCache
	logger    logger.Logger
	now       func() time.Time
}

// NewClient creates a registry client with defaults for every zero option.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "exposure-control/" + version.Version
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		cache:     opts.Cache,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

type tagsPage struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// apiHost maps the reported registry name to the host serving its API.
func apiHost(registry string) string {
	if registry == imageref.DefaultRegistry {
		return dockerHubAPIHost
	}
	return registry
}

// ListTags returns every distinct tag of ref's repository, in registry order.
//
// Pagination follows Link rel="next" up to the configured page ceiling. A 401
// is answered once with a bearer token fetched from the challenge realm.
func (c *Client) ListTags(ctx context.Context, ref imageref.Reference) ([]string, error) {
	key := ref.Repo()
	if c.cache != nil {
		if tags, ok := c.cache.Get(key, c.now()); ok {
			return tags, nil
		}
	}

	next := fmt.Sprintf("https://%s/v2/%s/tags/list?n=%d", apiHost(ref.Registry), ref.Repository, c.pageSize)
	token := ""
	tags := make([]string, 0, c.pageSize)
	seen := make(map[string]struct{}, c.pageSize)

	for pages := 0; next != "" && pages < c.maxPages; pages++ {
		pageURL, err := url.Parse(next)
		if err != nil {
			return nil, fmt.Errorf("invalid tags url %q: %w", next, err)
		}

		page, resp, err := c.fetchPage(ctx, pageURL, token)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if token != "" {
				return nil, ErrUnauthorized
			}
			token, err = c.fetchToken(ctx, resp.Header.Get("WWW-Authenticate"), ref.Repository)
			if err != nil {
				return nil, err
			}
			continue
		}

		for _, tag := range page.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}

		next = nextLink(resp.Header.Get("Link"), pageURL)
	}

	if next != "" {
		c.logger.Debug("tag listing stopped at page ceiling",
			logger.String("repo", key),
			logger.Int("max_pages", c.maxPages))
	}

	if c.cache != nil {
		c.cache.Put(key, tags, c.now())
	}
	return tags, nil
}

// fetchPage performs one listing request. On 401 it returns the response
// with an empty page so the caller can inspect the challenge.
func (c *Client) fetchPage(ctx context.Context, pageURL *url.URL, token string) (tagsPage, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return tagsPage{}, nil, fmt.Errorf("failed to build tags request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return tagsPage{}, nil, fmt.Errorf("failed to request registry API: %w", err)
	}
	defer utils.Close(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return tagsPage{}, resp, nil
	default:
		return tagsPage{}, nil, &StatusError{StatusCode: resp.StatusCode, URL: pageURL.String()}
	}

	var page tagsPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&page); err != nil {
		return tagsPage{}, nil, fmt.Errorf("failed to decode registry API response: %w", err)
	}
	return page, resp, nil
}

// fetchToken exchanges a bearer challenge for a token at the challenge realm.
func (c *Client) fetchToken(ctx context.Context, header, repository string) (string, error) {
	ch, ok := parseChallenge(header)
	if !ok || ch.Scheme != "bearer" {
		return "", fmt.Errorf("unsupported registry auth scheme")
	}
	realm := ch.Params["realm"]
	if realm == "" {
		return "", fmt.Errorf("missing registry auth realm")
	}

	tokenURL, err := url.Parse(realm)
	if err != nil {
		return "", fmt.Errorf("invalid registry auth realm %q: %w", realm, err)
	}
	q := tokenURL.Query()
	if service := ch.Params["service"]; service != "" {
		q.Set("service", service)
	}
	scope := ch.Params["scope"]
	if scope == "" {
		scope = "repository:" + repository + ":pull"
	}
	q.Set("scope", scope)
	tokenURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d)", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("registry token missing in response")
	}
	return token, nil
}
