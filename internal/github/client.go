// Package github is a small client for the GitHub REST endpoints used to
// resolve image history without a local checkout.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nomdn/dress-api/internal/config"
	"github.com/nomdn/dress-api/internal/enumerate"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/retry"
	"github.com/nomdn/dress-api/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrPermanent marks a 4xx response other than 404 and 429. It is never retried.
var ErrPermanent = errors.New("permanent remote error")

var errNotFound = errors.New("not found")

// Client calls the GitHub REST API for one repository.
type Client struct {
	apiURL  string
	owner   string
	repo    string
	token   string
	perPage int
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its retrying transport.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for cfg.Owner/cfg.Repo. Requests go through a retrying
// transport and are spaced by cfg.MinInterval.
func New(cfg config.GitHubConfig, opts ...Option) *Client {
	c := &Client{
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		token:   cfg.Token,
		perPage: cfg.PerPage,
		logger:  zap.NewNop(),
	}
	if c.perPage <= 0 || c.perPage > 100 {
		c.perPage = 100
	}
	if cfg.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.http == nil {
		tr := retry.NewTransport(nil, retry.Policy{
			MaxRetries:     cfg.MaxRetries,
			BaseDelay:      cfg.BaseDelay,
			AttemptTimeout: cfg.Timeout,
		}, retry.WithLogger(c.logger))
		tr.OnRetry = func(int, time.Duration) { metrics.RemoteRetries.Inc() }
		c.http = &http.Client{Transport: tr}
	}
	return c
}

type commitJSON struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Date  string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// ListCommits returns the commits touching path, newest first.
// A 404 yields no commits; other client errors wrap ErrPermanent.
func (c *Client) ListCommits(ctx context.Context, path string) ([]models.Commit, error) {
	var commits []models.Commit
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("path", path)
		q.Set("per_page", strconv.Itoa(c.perPage))
		q.Set("page", strconv.Itoa(page))

		var batch []commitJSON
		err := c.get(ctx, c.repoPath("commits"), q, &batch)
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list commits for %s: %w", path, err)
		}
		for _, item := range batch {
			a := item.Commit.Author
			commits = append(commits, models.Commit{
				Hash:   item.SHA,
				Author: models.Contributor{Name: a.Name, Email: a.Email},
				Date:   a.Date,
			})
		}
		if len(batch) < c.perPage {
			return commits, nil
		}
	}
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.get(ctx, c.repoPath(""), nil, &repo); err != nil {
		return "", fmt.Errorf("get repository %s/%s: %w", c.owner, c.repo, err)
	}
	if repo.DefaultBranch == "" {
		return "", fmt.Errorf("repository %s/%s reports no default branch", c.owner, c.repo)
	}
	return repo.DefaultBranch, nil
}

// List returns the image paths in the default branch tree, sorted ascending.
func (c *Client) List(ctx context.Context) ([]string, error) {
	branch, err := c.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	q := url.Values{}
	q.Set("recursive", "1")
	if err := c.get(ctx, c.repoPath("git/trees/"+url.PathEscape(branch)), q, &tree); err != nil {
		return nil, fmt.Errorf("list tree %s: %w", branch, err)
	}
	if tree.Truncated {
		c.logger.Warn("repository tree listing truncated", zap.String("branch", branch))
	}
	var paths []string
	for _, entry := range tree.Tree {
		if entry.Type == "blob" && enumerate.IsImage(entry.Path) {
			paths = append(paths, entry.Path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (c *Client) repoPath(suffix string) string {
	p := "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "dress-api")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	metrics.ObserveRemote(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNotFound
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: GET %s: status %d: %s", ErrPermanent, path, resp.StatusCode,
			utils.Truncate(strings.TrimSpace(string(body)), 200))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
