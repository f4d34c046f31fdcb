// Package mirror fetches the published index pair from CDN mirrors of the
// repository. It is the fallback when no pair can be loaded or built locally.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nomdn/dress-api/internal/config"
	"github.com/nomdn/dress-api/internal/escape"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/retry"
	"github.com/nomdn/dress-api/internal/storage"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when every mirror failed for a document.
var ErrUnavailable = errors.New("no mirror could serve the document")

// maxDocumentBytes caps a single mirrored document.
const maxDocumentBytes = 64 << 20

// Fetcher tries each base URL in order until one serves the document.
type Fetcher struct {
	bases  []string
	path   string
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) { f.http = hc }
}

// New returns a Fetcher for cfg. Each mirror is bounded by cfg.Timeout and
// retried cfg.MaxRetries times before the next one is tried.
func New(cfg config.MirrorConfig, opts ...Option) *Fetcher {
	f := &Fetcher{
		bases:  cfg.BaseURLs,
		path:   strings.Trim(cfg.Path, "/"),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.http == nil {
		tr := retry.NewTransport(nil, retry.Policy{
			MaxRetries:     cfg.MaxRetries,
			BaseDelay:      500 * time.Millisecond,
			AttemptTimeout: cfg.Timeout,
		}, retry.WithLogger(f.logger))
		tr.OnRetry = func(int, time.Duration) { metrics.RemoteRetries.Inc() }
		f.http = &http.Client{Transport: tr}
	}
	return f
}

// URL returns the address of name under base.
func (f *Fetcher) URL(base, name string) string {
	u := strings.TrimRight(base, "/") + "/"
	if f.path != "" {
		u += f.path + "/"
	}
	return u + name
}

// Fetch returns the first well-formed JSON body any mirror serves for name.
func (f *Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	var errs []error
	for _, base := range f.bases {
		u := f.URL(base, name)
		body, err := f.get(ctx, u)
		if err == nil {
			f.logger.Info("fetched index from mirror", zap.String("url", u), zap.Int("bytes", len(body)))
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("mirror failed, trying next", zap.String("url", u), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, errors.Join(errs...))
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", u, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: body is not JSON", u)
	}
	return body, nil
}

// FetchSnapshot fetches and decodes both documents. Paths are escaped again,
// which leaves already escaped paths unchanged.
func (f *Fetcher) FetchSnapshot(ctx context.Context) (*models.Snapshot, error) {
	rawMaster, err := f.Fetch(ctx, storage.MasterFile)
	if err != nil {
		return nil, err
	}
	rawAuthors, err := f.Fetch(ctx, storage.AuthorFile)
	if err != nil {
		return nil, err
	}
	var master models.MasterIndex
	if err := json.Unmarshal(rawMaster, &master); err != nil {
		return nil, fmt.Errorf("decode %s: %w", storage.MasterFile, err)
	}
	var authors models.AuthorIndex
	if err := json.Unmarshal(rawAuthors, &authors); err != nil {
		return nil, fmt.Errorf("decode %s: %w", storage.AuthorFile, err)
	}
	if master == nil {
		master = models.MasterIndex{}
	}
	if authors == nil {
		authors = models.AuthorIndex{}
	}
	return &models.Snapshot{
		BuiltAt: f.now(),
		Master:  escape.EscapeMaster(master),
		Authors: escape.EscapeAuthor(authors),
	}, nil
}
