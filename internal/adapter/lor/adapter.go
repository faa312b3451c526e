package lor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"acc_linker/internal/domain"
)

const searchPath = "search.jsp"

// Config holds LinuxOrgRu adapter configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Adapter polls a linux.org.ru user's comment history through the site search.
type Adapter struct {
	httpClient     *http.Client
	baseURL        *url.URL
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	policy         *bluemonday.Policy
	md             *converter.Converter
	logger         *slog.Logger
}

// errPermanent marks responses that retrying will not fix.
var errPermanent = errors.New("permanent failure")

func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &Adapter{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        baseURL,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		policy:         bluemonday.UGCPolicy(),
		md:             newConverter(),
		logger:         logger.With("adapter", string(domain.LinuxOrgRu)),
	}, nil
}

func newConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
}

func (a *Adapter) Kind() domain.AdapterKind {
	return domain.LinuxOrgRu
}

// Poll returns the comments currently listed for user, newest first as the
// site orders them.
func (a *Adapter) Poll(ctx context.Context, user string) ([]domain.Item, error) {
	if user == "" {
		return nil, fmt.Errorf("empty user")
	}

	body, err := a.fetch(ctx, a.searchURL(user))
	if err != nil {
		return nil, fmt.Errorf("fetch comments of %s: %w", user, err)
	}

	comments, err := a.parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse comments of %s: %w", user, err)
	}

	a.logger.Debug("polled comments", "user", user, "comments", len(comments))

	items := make([]domain.Item, 0, len(comments))
	for _, c := range comments {
		items = append(items, c)
	}
	return items, nil
}

func (a *Adapter) searchURL(user string) string {
	q := url.Values{}
	q.Set("range", "COMMENTS")
	q.Set("sort", "DATE")
	q.Set("user", user)

	ref := &url.URL{Path: searchPath, RawQuery: q.Encode()}
	return a.baseURL.ResolveReference(ref).String()
}

func (a *Adapter) fetch(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	var err error

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		body, err = a.doRequest(ctx, target)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errPermanent) || attempt == a.maxAttempts {
			break
		}

		backoff := a.calculateBackoff(attempt)
		a.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", a.maxAttempts, err)
}

func (a *Adapter) doRequest(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "AccLinker/1.0")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, errPermanent)
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (a *Adapter) calculateBackoff(attempt int) time.Duration {
	backoff := a.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > a.maxBackoff {
		backoff = a.maxBackoff
	}
	return backoff
}
