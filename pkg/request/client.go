package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"mediaprobe/pkg/config"
	"mediaprobe/pkg/media"
	"mediaprobe/pkg/tracker"
	"mediaprobe/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("mediaprobe/%s (+duration probe)", version.Version)

var (
	// ErrUnsupportedScheme is returned for URLs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrInvalidURL is returned for URLs that cannot be fetched at all.
	ErrInvalidURL = errors.New("invalid url")
	// ErrTooLarge is returned when a download exceeds the size cap.
	ErrTooLarge = errors.New("remote file too large")
)

// StatusError reports a non-retryable HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

// queueGap spaces out sequential requests to the same host.
const queueGap = 100 * time.Millisecond

// Client downloads remote media with per-host queuing, retries and backoff.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff

	attempts  int
	baseDelay time.Duration
	maxBytes  int64

	// Queues per host
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. maxBytes caps the size of a single download.
func New(cfg config.RequestConfig, maxBytes int64, t *tracker.Tracker) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout)},
		tracker:    t,
		backoff:    NewProviderBackoff(time.Duration(cfg.Backoff.BaseDelay), time.Duration(cfg.Backoff.MaxDelay)),
		attempts:   max(cfg.Retries, 1),
		baseDelay:  time.Duration(cfg.Backoff.BaseDelay),
		maxBytes:   maxBytes,
		queues:     make(map[string]chan job),
	}
}

// Fetch downloads rawURL and returns it as a media source named after the last path element.
func (c *Client) Fetch(ctx context.Context, rawURL string) (media.Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.Source{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return media.Source{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return media.Source{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	body, err := c.Get(ctx, u.String())
	if err != nil {
		return media.Source{}, err
	}
	return media.FromBytes(sourceName(u), body), nil
}

// Get performs a queued GET request and returns the body.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	host := normalizeHost(parsedURL.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	respChan := make(chan jobResult, 1)
	c.dispatch(host, job{req: req, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func sourceName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "download"
	}
	return name
}

// normalizeHost groups www. and bare hosts into one queue.
func normalizeHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// dispatch sends the job to the host's queue, creating the queue/worker if needed.
func (c *Client) dispatch(host string, j job) {
	c.mu.Lock()
	q, ok := c.queues[host]
	if !ok {
		q = make(chan job, 100)
		c.queues[host] = q
		go c.worker(host, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific host sequentially.
func (c *Client) worker(host string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Request: job dropped from queue (context expired)", "host", host, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if err := c.backoff.Wait(ctx, host); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		body, err := c.executeWithBackoff(j.req)
		if err == nil {
			c.backoff.RecordSuccess(host)
			c.tracker.TrackSuccess("remote:"+host, "")
		} else {
			if ctx.Err() == nil {
				c.backoff.RecordFailure(host)
			}
			c.tracker.TrackFailure("remote:" + host)
		}

		j.respChan <- jobResult{body: body, err: err}

		time.Sleep(queueGap)
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	ctx := req.Context()

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
			select {
			case <-time.After(sleepDur):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Debug("Request: network request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Request: failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("Request: server backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode}
		}

		body, err := c.readBody(resp)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	r := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		r = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	return body, nil
}
