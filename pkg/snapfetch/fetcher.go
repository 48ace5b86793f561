// Package snapfetch fetches Debian archive files and index files over HTTP,
// with retry/backoff on transient failures, cooperative concurrency and
// byte-rate caps, and an in-memory LRU for recently fetched small index
// files.
package snapfetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/function61/snapshotd/pkg/snaphash"
)

// Options configure a single Fetch() call.
type Options struct {
	ExpectedSha256 *snaphash.Sum
	ExpectedSize   *uint64
	// Destination, if set, streams the body straight to disk via
	// snaphash.StreamToFile instead of buffering it in memory.
	Destination string
	// RetainPartOnError keeps the ".part" sibling file of an aborted
	// Destination write instead of deleting it (spec §5's
	// no_clean_part_file).
	RetainPartOnError bool
	// Cacheable marks this URL as eligible for the in-memory index LRU
	// (only ever set for small Release/Packages/Sources fetches).
	Cacheable bool
	// PerRequestDeadline bounds a single HTTP attempt; every retry gets a
	// fresh deadline. Zero means Config.PerRequestTimeout.
	PerRequestDeadline time.Duration
}

// Result describes a completed fetch.
type Result struct {
	StatusCode int
	FinalURL   string
	Body       []byte // set when Destination was empty
	Path       string // set when Destination was non-empty
	Sum        snaphash.Sum
	Size       uint64
	FromCache  bool
}

// Config tunes the cooperative caps applied across every Fetch call sharing
// a Fetcher. A zero BytesPerSecond disables the rate cap; zero concurrency
// values fall back to 1, and zero timeouts, retries and backoffs fall back
// to built-in defaults.
type Config struct {
	GlobalConcurrency int
	PerHostConcurrency int
	BytesPerSecond    int // 0 disables the rate cap
	PerRequestTimeout time.Duration
	TotalTimeout      time.Duration
	CacheCapacity     int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// DefaultConfig mirrors original_source/lib/downloads.py's constants
// (5 second fixed-ish wait, a generous retry budget) but with capped
// exponential backoff and jitter instead of a fixed wait.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:  16,
		PerHostConcurrency: 4,
		BytesPerSecond:     0,
		PerRequestTimeout:  30 * time.Second,
		TotalTimeout:       10 * time.Minute,
		CacheCapacity:      1024,
		MaxRetries:         8,
		BackoffBase:        500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
	}
}

// Fetcher is the shared state behind every Fetch() call: the HTTP client,
// concurrency gates, the byte-rate limiter and the index cache. One Fetcher
// is meant to be shared by every worker in an ingestion run, the same way
// storeplication.Controller's job queue is shared by its runner pool.
type Fetcher struct {
	client *http.Client
	cfg    Config

	globalSem chan struct{}
	perHostN  map[string]chan struct{} // host -> semaphore, built lazily
	perHostMu sync.Mutex

	limiter *rate.Limiter
	cache   *indexCache
}

func New(cfg Config, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.BytesPerSecond > 0 {
		// burst must cover a single read buffer's worth of bytes, or WaitN
		// rejects outright instead of waiting.
		limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), maxInt(cfg.BytesPerSecond, 64*1024))
	}

	global := cfg.GlobalConcurrency
	if global <= 0 {
		global = 1
	}

	return &Fetcher{
		client:    client,
		cfg:       cfg,
		globalSem: make(chan struct{}, global),
		perHostN:  map[string]chan struct{}{},
		limiter:   limiter,
		cache:     newIndexCache(maxInt(cfg.CacheCapacity, 1)),
	}
}

// Fetch retrieves url, following redirects, retrying transient failures with
// capped exponential backoff and jitter, and enforcing this Fetcher's
// concurrency and byte-rate caps.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	total := f.cfg.TotalTimeout
	if total <= 0 {
		total = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	releaseHost := f.acquireHost(ctx, url)
	defer releaseHost()

	if err := f.acquireGlobal(ctx); err != nil {
		return nil, err
	}
	defer f.releaseGlobal()

	maxRetries := f.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, f.cfg, attempt); err != nil {
				return nil, err
			}
		}

		result, err := f.fetchOnce(ctx, url, opts)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("snapfetch: %s: giving up after %d attempts: %w", url, maxRetries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, opts Options) (*Result, error) {
	perRequest := opts.PerRequestDeadline
	if perRequest <= 0 {
		perRequest = f.cfg.PerRequestTimeout
	}
	if perRequest <= 0 {
		perRequest = 30 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, perRequest)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err // malformed URL, not retryable
	}

	var cached cacheEntry
	haveCached := false
	if opts.Cacheable && opts.Destination == "" {
		if entry, ok := f.cache.get(url); ok {
			cached, haveCached = entry, true
			req.Header.Set("If-None-Match", entry.validator)
			req.Header.Set("If-Modified-Since", entry.validator)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if haveCached && resp.StatusCode == http.StatusNotModified {
		if err := snaphash.VerifyBytes(cached.body, opts.ExpectedSha256, opts.ExpectedSize); err != nil {
			return nil, classifyStreamErr(err)
		}
		return &Result{StatusCode: resp.StatusCode, FinalURL: url, Body: cached.body, FromCache: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		if isRetryableStatus(resp.StatusCode) {
			return nil, &TransientError{Err: &StatusError{URL: url, StatusCode: resp.StatusCode}}
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.limiter != nil {
		body = &rateLimitedReader{ctx: reqCtx, r: resp.Body, limiter: f.limiter}
	}

	validator := cacheValidator(resp.Header)
	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if opts.Destination != "" {
		streamResult, err := snaphash.StreamToFile(body, opts.Destination, opts.ExpectedSha256, opts.ExpectedSize, opts.RetainPartOnError)
		if err != nil {
			return nil, classifyStreamErr(err)
		}

		return &Result{
			StatusCode: resp.StatusCode,
			FinalURL:   finalURL,
			Path:       opts.Destination,
			Sum:        streamResult.Sum,
			Size:       streamResult.Size,
		}, nil
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if err := snaphash.VerifyBytes(buf, opts.ExpectedSha256, opts.ExpectedSize); err != nil {
		return nil, classifyStreamErr(err)
	}

	if opts.Cacheable {
		f.cache.put(url, validator, buf)
	}

	return &Result{StatusCode: resp.StatusCode, FinalURL: finalURL, Body: buf}, nil
}

func (f *Fetcher) acquireGlobal(ctx context.Context) error {
	select {
	case f.globalSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) releaseGlobal() {
	<-f.globalSem
}

func (f *Fetcher) acquireHost(ctx context.Context, url string) func() {
	host := hostOf(url)

	f.perHostMu.Lock()
	sem, ok := f.perHostN[host]
	if !ok {
		n := f.cfg.PerHostConcurrency
		if n <= 0 {
			n = 1
		}
		sem = make(chan struct{}, n)
		f.perHostN[host] = sem
	}
	f.perHostMu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return func() {}
	}

	return func() { <-sem }
}

// hostOf extracts scheme://host[:port] worth of string to key the per-host
// semaphore, without pulling in net/url just to split a host out.
func hostOf(rawURL string) string {
	const schemeSep = "://"
	idx := indexOf(rawURL, schemeSep)
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+len(schemeSep):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func cacheValidator(h http.Header) string {
	if etag := h.Get("ETag"); etag != "" {
		return etag
	}
	return h.Get("Last-Modified")
}

func isRetryable(err error) bool {
	var transient *TransientError
	return asTransient(err, &transient)
}

func asTransient(err error, target **TransientError) bool {
	for err != nil {
		if t, ok := err.(*TransientError); ok {
			*target = t
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func classifyStreamErr(err error) error {
	if _, ok := err.(*snaphash.MismatchError); ok {
		return err // fatal: hash/size mismatch after a full read, per spec §4.2
	}
	return &TransientError{Err: err}
}

func sleepBackoff(ctx context.Context, cfg Config, attempt int) error {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}

	backoff := base << uint(attempt-1)
	if backoff <= 0 || backoff > max { // guard against overflow from the shift
		backoff = max
	}

	jittered := time.Duration(rand.Int63n(int64(backoff)/2+1)) + backoff/2

	select {
	case <-time.After(jittered):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
