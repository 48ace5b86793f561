package snapfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/function61/gokit/assert"

	"github.com/function61/snapshotd/pkg/snaphash"
)

func TestFetchRetriesOn503ThenSucceeds(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	fetcher := New(cfg, srv.Client())

	result, err := fetcher.Fetch(context.Background(), srv.URL, Options{})
	assert.Ok(t, err)

	assert.EqualString(t, string(result.Body), "ok")
	assert.Assert(t, calls == 3)
}

func TestFetchFatalOn404DoesNotRetry(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond

	fetcher := New(cfg, srv.Client())

	_, err := fetcher.Fetch(context.Background(), srv.URL, Options{})
	assert.Assert(t, err != nil)

	statusErr, ok := err.(*StatusError)
	assert.Assert(t, ok)
	assert.Assert(t, statusErr.StatusCode == http.StatusNotFound)

	// no retry on 404
	assert.Assert(t, calls == 1)
}

func TestFetchConditionalGetServesFromCache(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("index contents"))
	}))
	defer srv.Close()

	fetcher := New(DefaultConfig(), srv.Client())

	first, err := fetcher.Fetch(context.Background(), srv.URL, Options{Cacheable: true})
	assert.Ok(t, err)
	assert.EqualString(t, string(first.Body), "index contents")

	second, err := fetcher.Fetch(context.Background(), srv.URL, Options{Cacheable: true})
	assert.Ok(t, err)

	assert.Assert(t, second.FromCache)
	assert.EqualString(t, string(second.Body), "index contents")
	// one real round trip plus one conditional
	assert.Assert(t, calls == 2)
}

func TestFetchBufferedPathVerifiesChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Packages contents"))
	}))
	defer srv.Close()

	fetcher := New(DefaultConfig(), srv.Client())

	wrongSum, err := snaphash.ParseHex(strings.Repeat("0", 64))
	assert.Ok(t, err)

	_, err = fetcher.Fetch(context.Background(), srv.URL, Options{
		Cacheable:      true,
		ExpectedSha256: &wrongSum,
	})
	assert.Assert(t, err != nil)

	_, ok := err.(*snaphash.MismatchError)
	assert.Assert(t, ok)
}
