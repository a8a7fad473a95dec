package detector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDetector_StatusMapping(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{http.StatusOK, true},
		{http.StatusNotModified, true},
		{http.StatusNoContent, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
		{http.StatusNotFound, false},
	}
	for _, c := range cases {
		srv := statusServer(t, c.code)
		d := HTTPDetector{URL: srv.URL, Timeout: time.Second}
		ok, err := d.Alive(context.Background())
		assert.Equal(t, c.want, ok, "status %d", c.code)
		if !c.want {
			assert.Error(t, err, "status %d should carry a cause", c.code)
		}
		assert.Equal(t, c.want, Probe(context.Background(), d))
	}
}

func TestHTTPDetector_RedirectIsNotFollowed(t *testing.T) {
	target := statusServer(t, http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	d := HTTPDetector{URL: srv.URL, Timeout: time.Second}
	ok, err := d.Alive(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 302")
}

func TestHTTPDetector_TimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	d := HTTPDetector{URL: srv.URL, Timeout: 150 * time.Millisecond}
	start := time.Now()
	ok := Probe(context.Background(), d)
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.Less(t, elapsed, time.Second, "probe must return near its timeout")
}

func TestHTTPDetector_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	d := HTTPDetector{URL: "http://" + addr + "/health", Timeout: time.Second}
	ok, err := d.Alive(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestHTTPDetector_InvalidURLNeverPanics(t *testing.T) {
	d := HTTPDetector{URL: "http://[::1", Timeout: time.Second}
	assert.False(t, Probe(context.Background(), d))
	assert.False(t, Probe(context.Background(), nil))
	assert.Equal(t, "http://[::1", d.Describe()[len("http:"):])
}

func TestHTTPDetector_ConcurrentProbesIndependent(t *testing.T) {
	block := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		slow.Close()
	})
	fast := statusServer(t, http.StatusOK)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Probe(context.Background(), HTTPDetector{URL: slow.URL, Timeout: 2 * time.Second})
	}()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.True(t, Probe(context.Background(), HTTPDetector{URL: fast.URL, Timeout: time.Second}))
	}
	assert.Less(t, time.Since(start), time.Second, "fast probes must not wait behind a hanging one")
	wg.Wait()
}
