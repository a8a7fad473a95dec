package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a probe when no timeout is configured.
const DefaultProbeTimeout = 3 * time.Second

// HTTPDetector probes a liveness endpoint with a single GET request.
// Only 200 and 304 count as healthy.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client // optional; a shared client is used when nil
}

// probeClient does not follow redirects: the endpoint's own status decides,
// so a 302 is unhealthy even when its target answers 200.
var probeClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	},
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// Alive issues the probe and returns the outcome with the cause of a failure.
func (d HTTPDetector) Alive(ctx context.Context) (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, err
	}
	client := d.Client
	if client == nil {
		client = probeClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotModified:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }

// Probe reduces a detector outcome to a boolean. It never panics on a nil
// detector and never blocks longer than the detector's own timeout.
func Probe(ctx context.Context, d Detector) bool {
	if d == nil {
		return false
	}
	ok, _ := d.Alive(ctx)
	return ok
}
