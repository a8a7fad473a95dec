package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/watchdog/internal/manager"
	"github.com/loykin/watchdog/internal/server"
)

type staticSource []manager.ServiceStatus

func (s staticSource) Snapshot() []manager.ServiceStatus { return s }

func (s staticSource) Status(name string) (manager.ServiceStatus, bool) {
	for _, st := range s {
		if st.Name == name {
			return st, true
		}
	}
	return manager.ServiceStatus{}, false
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAPI(t *testing.T, tls bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src := staticSource{
		{Name: "api", Status: "running", Running: true, PID: 10, StartedAt: started, Restarts: 2, LastProbeOK: true, HealthURL: "http://127.0.0.1:3000/health"},
		{Name: "worker", Status: "restarting", LastExit: "exit status 1"},
	}
	h := server.NewRouter(src, "/api").Handler()
	var ts *httptest.Server
	if tls {
		ts = httptest.NewTLSServer(h)
	} else {
		ts = httptest.NewServer(h)
	}
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_Status(t *testing.T) {
	ts := newAPI(t, false)
	c := New(Config{BaseURL: ts.URL + "/api/", Logger: quietLogger()})
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	all, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "api", all[0].Name)
	assert.Equal(t, 2, all[0].Restarts)
	assert.Equal(t, 2026, all[0].StartedAt.Year())
	assert.True(t, all[1].StartedAt.IsZero())

	w, err := c.ServiceStatus(ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, "restarting", w.Status)
	assert.Equal(t, "exit status 1", w.LastExit)
}

func TestClient_NotFound(t *testing.T) {
	ts := newAPI(t, false)
	c := New(Config{BaseURL: ts.URL + "/api", Logger: quietLogger()})

	_, err := c.ServiceStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second, Logger: quietLogger()})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}

func TestClient_InsecureTLS(t *testing.T) {
	ts := newAPI(t, true)

	strict := New(Config{BaseURL: ts.URL + "/api", Logger: quietLogger()})
	assert.False(t, strict.IsReachable(context.Background()))

	insecure := New(Config{BaseURL: ts.URL + "/api", Insecure: true, Logger: quietLogger()})
	assert.True(t, insecure.IsReachable(context.Background()))
}

func TestClient_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL, Logger: quietLogger()}).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
