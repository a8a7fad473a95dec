package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/watchdog/internal/manager"
)

// StatusSource is the read side of the monitor.
type StatusSource interface {
	Snapshot() []manager.ServiceStatus
	Status(name string) (manager.ServiceStatus, bool)
}

// Router provides embeddable read-only HTTP handlers for supervised services.
// Endpoints:
//
//	GET {basePath}/status        list of every service
//	GET {basePath}/status/:name  one service; 404 when unknown
//	GET {basePath}/healthz       liveness of the supervisor itself
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status and /api/healthz.
func NewRouter(src StatusSource, basePath string) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register adds the routes to an existing gin router group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleList)
	group.GET("/status/:name", r.handleOne)
	group.GET("/healthz", r.handleHealthz)
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Snapshot())
}

func (r *Router) handleOne(c *gin.Context) {
	name := c.Param("name")
	st, ok := r.src.Status(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// Server is a standalone HTTP server bound to a listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer binds addr and starts serving h in the background. Bind errors are
// returned immediately; later serve errors are logged.
func NewServer(addr string, h http.Handler, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("http server stopped", "addr", ln.Addr().String(), "err", err)
		}
	}()
	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the bound address, useful with ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
