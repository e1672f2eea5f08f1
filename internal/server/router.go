// Package server exposes a read-only HTTP view of the running application:
// built services, the process registry and prometheus metrics.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	mng "github.com/loykin/symbiont/internal/manager"
	"github.com/loykin/symbiont/internal/metrics"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/store"
)

// Router serves:
//
//	GET {basePath}/healthz
//	GET {basePath}/services          built services in start order
//	GET {basePath}/services/:name    one service
//	GET {basePath}/processes         query: status=RUNNING (optional)
//	GET {basePath}/processes/:pid
//	GET {basePath}/metrics
//
// The manager and the registry are looked up in the scope on every request,
// so the router works regardless of the order services were built in.
type Router struct {
	scope    *scope.Scope
	basePath string
	gatherer prometheus.Gatherer
}

// registrySource is satisfied by the supervisor service.
type registrySource interface {
	Store() *store.Store
}

// NewRouter constructs a Router reading from s. A nil gatherer serves the
// default prometheus registry.
func NewRouter(s *scope.Scope, basePath string, gatherer prometheus.Gatherer) *Router {
	return &Router{scope: s, basePath: sanitizeBase(basePath), gatherer: gatherer}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.GET("/services", r.handleServices)
	group.GET("/services/:name", r.handleService)
	group.GET("/processes", r.handleProcesses)
	group.GET("/processes/:pid", r.handleProcess)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	} else {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) manager() (*mng.Manager, bool) {
	return scope.Get[*mng.Manager](r.scope)
}

func (r *Router) registry() (*store.Store, bool) {
	if src, ok := scope.Get[registrySource](r.scope); ok && src.Store() != nil {
		return src.Store(), true
	}
	return scope.Get[*store.Store](r.scope)
}

func (r *Router) handleServices(c *gin.Context) {
	m, ok := r.manager()
	if !ok {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no service manager"})
		return
	}
	writeJSON(c, http.StatusOK, m.Describe())
}

func (r *Router) handleService(c *gin.Context) {
	m, ok := r.manager()
	if !ok {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no service manager"})
		return
	}
	name := c.Param("name")
	for _, info := range m.Describe() {
		if info.Name == name {
			writeJSON(c, http.StatusOK, info)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
}

func (r *Router) handleProcesses(c *gin.Context) {
	st, ok := r.registry()
	if !ok {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no process registry"})
		return
	}
	status, err := store.ParseStatus(c.Query("status"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	procs, err := st.GetProcesses(c.Request.Context(), status)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]store.Record, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Snapshot())
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleProcess(c *gin.Context) {
	st, ok := r.registry()
	if !ok {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no process registry"})
		return
	}
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid must be a positive integer"})
		return
	}
	p, err := st.GetProcess(c.Request.Context(), pid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, p.Snapshot())
	}
}
