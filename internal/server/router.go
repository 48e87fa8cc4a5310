package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/coinwatch/internal/scheduler"
	"github.com/loykin/coinwatch/internal/state"
)

// Watcher is the slice of the scheduler the HTTP API drives.
type Watcher interface {
	Pause()
	Resume()
	Status() scheduler.Status
}

// Router provides embeddable HTTP handlers for operating the watcher.
// Endpoints:
//
//	GET  {basePath}/status       scheduler snapshot
//	GET  {basePath}/products     persisted product records
//	POST {basePath}/pause        suspend checking
//	POST {basePath}/resume       resume checking
//	POST {basePath}/cart/reset   clear cart marks
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	watch     Watcher
	stateFile string
	stateMu   *sync.Mutex
	basePath  string
}

// NewRouter constructs a Router. stateMu must be the mutex shared with the
// scheduler and the command handler.
func NewRouter(watch Watcher, stateFile string, stateMu *sync.Mutex, basePath string) *Router {
	return &Router{watch: watch, stateFile: stateFile, stateMu: stateMu, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/products", r.handleProducts)
	group.POST("/pause", r.handlePause)
	group.POST("/resume", r.handleResume)
	group.POST("/cart/reset", r.handleCartReset)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, watch Watcher, stateFile string, stateMu *sync.Mutex) (*http.Server, error) {
	r := NewRouter(watch, stateFile, stateMu, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// sanitizeBase normalizes a mount prefix: empty or "/" mounts at the root,
// anything else gets a leading slash and loses trailing ones.
func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.watch.Status())
}

func (r *Router) handleProducts(c *gin.Context) {
	r.stateMu.Lock()
	st, err := state.Load(r.stateFile)
	r.stateMu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handlePause(c *gin.Context) {
	r.watch.Pause()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResume(c *gin.Context) {
	r.watch.Resume()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCartReset(c *gin.Context) {
	r.stateMu.Lock()
	st, err := state.Load(r.stateFile)
	if err == nil {
		st.ClearCartMarks()
		err = state.Save(st, r.stateFile)
	}
	r.stateMu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}
