package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/craftctl/internal/backup"
	"github.com/loykin/craftctl/internal/supervisor"
)

// Router provides embeddable HTTP handlers for driving the server lifecycle.
// Endpoints:
//   GET  {basePath}/status     liveness and PID of the managed server
//   POST {basePath}/start      bring the server up
//   POST {basePath}/stop       relay the stop command and wait the server out
//   POST {basePath}/restart    stop then start
//   GET  {basePath}/backups    list snapshots, newest first
//   POST {basePath}/backups    create a snapshot now
//   POST {basePath}/command    body {"commands": [...]}, relayed in order
//   GET  {basePath}/healthz    health of the admin process itself
// basePath may be empty or start with '/'; no trailing slash.

// Controller is the slice of the craftctl facade the handlers drive.
type Controller interface {
	Status() (supervisor.Status, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Backup(ctx context.Context) (string, error)
	Backups() ([]backup.Entry, error)
	Send(ctx context.Context, commands ...string) error
}

type Router struct {
	ctrl     Controller
	basePath string
	token    string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/start, ...
func NewRouter(ctrl Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

// SetToken puts every endpoint except healthz behind a static bearer
// token. healthz stays open so liveness probes need no secret. An empty
// token leaves the API open.
func (r *Router) SetToken(token string) {
	r.token = token
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)

	protected := group.Group("")
	if r.token != "" {
		protected.Use(requireToken(r.token))
	}
	protected.GET("/status", r.handleStatus)
	protected.POST("/start", r.handleStart)
	protected.POST("/stop", r.handleStop)
	protected.POST("/restart", r.handleRestart)
	protected.GET("/backups", r.handleListBackups)
	protected.POST("/backups", r.handleCreateBackup)
	protected.POST("/command", r.handleCommand)
	return g
}

func requireToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResp{Error: "authentication required"})
			return
		}
		c.Next()
	}
}

// NewServer starts a standalone HTTP server on addr using this router. A
// non-nil tlsConf upgrades it to HTTPS. The returned server is already
// listening; callers stop it with Shutdown or Close.
func NewServer(addr string, r *Router, tlsConf *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsConf != nil {
			_ = server.ListenAndServeTLS("", "")
		} else {
			_ = server.ListenAndServe()
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type backupResp struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
}

type commandReq struct {
	Commands []string `json:"commands"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.ctrl.Status()
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.ctrl.Start(c.Request.Context()); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.ctrl.Stop(c.Request.Context()); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.ctrl.Restart(c.Request.Context()); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListBackups(c *gin.Context) {
	entries, err := r.ctrl.Backups()
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	if entries == nil {
		// an empty list is [] on the wire, not null
		entries = []backup.Entry{}
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleCreateBackup(c *gin.Context) {
	path, err := r.ctrl.Backup(c.Request.Context())
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, backupResp{OK: true, Path: path})
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(req.Commands) == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "commands required"})
		return
	}
	for _, cmd := range req.Commands {
		if !isSafeCommand(cmd) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid command: must be one non-empty line"})
			return
		}
	}
	if err := r.ctrl.Send(c.Request.Context(), req.Commands...); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleHealthz reports on the admin process, not the managed server; a
// stopped server is a normal state here, visible through /status.
func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
