// Package healthz exposes a minimal HTTP surface reporting orchestrator
// liveness and per-agent readiness, for container/process supervisors that
// poll over HTTP rather than watching stdout.
package healthz

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// AgentStatus is one agent's reported health, as the lifecycle manager sees it.
type AgentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StatusProvider supplies the current set of agent statuses on demand.
type StatusProvider func() []AgentStatus

// Server serves /healthz (process liveness) and /readyz (per-agent readiness).
type Server struct {
	http *http.Server

	mu       sync.RWMutex
	provider StatusProvider
	started  time.Time
}

// New builds a healthz server bound to addr (e.g. ":8080"). It does not
// start listening until Start is called.
func New(addr string, provider StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{provider: provider, started: time.Now()}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)

	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start begins listening in the background. Call Stop to shut it down.
func (s *Server) Start() {
	go func() {
		_ = s.http.ListenAndServe()
	}()
}

// Stop gracefully shuts the HTTP listener down.
func (s *Server) Stop() error {
	return s.http.Close()
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime_s": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleReadyz(c *gin.Context) {
	s.mu.RLock()
	provider := s.provider
	s.mu.RUnlock()

	var agents []AgentStatus
	if provider != nil {
		agents = provider()
	}

	ready := true
	for _, a := range agents {
		if a.Status != "healthy" {
			ready = false
			break
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{"ready": ready, "agents": agents})
}
