// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/print-station/internal/printer"
	"github.com/thereceipt/print-station/internal/queue"
	"github.com/thereceipt/print-station/internal/registry"
	"github.com/thereceipt/print-station/internal/settings"
)

// HistorySource serves finished requests from durable storage
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]queue.Request, error)
	ByNote(ctx context.Context, noteID string) ([]queue.Request, error)
}

// Server is the API server
type Server struct {
	router      *gin.Engine
	queue       *queue.Service
	registry    *registry.Registry
	settings    *settings.Store
	history     HistorySource
	pool        *printer.Pool
	dialTimeout time.Duration
	proxyPolicy printer.ProxyPolicy
	upgrader    websocket.Upgrader
	logger      *log.Logger
	startedAt   time.Time
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory serves GET /history from durable storage
func WithHistory(h HistorySource) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithPool exposes the status of running stations
func WithPool(p *printer.Pool) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// WithDialTimeout bounds raw socket connects made by the print proxy
func WithDialTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithProxyPolicy limits the ports and hosts /proxy/print may write to
func WithProxyPolicy(p printer.ProxyPolicy) Option {
	return func(s *Server) {
		s.proxyPolicy = p
	}
}

// NewServer creates a new API server
func NewServer(q *queue.Service, reg *registry.Registry, store *settings.Store, opts ...Option) *Server {
	// Set Gin to release mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(corsMiddleware())

	server := &Server{
		router:      router,
		queue:       q,
		registry:    reg,
		settings:    store,
		dialTimeout: printer.DefaultDialTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	// Printer catalogue
	s.router.GET("/profiles", s.handleGetProfiles)
	s.router.GET("/profiles/:id", s.handleGetProfile)

	// Print queue
	s.router.POST("/print-requests", s.handleSubmit)
	s.router.GET("/print-requests", s.handleListPending)
	s.router.GET("/print-requests/:id", s.handleGetRequest)
	s.router.POST("/print-requests/:id/claim", s.handleClaim)
	s.router.POST("/print-requests/:id/release", s.handleRelease)
	s.router.POST("/print-requests/:id/renew", s.handleRenew)
	s.router.POST("/print-requests/:id/complete", s.handleComplete)
	s.router.POST("/print-requests/:id/printed", s.handleMarkPrinted)
	s.router.POST("/print-requests/:id/error", s.handleMarkError)
	s.router.GET("/history", s.handleHistory)

	// Stations
	s.router.GET("/stations", s.handleGetStations)
	s.router.GET("/serial-ports", s.handleSerialPorts)

	// Settings
	s.router.GET("/settings/network-printer-ip", s.handleGetPrinterIP)
	s.router.PUT("/settings/network-printer-ip", s.handleSetPrinterIP)

	// Network printer proxy
	s.router.POST("/proxy/print", s.handleProxyPrint)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"uptime": time.Since(s.startedAt).Round(time.Second).String(),
			"queue":  s.queue.Stats(),
		})
	})
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// handleGetProfiles returns the printer catalogue
func (s *Server) handleGetProfiles(c *gin.Context) {
	c.JSON(200, gin.H{
		"default":   s.registry.Default().ID,
		"profiles":  s.registry.All(),
		"codepages": printer.Codepages(),
	})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.registry.ByID(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, p)
}

// handleSubmit enqueues a print request
func (s *Server) handleSubmit(c *gin.Context) {
	var req struct {
		NoteID  string                 `json:"note_id" binding:"required"`
		Payload map[string]interface{} `json:"payload"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "note_id is required"})
		return
	}

	c.JSON(201, s.queue.Submit(req.Payload, req.NoteID))
}

func (s *Server) handleListPending(c *gin.Context) {
	c.JSON(200, gin.H{"requests": s.queue.ListPending()})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	req, err := s.queue.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, req)
}

func (s *Server) handleClaim(c *gin.Context) {
	var body struct {
		Station string `json:"station" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "station is required"})
		return
	}

	lease, err := s.queue.Claim(c.Param("id"), body.Station)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, lease)
}

func (s *Server) handleRelease(c *gin.Context) {
	var body struct {
		Station string `json:"station"`
		Token   string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "token is required"})
		return
	}

	err := s.queue.Release(queue.Lease{
		RequestID: c.Param("id"),
		Station:   body.Station,
		Token:     body.Token,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// leaseBody carries the token of a lease held by the caller
type leaseBody struct {
	Station string       `json:"station"`
	Token   string       `json:"token" binding:"required"`
	Status  queue.Status `json:"status"`
	Reason  string       `json:"reason"`
}

func (b leaseBody) lease(id string) queue.Lease {
	return queue.Lease{RequestID: id, Station: b.Station, Token: b.Token}
}

func (s *Server) handleRenew(c *gin.Context) {
	var body leaseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "token is required"})
		return
	}

	lease, err := s.queue.Renew(body.lease(c.Param("id")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, lease)
}

// handleComplete reports the outcome of a print on behalf of the lease holder
func (s *Server) handleComplete(c *gin.Context) {
	var body leaseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "token is required"})
		return
	}
	if !body.Status.Terminal() {
		c.JSON(400, gin.H{"error": "status must be printed or error"})
		return
	}

	if err := s.queue.Complete(body.lease(c.Param("id")), body.Status, body.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleMarkPrinted(c *gin.Context) {
	if err := s.queue.MarkPrinted(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleMarkError(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is allowed; the reason is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.queue.MarkError(c.Param("id"), body.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// handleHistory returns finished requests, newest first. With note_id it
// returns every attempt for that note, oldest first.
func (s *Server) handleHistory(c *gin.Context) {
	if noteID := c.Query("note_id"); noteID != "" {
		s.handleNoteHistory(c, noteID)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(400, gin.H{"error": "limit must be a positive integer"})
		return
	}

	if s.history != nil {
		reqs, err := s.history.Recent(c.Request.Context(), limit)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(200, gin.H{"requests": reqs})
		return
	}

	all := s.queue.History()
	reqs := make([]queue.Request, 0, limit)
	for i := len(all) - 1; i >= 0 && len(reqs) < limit; i-- {
		reqs = append(reqs, all[i])
	}
	c.JSON(200, gin.H{"requests": reqs})
}

func (s *Server) handleNoteHistory(c *gin.Context, noteID string) {
	if s.history != nil {
		reqs, err := s.history.ByNote(c.Request.Context(), noteID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if reqs == nil {
			reqs = []queue.Request{}
		}
		c.JSON(200, gin.H{"requests": reqs})
		return
	}

	reqs := []queue.Request{}
	for _, r := range s.queue.History() {
		if r.NoteID == noteID {
			reqs = append(reqs, r)
		}
	}
	c.JSON(200, gin.H{"requests": reqs})
}

// StationStatus is one entry of GET /stations
type StationStatus struct {
	Name      string                `json:"name"`
	Transport printer.TransportKind `json:"transport"`
	Connected bool                  `json:"connected"`
	Drawer    bool                  `json:"cash_drawer"`
	LastError string                `json:"last_error,omitempty"`
}

func (s *Server) handleGetStations(c *gin.Context) {
	stations := []StationStatus{}
	if s.pool != nil {
		names := s.pool.Names()
		sort.Strings(names)
		for _, name := range names {
			a, ok := s.pool.Get(name)
			if !ok {
				continue
			}
			stations = append(stations, StationStatus{
				Name:      name,
				Transport: a.Kind(),
				Connected: a.IsConnected(),
				Drawer:    a.SupportsCashDrawer(),
				LastError: a.LastError(),
			})
		}
	}
	c.JSON(200, gin.H{"stations": stations})
}

func (s *Server) handleSerialPorts(c *gin.Context) {
	c.JSON(200, gin.H{"ports": printer.SerialPorts()})
}

func (s *Server) handleGetPrinterIP(c *gin.Context) {
	c.JSON(200, gin.H{"ip": s.settings.NetworkPrinterIP()})
}

func (s *Server) handleSetPrinterIP(c *gin.Context) {
	var body struct {
		IP string `json:"ip" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"error": "ip is required"})
		return
	}

	if err := s.settings.SetNetworkPrinterIP(body.IP); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(200, gin.H{"ip": s.settings.NetworkPrinterIP()})
}

// handleProxyPrint writes raw bytes to a network printer on behalf of
// clients that cannot open sockets
func (s *Server) handleProxyPrint(c *gin.Context) {
	var req printer.ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, printer.ProxyResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if req.Host == "" || len(req.Data) == 0 {
		c.JSON(400, printer.ProxyResponse{Error: "host and data are required"})
		return
	}
	if err := s.proxyPolicy.Allow(req); err != nil {
		s.logger.Printf("Rejected proxy print to %s:%d: %v", req.Host, req.Port, err)
		c.JSON(400, printer.ProxyResponse{Error: err.Error()})
		return
	}

	n, err := printer.ForwardRaw(c.Request.Context(), req, s.dialTimeout)
	if err != nil {
		s.logger.Printf("Proxy print to %s:%d failed: %v", req.Host, req.Port, err)
		c.JSON(502, printer.ProxyResponse{Error: err.Error()})
		return
	}

	s.logger.Printf("Proxied %d bytes to %s:%d", n, req.Host, req.Port)
	c.JSON(200, printer.ProxyResponse{Success: true, BytesWritten: n})
}

// fail maps domain errors to HTTP status codes
func (s *Server) fail(c *gin.Context, err error) {
	status := 500
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, registry.ErrNotFound):
		status = 404
	case errors.Is(err, queue.ErrAlreadyClaimed), errors.Is(err, queue.ErrLeaseNotHeld):
		status = 409
	case errors.Is(err, settings.ErrEmptyAddress):
		status = 400
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
