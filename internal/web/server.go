// Package web provides the HTTP status page, the REST control API and the
// websocket event feed for the pcf-relay daemon.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/actuator"
	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/logic"
	"github.com/sweeney/pcf-relay/internal/status"
)

// ActuatorSet is the part of actuator.Set the API needs.
type ActuatorSet interface {
	Get(name string) (*actuator.Controller, error)
	Statuses() []actuator.Status
}

// RegisterSource exposes the register mirror.
type RegisterSource interface {
	Snapshot() map[uint16]uint8
}

// Deps are the components the server reads from and acts on.
type Deps struct {
	Tracker   *status.Tracker
	Actuators ActuatorSet
	Registers RegisterSource
	Hub       *Hub // nil disables /ws
}

// Server serves the status page and the API over HTTP.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	deps       Deps
	logger     *zap.Logger
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))

	s.router.GET("/", s.handleIndex)
	s.router.GET("/index.html", s.handleIndex)
	s.router.GET("/index.json", s.handleJSON)
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		acts := v1.Group("/actuators")
		{
			acts.GET("", s.listActuators)
			acts.GET("/:name", s.getActuator)
			acts.POST("/:name/engage", s.engage)
			acts.POST("/:name/disengage", s.disengage)
			acts.PUT("/:name/power", s.setPower)
		}
		v1.GET("/registers", s.getRegisters)
	}

	if s.deps.Hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	snap := s.deps.Tracker.Snapshot()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, snap, s.deps.Hub != nil); err != nil {
		s.logger.Warn("render status page", zap.Error(err))
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	snap := s.deps.Tracker.Snapshot()
	c.Data(http.StatusOK, "application/json", status.FormatJSON(snap))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listActuators(c *gin.Context) {
	infos := status.ActuatorInfos(s.deps.Actuators.Statuses())
	out := make([]status.ActuatorJSON, 0, len(infos))
	for _, a := range infos {
		out = append(out, status.Actuator(a))
	}
	c.JSON(http.StatusOK, ActuatorsResponse{Actuators: out})
}

func (s *Server) getActuator(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, actuatorJSON(ctrl))
}

func (s *Server) engage(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}

	// The body is optional; chunked requests report ContentLength -1, so an
	// empty body shows up as io.EOF from the decoder.
	power := logic.FullPower
	var req PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse("REQUEST_400", "Invalid request body", err.Error()))
		return
	}
	if req.Power != nil {
		power = *req.Power
	}

	if err := ctrl.Engage(power); err != nil {
		s.writeFailed(c, ctrl, err)
		return
	}
	c.JSON(http.StatusOK, actuatorJSON(ctrl))
}

func (s *Server) disengage(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := ctrl.Disengage(); err != nil {
		s.writeFailed(c, ctrl, err)
		return
	}
	c.JSON(http.StatusOK, actuatorJSON(ctrl))
}

func (s *Server) setPower(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}

	var req PowerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Power == nil {
		details := "power is required"
		if err != nil {
			details = err.Error()
		}
		c.JSON(http.StatusBadRequest, NewErrorResponse("REQUEST_400", "Invalid request body", details))
		return
	}

	ctrl.SetPower(*req.Power)
	c.JSON(http.StatusOK, actuatorJSON(ctrl))
}

func (s *Server) getRegisters(c *gin.Context) {
	c.JSON(http.StatusOK, RegistersResponse{Registers: status.Registers(s.deps.Registers.Snapshot())})
}

func (s *Server) lookup(c *gin.Context) (*actuator.Controller, bool) {
	ctrl, err := s.deps.Actuators.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("ACTUATOR_404", "Actuator not found", c.Param("name")))
		return nil, false
	}
	return ctrl, true
}

// writeFailed reports a refused or failed pin write. After a bus failure the
// logical state has already changed and the control loop retries, so the
// body still carries it.
func (s *Server) writeFailed(c *gin.Context, ctrl *actuator.Controller, err error) {
	_ = c.Error(err)
	code := "ACTUATOR_500"
	httpStatus := http.StatusInternalServerError
	switch {
	case errors.Is(err, expander.ErrBusWrite):
		code = "BUS_502"
		httpStatus = http.StatusBadGateway
	case errors.Is(err, actuator.ErrStopped):
		code = "ACTUATOR_503"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, NewErrorResponse(code, "Pin write failed", gin.H{
		"error":    err.Error(),
		"actuator": actuatorJSON(ctrl),
	}))
}

func actuatorJSON(ctrl *actuator.Controller) status.ActuatorJSON {
	return status.Actuator(status.ActuatorInfos([]actuator.Status{ctrl.Status()})[0])
}
