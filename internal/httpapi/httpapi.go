// Package httpapi serves the dispatcher over HTTP as JSON.
//
//	POST /v1/ops/:op   run one operation; the body is its argument object
//	GET  /v1/ops       list operations with their covenant class
//	GET  /healthz      liveness and open context count
//	GET  /metrics      Prometheus exposition
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Server is the HTTP adapter.
type Server struct {
	d        *dispatch.Dispatcher
	contexts func() int
	router   *gin.Engine
	logger   *slog.Logger
}

// New builds the router. gatherer may be nil to disable /metrics;
// contexts reports the open context count for /healthz.
func New(d *dispatch.Dispatcher, gatherer prometheus.Gatherer, contexts func() int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if contexts == nil {
		contexts = func() int { return 0 }
	}
	router := gin.New()
	s := &Server{d: d, contexts: contexts, router: router, logger: logger}

	router.Use(gin.Recovery(), s.logRequests)

	router.GET("/healthz", s.handleHealthz)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/ops", s.handleListOps)
		v1.POST("/ops/:op", s.handleOp)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "contexts": s.contexts()})
}

func (s *Server) handleListOps(c *gin.Context) {
	policy := dispatch.Policy()
	ops := make([]gin.H, 0)
	for _, op := range dispatch.Ops() {
		ops = append(ops, gin.H{"op": op, "class": policy.ClassOf(op)})
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}

func (s *Server) handleOp(c *gin.Context) {
	op := c.Param("op")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, &dispatch.Response{Op: op, Error: &dispatch.Error{
			Code:    dispatch.CodeValidation,
			Field:   "body",
			Message: err.Error(),
		}})
		return
	}
	resp := s.d.DispatchRaw(c.Request.Context(), op, raw)
	c.JSON(statusOf(resp), resp)
}

// statusOf maps a response onto an HTTP status.
func statusOf(resp *dispatch.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case dispatch.CodeValidation:
		return http.StatusBadRequest
	case dispatch.CodeNotFound:
		return http.StatusNotFound
	case covenant.CodeCommunionRequired, covenant.CodeCounselRequired:
		return http.StatusPreconditionRequired
	case dispatch.CodeStorage, dispatch.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
