// Package adminserver exposes a small Echo-based HTTP surface for
// operating the pipeline: inspecting queue contents, forcing a retry
// transition, and listing subscribed DIDs. It uses Echo with
// Recover/Logger middleware and a single admin-key Bearer check,
// narrowed to read/operate endpoints rather than a full hosting
// surface.
package adminserver

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/primal-host/relaybridge/internal/audit"
	"github.com/primal-host/relaybridge/internal/queue"
)

// Config configures the admin server.
type Config struct {
	ListenAddr string
	AdminKey   string
}

// Server wraps the Echo instance and its dependencies.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	postQ    *queue.Queue
	didQ     *queue.Queue
	auditDB  *audit.DB
}

// New builds a configured admin server.
func New(cfg Config, postQ, didQ *queue.Queue, auditDB *audit.DB) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{echo: e, cfg: cfg, postQ: postQ, didQ: didQ, auditDB: auditDB}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/admin", s.requireAdminKey)
	g.GET("/queue/post/:status", s.listQueue(s.postQ))
	g.GET("/queue/did/:status", s.listQueue(s.didQ))
	g.POST("/queue/post/:status/:name/retry", s.retryItem(s.postQ))
	g.POST("/queue/did/:status/:name/retry", s.retryItem(s.didQ))
	g.GET("/subscriptions", s.listSubscriptions)
}

func (s *Server) requireAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header.Get("Authorization")
		const prefix = "Bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthRequired",
				"message": "Authorization header must use Bearer scheme",
			})
		}
		if h[len(prefix):] != s.cfg.AdminKey {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error":   "Forbidden",
				"message": "invalid admin key",
			})
		}
		return next(c)
	}
}

func (s *Server) listQueue(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := queue.Status(c.Param("status"))
		name, _, ok, err := q.ReadNext(status)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		if !ok {
			return c.JSON(http.StatusOK, map[string]any{"status": status, "next": nil})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": status, "next": name})
	}
}

func (s *Server) retryItem(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		from := queue.Status(c.Param("status"))
		name := c.Param("name")

		var to queue.Status
		switch from {
		case queue.StatusPayloadRetry:
			to = queue.StatusPayload
		case queue.StatusTxRetry:
			to = queue.StatusTx
		case queue.StatusReportRetry:
			to = queue.StatusReport
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "status is not a retry status"})
		}

		if err := q.Transition(from, to, name, nil); err != nil {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": string(to)})
	}
}

func (s *Server) listSubscriptions(c echo.Context) error {
	subs, err := s.auditDB.ListSubscriptions(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, subs)
}

// Start begins listening for HTTP requests. It blocks until ctx is
// cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("admin server listening on %s", s.cfg.ListenAddr)
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("shutting down admin server...")
		return s.echo.Shutdown(context.Background())
	}
}
