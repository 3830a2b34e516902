package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/app"
	"github.com/mohammad-safakhou/delver/internal/archive"
	"github.com/mohammad-safakhou/delver/internal/store"
)

// Server exposes research runs over HTTP. Runs execute asynchronously;
// the API hands out a run id immediately and serves progress, snapshot
// and report afterwards.
type Server struct {
	app     *app.App
	store   *store.Store
	archive *archive.Archive
	secret  []byte
	logger  *log.Logger

	mu      sync.RWMutex
	running map[string]*runStatus
}

type runStatus struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Status     string    `json:"status"` // running, done, failed
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// finishedRetention is how long a finished run's in-memory status stays
// queryable. Done runs live on in the store; failed ones keep their
// error visible for this window before the entry is dropped.
const finishedRetention = time.Hour

// Run wires dependencies and serves until the listener fails.
func Run(cfg *config.Config) error {
	a, err := app.New(cfg, nil)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret or DELVER_JWT_SECRET)")
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("connecting postgres: %w", err)
	}
	arch, err := archive.New(cfg.Storage, a.LLM, a.Logger)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	s := &Server{
		app:     a,
		store:   st,
		archive: arch,
		secret:  []byte(cfg.Server.JWTSecret),
		logger:  log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		running: make(map[string]*runStatus),
	}
	return s.serve(cfg.Server.Address)
}

func (s *Server) serve(addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(s.app.Telemetry.Handler()))

	api := e.Group("/api")
	api.Use(authMiddleware(s.secret))
	api.POST("/runs", s.createRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/report", s.getReport)
	api.DELETE("/runs/:id", s.deleteRun)
	api.POST("/archive/ask", s.askArchive)

	return e.Start(addr)
}

type createRunRequest struct {
	Query string `json:"query"`
}

func (s *Server) createRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	s.pruneFinished(time.Now())

	runID := uuid.NewString()
	status := &runStatus{ID: runID, Query: req.Query, Status: "running", StartedAt: time.Now()}
	s.mu.Lock()
	s.running[runID] = status
	s.mu.Unlock()

	go s.executeRun(runID, req.Query)

	return c.JSON(http.StatusAccepted, status)
}

// executeRun drives one research run to completion in the background
// and persists the outcome.
func (s *Server) executeRun(runID, query string) {
	ctx := context.Background()
	snap, err := s.app.Controller.Run(ctx, runID, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.running[runID]
	if err != nil {
		s.logger.Printf("run %s failed: %v", runID, err)
		if status != nil {
			status.Status = "failed"
			status.Error = err.Error()
			status.FinishedAt = time.Now()
		}
		return
	}
	if err := s.store.SaveRun(ctx, snap); err != nil {
		s.logger.Printf("persisting run %s failed: %v", runID, err)
	}
	if err := s.archive.IndexSnapshot(ctx, snap); err != nil {
		s.logger.Printf("archiving run %s failed: %v", runID, err)
	}
	if status != nil {
		status.Status = "done"
		status.FinishedAt = time.Now()
	}
}

// pruneFinished drops finished run statuses past their retention so the
// in-memory map does not grow with server lifetime.
func (s *Server) pruneFinished(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.running {
		if st.Status == "running" {
			continue
		}
		if now.Sub(st.FinishedAt) > finishedRetention {
			delete(s.running, id)
		}
	}
}

func (s *Server) listRuns(c echo.Context) error {
	s.pruneFinished(time.Now())
	runs, err := s.store.ListRuns(c.Request().Context(), 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.mu.RLock()
	var inflight []*runStatus
	for _, st := range s.running {
		if st.Status == "running" {
			inflight = append(inflight, st)
		}
	}
	s.mu.RUnlock()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"running": inflight,
		"runs":    runs,
	})
}

func (s *Server) getRun(c echo.Context) error {
	id := c.Param("id")

	s.mu.RLock()
	status, inflight := s.running[id]
	s.mu.RUnlock()
	if inflight && status.Status != "done" {
		return c.JSON(http.StatusOK, status)
	}

	snap, err := s.store.GetRun(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) getReport(c echo.Context) error {
	report, err := s.store.GetReport(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
}

func (s *Server) deleteRun(c echo.Context) error {
	err := s.store.DeleteRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) askArchive(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	answer, docs, err := s.archive.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"answer":  answer,
		"sources": docs,
	})
}
