// Package server serves a read-only archive of past digests.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Linkify))

// Options configures a Server.
type Options struct {
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer   prometheus.Gatherer
	RollupDays int
	Logger     *slog.Logger
}

// Server is the HTTP server for browsing digests.
type Server struct {
	db         *database.DB
	pages      map[string]*template.Template
	engine     *gin.Engine
	rollupDays int
	log        *slog.Logger
	now        func() time.Time
}

// New creates a new Server.
func New(db *database.DB, opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":    renderMarkdown,
		"formatDate":  database.FormatDateDisplay,
		"topKeywords": func(s database.StatsAggregate, k int) []database.KeywordCount { return s.TopKeywords(k) },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" do not clash.
	pageNames := []string{"index.html", "digest.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	if opts.RollupDays <= 0 {
		opts.RollupDays = 30
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		db:         db,
		pages:      pages,
		engine:     gin.New(),
		rollupDays: opts.RollupDays,
		log:        opts.Logger.With("component", "server"),
		now:        time.Now,
	}
	s.engine.Use(gin.Recovery(), s.logRequests)
	if err := s.routes(opts.Gatherer); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(gatherer prometheus.Gatherer) error {
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return err
	}
	s.engine.StaticFS("/static", http.FS(staticSub))

	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/digest/:date", s.handleDigest)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	digests, err := s.db.GetAllDigests(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	totals, err := s.db.GetTotals(ctx, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}

	s.render(c, http.StatusOK, "index.html", gin.H{
		"Digests": digests,
		"Totals":  totals,
	})
}

func (s *Server) handleDigest(c *gin.Context) {
	ctx := c.Request.Context()
	date := c.Param("date")
	if _, err := time.Parse(database.DateLayout, date); err != nil {
		c.String(http.StatusBadRequest, "invalid date %q", date)
		return
	}

	digest, err := s.db.GetDigest(ctx, date)
	if err != nil {
		s.fail(c, err)
		return
	}
	prev, next, err := s.db.GetAdjacentDigestDates(ctx, date)
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusOK
	if digest == nil {
		status = http.StatusNotFound
	}
	s.render(c, status, "digest.html", gin.H{
		"Digest": digest,
		"Date":   date,
		"Prev":   prev,
		"Next":   next,
	})
}

// statsResponse is the JSON body of /stats.
type statsResponse struct {
	Since       string                  `json:"since"`
	Days        int                     `json:"days"`
	Seen        int                     `json:"seen"`
	Analyzed    int                     `json:"analyzed"`
	Passed      int                     `json:"passed"`
	Delivered   int                     `json:"delivered"`
	Categories  map[string]int          `json:"categories"`
	TopKeywords []database.KeywordCount `json:"top_keywords"`
}

func (s *Server) handleStats(c *gin.Context) {
	days := s.rollupDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	agg, err := s.db.GetStats(c.Request.Context(), s.now().AddDate(0, 0, -(days-1)))
	if err != nil {
		s.log.Error("loading stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		Since:       agg.Since,
		Days:        agg.Days,
		Seen:        agg.Seen,
		Analyzed:    agg.Analyzed,
		Passed:      agg.Passed,
		Delivered:   agg.Delivered,
		Categories:  agg.Categories,
		TopKeywords: agg.TopKeywords(10),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	version, err := s.db.SchemaVersion()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": true, "schema_version": version})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.String(http.StatusInternalServerError, "Internal server error")
}

func (s *Server) render(c *gin.Context, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.fail(c, fmt.Errorf("template %s not found", name))
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.fail(c, fmt.Errorf("rendering %s: %w", name, err))
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "url", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
