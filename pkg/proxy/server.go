// Package proxy is the HTTP front door: OpenAI-compatible chat and model
// routes backed by the Kagi Assistant, plus health, metrics and a small
// browser tester.
package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lkarlslund/kagi-proxy/pkg/assets"
	"github.com/lkarlslund/kagi-proxy/pkg/catalog"
	"github.com/lkarlslund/kagi-proxy/pkg/chat"
	"github.com/lkarlslund/kagi-proxy/pkg/config"
	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	"github.com/lkarlslund/kagi-proxy/pkg/logutil"
	"github.com/lkarlslund/kagi-proxy/pkg/metrics"
	"github.com/lkarlslund/kagi-proxy/pkg/session"
	"github.com/lkarlslund/kagi-proxy/pkg/version"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

const (
	modelCreated        = 1677532384
	modelOwner          = "kagi-proxy"
	maxRequestBodyBytes = 8 << 20
	drainTimeout        = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

type Deps struct {
	Store   *session.Store
	Client  *kagi.Client
	Catalog *catalog.Catalog
	Metrics *metrics.Collector
}

type Server struct {
	cfg       *config.ServerConfig
	store     *session.Store
	client    *kagi.Client
	catalog   *catalog.Catalog
	metrics   *metrics.Collector
	status    *StatusHub
	templates *template.Template
	handler   http.Handler

	activeProxyRequests atomic.Int64
	activeStreams       atomic.Int64
	draining            atomic.Bool
}

type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

func NewServer(cfg *config.ServerConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = config.NewDefaultServerConfig()
	}
	if deps.Store == nil || deps.Client == nil || deps.Catalog == nil {
		return nil, errors.New("proxy: session store, kagi client and catalog are required")
	}
	templates, err := assets.ParseTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		client:    deps.Client,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		templates: templates,
	}
	s.status = NewStatusHub(s.statusSnapshot, deps.Catalog.Trigger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.proxyRequestLifecycleMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleTester)
	r.Get("/static/*", s.handleStatic)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Get("/admin/ws", s.status.ServeHTTP)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/models", s.handleModels)
		v1.Post("/chat/completions", s.handleChatCompletions)
	})

	s.handler = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Status() *StatusHub {
	return s.status
}

// Run serves until ctx is done, then drains in-flight /v1 requests before
// shutting the listeners down. The catalog refresher and the status feed
// run alongside.
func (s *Server) Run(ctx context.Context) error {
	logutil.SetOutputTee(s.status)
	defer logutil.SetOutputTee(nil)

	servers, err := s.listeners()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.catalog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.status.Run(gctx)
		return nil
	})
	for _, l := range servers {
		g.Go(func() error {
			slog.Info("listening", "name", l.name, "addr", l.srv.Addr)
			if err := l.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", l.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.draining.Store(true)
		s.waitForProxyIdle(drainTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, l := range servers {
			if err := l.srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("shutdown", "name", l.name, "error", err)
				_ = l.srv.Close()
			}
		}
		return nil
	})
	return g.Wait()
}

type listener struct {
	name  string
	srv   *http.Server
	serve func() error
}

func (s *Server) newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) listeners() ([]listener, error) {
	cfg := s.cfg
	if !cfg.TLS.Enabled {
		srv := s.newHTTPServer(cfg.ListenAddr, s.handler)
		return []listener{{name: "http", srv: srv, serve: srv.ListenAndServe}}, nil
	}

	httpsSrv := s.newHTTPServer(cfg.TLS.ListenAddr, s.handler)
	switch cfg.TLS.Mode {
	case config.TLSModePEM:
		cert, err := tls.X509KeyPair([]byte(cfg.TLS.CertPEM), []byte(cfg.TLS.KeyPEM))
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		httpsSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		return []listener{{
			name:  "https",
			srv:   httpsSrv,
			serve: func() error { return httpsSrv.ListenAndServeTLS("", "") },
		}}, nil
	default:
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.Domain),
			Email:      cfg.TLS.Email,
		}
		httpsSrv.TLSConfig = &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12}
		challenge := s.newHTTPServer(":80", mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)))
		return []listener{
			{name: "http challenge/redirect", srv: challenge, serve: challenge.ListenAndServe},
			{name: "https " + cfg.TLS.Domain, srv: httpsSrv, serve: func() error { return httpsSrv.ListenAndServeTLS("", "") }},
		}, nil
	}
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

func (s *Server) proxyRequestLifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isProxyReq := strings.HasPrefix(r.URL.Path, "/v1/")
		if isProxyReq && s.draining.Load() {
			w.Header().Set("Retry-After", "3")
			writeJSON(w, http.StatusServiceUnavailable, chat.ErrorBody("server shutting down", chat.TypeAPIError, "shutting_down"))
			return
		}
		if isProxyReq {
			s.activeProxyRequests.Add(1)
			defer s.activeProxyRequests.Add(-1)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) waitForProxyIdle(timeout time.Duration) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	deadline := time.Now().Add(timeout)
	lastLog := time.Time{}
	for {
		active := s.activeProxyRequests.Load()
		if active <= 0 {
			slog.Info("shutdown: proxy idle")
			return
		}
		if time.Now().After(deadline) {
			slog.Warn("shutdown: giving up on active proxy requests", "active", active)
			return
		}
		if lastLog.IsZero() || time.Since(lastLog) >= time.Second {
			slog.Info("shutdown: waiting for active proxy requests", "active", active)
			lastLog = time.Now()
		}
		<-t.C
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chat.ErrorBody("invalid request body: "+err.Error(), chat.TypeInvalidRequest, "invalid_json"))
		return
	}
	mode := "complete"
	if req.Stream {
		mode = "stream"
	}

	prompt, err := chat.PromptFromMessages(req.Messages)
	if err != nil {
		s.metrics.ChatRequest(mode, "rejected")
		f := chat.Classify(err)
		writeJSON(w, f.Status, f.Body())
		return
	}

	requested := strings.TrimSpace(req.Model)
	if requested == "" {
		requested = s.catalog.DefaultModel()
	}
	upstreamModel := s.catalog.Resolve(requested)
	slog.Debug("chat request", "model", requested, "upstream_model", upstreamModel, "stream", req.Stream, "messages", len(req.Messages))

	src := s.client.Query(r.Context(), prompt, upstreamModel)
	if req.Stream {
		s.streamChat(w, r, src, requested)
		return
	}
	defer src.Close()

	resp, err := chat.Aggregate(src, requested)
	if err != nil {
		s.metrics.ChatRequest(mode, "error")
		f := chat.Classify(err)
		if f.Status >= http.StatusInternalServerError {
			slog.Error("chat completion failed", "model", requested, "status", f.Status, "error", err)
		} else {
			slog.Warn("chat completion rejected", "model", requested, "status", f.Status, "error", err)
		}
		writeJSON(w, f.Status, f.Body())
		return
	}
	s.metrics.ChatRequest(mode, "ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, src *kagi.Stream, model string) {
	stopGauge := s.metrics.StreamStarted()
	defer stopGauge()
	s.activeStreams.Add(1)
	defer s.activeStreams.Add(-1)

	cs := chat.NewChunkStream(src, model)
	defer cs.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	result := "ok"
	for {
		c, ok := cs.Next()
		if !ok {
			break
		}
		if c.Error != nil {
			result = "error"
		}
		b, err := c.MarshalSSE()
		if err != nil {
			slog.Error("encode chunk", "error", err)
			result = "error"
			break
		}
		if _, err := w.Write(b); err != nil {
			slog.Debug("client went away", "id", cs.ID(), "error", err)
			result = "canceled"
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if r.Context().Err() != nil && result == "error" {
		result = "canceled"
	}
	s.metrics.ChatRequest("stream", result)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ids, err := s.catalog.Models(r.Context())
	if err != nil {
		slog.Warn("model list unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, chat.ErrorBody(
			"Failed to fetch models from Kagi: "+err.Error(), chat.TypeAPIError, "model_fetch_failed"))
		return
	}
	sort.Strings(ids)
	cards := make([]ModelCard, 0, len(ids))
	for _, id := range ids {
		cards = append(cards, ModelCard{ID: id, Object: "model", Created: modelCreated, OwnedBy: modelOwner})
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: cards})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleTester(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := assets.TesterPage{DefaultModel: s.catalog.DefaultModel(), Version: version.String()}
	if err := s.templates.ExecuteTemplate(w, "tester.html", page); err != nil {
		slog.Error("render tester", "error", err)
	}
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	b, err := assets.LoadStaticAsset(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(b)
}

func (s *Server) statusSnapshot() StatusSnapshot {
	st := s.catalog.Status()
	snap := StatusSnapshot{
		SessionConfigured: s.store.Configured(),
		DefaultModel:      s.catalog.DefaultModel(),
		Models:            st.Models,
		CatalogError:      st.LastError,
		ActiveStreams:     s.activeStreams.Load(),
		Version:           version.String(),
	}
	if ts := s.store.LastUpdated(); !ts.IsZero() {
		snap.SessionUpdatedAt = &ts
	}
	if !st.FetchedAt.IsZero() {
		fetched := st.FetchedAt
		snap.ModelsFetchedAt = &fetched
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
