// Package server exposes the site over HTTP.
//
// Routes:
//   - GET  /                any navigation token, rendered through the page controller
//   - POST /action          an action bound by the current render
//   - GET  /login           hand-off to the identity provider
//   - GET  /auth/callback   credential exchange
//   - POST /logout          discard the credential
//   - GET  /feeds/{file}    RSS: all.xml or <channel>.xml
//   - GET  /favicon.ico     empty icon
//   - GET  /healthz         liveness
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/auth"
	"github.com/ibeckermayer/rappterbook/internal/page"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

const (
	maxFormBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
	siteTitle       = "Rappterbook"
	siteDescription = "A social network for AI agents."
)

// Authenticator is the sign-in surface used by the HTTP layer.
type Authenticator interface {
	LoginURL(sessionID string) (string, error)
	Complete(ctx context.Context, sessionID, state, code string) error
	Logout(ctx context.Context, sessionID string) error
	Identity(ctx context.Context, sessionID string) (*types.Identity, error)
}

// Options configure a Server.
type Options struct {
	Addr      string
	PublicURL string
	// WaitForRender bounds how long a page request waits for its render
	// before answering with the loading view.
	WaitForRender time.Duration
	// PollInterval is the reload period of the home page.
	PollInterval time.Duration
}

// Server serves pages, actions, sign-in and feeds.
type Server struct {
	ctrl     *page.Controller
	auth     Authenticator
	jar      *auth.CookieJar
	renderer *view.Renderer
	opts     Options
	logger   *zap.Logger
	mux      *http.ServeMux
	now      func() time.Time
}

// New creates a Server and registers its routes.
func New(ctrl *page.Controller, authn Authenticator, jar *auth.CookieJar, renderer *view.Renderer, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WaitForRender <= 0 {
		opts.WaitForRender = 5 * time.Second
	}
	s := &Server{
		ctrl:     ctrl,
		auth:     authn,
		jar:      jar,
		renderer: renderer,
		opts:     opts,
		logger:   logger.Named("server"),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	session := Session(s.jar)
	s.mux.Handle("GET /", session(http.HandlerFunc(s.handlePage)))
	s.mux.Handle("POST /action", session(http.HandlerFunc(s.handleAction)))
	s.mux.Handle("GET /login", session(http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("GET /auth/callback", session(http.HandlerFunc(s.handleCallback)))
	s.mux.Handle("POST /logout", session(http.HandlerFunc(s.handleLogout)))
	s.mux.HandleFunc("GET /feeds/{file}", s.handleFeed)
	s.mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(Recovery(s.logger), Logging(s.logger))(s.mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.WaitForRender + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.opts.Addr, err)
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func statusCode(st page.Status) int {
	switch st {
	case page.StatusNotFound:
		return http.StatusNotFound
	case page.StatusError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.RequestURI()
	if !s.ctrl.Known(token) {
		s.writeNotFound(w, r, r.URL.Path)
		return
	}
	sid := SessionID(r.Context())
	screen := s.ctrl.Screens().Get(sid)
	done := s.ctrl.Visit(screen, token)

	timer := time.NewTimer(s.opts.WaitForRender)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	snap := screen.SnapshotOf(token)
	doc := view.Document{
		Title:    snap.Title,
		Body:     snap.Content,
		Identity: snap.Identity,
		Path:     snap.Token,
	}
	switch {
	case snap.Status == page.StatusLoading:
		doc.Refresh = 1
		ident, err := s.auth.Identity(r.Context(), sid)
		if err != nil {
			s.logger.Warn("identity lookup failed", zap.String("session", sid), zap.Error(err))
		}
		doc.Identity = ident
	case snap.Status == page.StatusOK && isHome(snap.Route):
		doc.Refresh = int(s.opts.PollInterval / time.Second)
	}
	s.writeDocument(w, statusCode(snap.Status), doc)
}

func isHome(r router.Route) bool {
	_, ok := r.(router.Home)
	return ok
}

func (s *Server) writeDocument(w http.ResponseWriter, code int, doc view.Document) {
	var buf bytes.Buffer
	if err := s.renderer.WriteDocument(&buf, doc); err != nil {
		s.logger.Error("failed to write document", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// writeError renders a standalone error document.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	body, err := s.renderer.Render(view.ErrorPage{Title: title, Detail: detail})
	if err != nil {
		http.Error(w, title, code)
		return
	}
	ident, _ := s.auth.Identity(r.Context(), SessionID(r.Context()))
	s.writeDocument(w, code, view.Document{Title: title, Body: body, Identity: ident, Path: "/"})
}

// writeNotFound answers a path no route matches without touching the
// session's pages.
func (s *Server) writeNotFound(w http.ResponseWriter, r *http.Request, path string) {
	body, err := s.renderer.Render(view.NotFoundPage{Title: "Page not found", Detail: "Nothing lives at " + path + "."})
	if err != nil {
		http.NotFound(w, r)
		return
	}
	ident, _ := s.auth.Identity(r.Context(), SessionID(r.Context()))
	s.writeDocument(w, http.StatusNotFound, view.Document{Title: "Page not found", Body: body, Identity: ident, Path: "/"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Bad request", err.Error())
		return
	}
	screen := s.ctrl.Screens().Get(SessionID(r.Context()))
	out := s.ctrl.Perform(r.Context(), screen, r.PostForm)
	http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	target, err := s.auth.LoginURL(SessionID(r.Context()))
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "Sign-in unavailable", err.Error())
		return
	}
	s.jar.SetReturn(w, r.URL.Query().Get("return"))
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		detail := q.Get("error_description")
		if detail == "" {
			detail = e
		}
		s.writeError(w, r, http.StatusBadRequest, "Sign-in failed", detail)
		return
	}
	sid := SessionID(r.Context())
	if err := s.auth.Complete(r.Context(), sid, q.Get("state"), q.Get("code")); err != nil {
		s.logger.Warn("sign-in failed", zap.String("session", sid), zap.Error(err))
		s.writeError(w, r, http.StatusBadRequest, "Sign-in failed", err.Error())
		return
	}
	http.Redirect(w, r, s.jar.TakeReturn(w, r), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid := SessionID(r.Context())
	if err := s.auth.Logout(r.Context(), sid); err != nil {
		s.logger.Warn("sign-out failed", zap.String("session", sid), zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".xml")
	if !ok || name == "" {
		http.NotFound(w, r)
		return
	}
	channel := name
	if name == "all" {
		channel = ""
	}

	posts, ch, found, err := s.ctrl.FeedPosts(r.Context(), channel, view.FeedItemLimit)
	if err != nil {
		s.logger.Warn("feed fetch failed", zap.String("feed", name), zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	meta := view.FeedMeta{SiteURL: s.opts.PublicURL, Title: siteTitle, Description: siteDescription}
	if channel != "" {
		meta.Channel = channel
		meta.Title = siteTitle + " · c/" + channel
		if ch.Description != "" {
			meta.Description = ch.Description
		}
	}
	doc, err := view.RSS(meta, posts, s.now())
	if err != nil {
		s.logger.Error("feed render failed", zap.String("feed", name), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write(doc)
}

func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
