// Package web serves the evaluation form and the log viewer.
package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/evaluator"
	"github.com/sells-group/rag-evaluator/internal/model"
	"github.com/sells-group/rag-evaluator/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// SessionCookie names the cookie that carries the reviewer's session id.
const SessionCookie = "rag_eval_session"

// Options configures the handler.
type Options struct {
	// Labels maps each pipeline to the name shown in the form.
	Labels map[model.Pipeline]string
	// AllowedOrigins enables CORS for pages that embed the form. Empty disables it.
	AllowedOrigins []string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	svc      *evaluator.Service
	sessions *session.Manager
	opts     Options
	pages    map[string]*template.Template
}

// NewServer parses the page templates and returns a Server.
func NewServer(svc *evaluator.Service, sessions *session.Manager, opts Options) (*Server, error) {
	if opts.Labels == nil {
		opts.Labels = map[model.Pipeline]string{}
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Server{svc: svc, sessions: sessions, opts: opts, pages: pages}, nil
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/evaluate", http.StatusFound)
	})
	r.Get("/evaluate", s.evaluatePage)
	r.Post("/evaluate/query", s.runQuery)
	r.Post("/evaluate/submit", s.submit)
	r.Post("/reset", s.reset)

	r.Get("/logs", s.logsPage)
	r.Get("/logs/export", s.exportLogs)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// session returns the caller's session, issuing a cookie when a new one is created.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess, created := s.sessions.Get(id)
	if created {
		s.setCookie(w, sess.ID)
	}
	return sess
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Discard(c.Value)
	}
	sess, _ := s.sessions.Get("")
	s.setCookie(w, sess.ID)
	zap.L().Info("session reset", zap.String("session", sess.ID))
	http.Redirect(w, r, "/evaluate", http.StatusSeeOther)
}

func (s *Server) label(p model.Pipeline) string {
	if l, ok := s.opts.Labels[p]; ok && l != "" {
		return l
	}
	return string(p)
}
