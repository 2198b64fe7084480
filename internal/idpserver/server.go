package idpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth/idp"
	"github.com/bullishbrief/briefauth/middleware"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

var ErrAPIKeyRequired = errors.New("idpserver: api key is required")

// Config configures a Server.
type Config struct {
	APIKey string
	// RequestTimeout bounds each POST handler. Zero means 10s.
	RequestTimeout time.Duration
}

// Server serves one Provider.
type Server struct {
	provider *idp.Provider
	apiKey   []byte
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *httpMetrics
	now      func() time.Time
}

func New(cfg Config, provider *idp.Provider, logger *zap.Logger) (*Server, error) {
	if provider == nil {
		return nil, errors.New("idpserver: provider is nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Server{
		provider: provider,
		apiKey:   []byte(cfg.APIKey),
		timeout:  timeout,
		logger:   logger,
		metrics:  newHTTPMetrics(),
		now:      time.Now,
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(clientMetadata)
	r.Use(s.observe)

	r.Get("/auth/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(chimw.Timeout(s.timeout))
		r.Post("/auth/v1/otp", s.handleOTP)
		r.Post("/auth/v1/verify", s.handleVerify)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(middleware.RequireSession(s.provider.Tokens()))
		r.Get("/auth/v1/user", s.handleUser)
	})
	return r
}

// HTTPServer wraps Handler in an *http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: http.StatusUnauthorized, ErrorCode: "no_authorization", Msg: "No API key found in request"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), s.apiKey) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: http.StatusUnauthorized, ErrorCode: "bad_jwt", Msg: "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
