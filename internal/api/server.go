package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"chatgate/internal/auth"
	"chatgate/internal/logger"
	"chatgate/internal/metrics"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

var log = logger.Named("api")

// ChannelService is the channel façade the API drives
type ChannelService interface {
	interfaces.MembershipOracle
	CreateChannel(ctx context.Context, name string, creator types.Identity) (*types.Channel, error)
	GetChannel(ctx context.Context, channelID int64) (*types.Channel, error)
	JoinChannel(ctx context.Context, channelID int64, user types.Identity) (*types.Channel, error)
	RemoveMember(ctx context.Context, channelID int64, actorID, targetID string) error
	ListChannels(ctx context.Context, userID string) ([]*types.Channel, error)
}

// Realtime exposes live gateway state to the API
type Realtime interface {
	Presence(channelID int64) []types.PresenceEntry
	GetStats() map[string]interface{}
}

// Options wires the server. WebSocket, Realtime and Metrics are optional.
type Options struct {
	Store       interfaces.DatabaseManager
	Channels    ChannelService
	Verifier    interfaces.IdentityVerifier
	WebSocket   http.Handler
	Realtime    Realtime
	Metrics     *metrics.Metrics
	CORSOrigins []string
}

// Server is the HTTP façade
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store    interfaces.DatabaseManager
	channels ChannelService
	verifier interfaces.IdentityVerifier
	ws       http.Handler
	realtime Realtime
	metrics  *metrics.Metrics

	router  *mux.Router
	handler http.Handler
	started time.Time
}

// NewServer builds the router and wraps it in CORS handling
func NewServer(opts Options) *Server {
	s := &Server{
		store:    opts.Store,
		channels: opts.Channels,
		verifier: opts.Verifier,
		ws:       opts.WebSocket,
		realtime: opts.Realtime,
		metrics:  opts.Metrics,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	s.setupRoutes()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s
}

// setupRoutes registers every endpoint
// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.ws != nil {
		s.router.Handle("/ws", s.ws).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware, s.authMiddleware)

	api.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels", s.createChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id:[0-9]+}", s.getChannel).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id:[0-9]+}/join", s.joinChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id:[0-9]+}/members/{userId}", s.removeMember).Methods(http.MethodDelete)
	api.HandleFunc("/channels/{id:[0-9]+}/presence", s.channelPresence).Methods(http.MethodGet)

	api.HandleFunc("/channels/{id:[0-9]+}/messages", s.channelHistory).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id:[0-9]+}/search", s.searchChannel).Methods(http.MethodGet)
	api.HandleFunc("/search", s.searchGlobal).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id:[0-9]+}/reactions", s.listReactions).Methods(http.MethodGet)

	api.HandleFunc("/channels/{id:[0-9]+}/read", s.markRead).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id:[0-9]+}/unread", s.channelUnread).Methods(http.MethodGet)
	api.HandleFunc("/unread", s.allUnread).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler for integration with the standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// ErrorResponse is the one error shape of the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse reports component health
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Uptime    string                 `json:"uptime"`
	Gateway   map[string]interface{} `json:"gateway,omitempty"`
}

// healthCheck returns 503 when the database is unavailable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "error: " + err.Error()
	}
	if s.realtime != nil {
		response.Gateway = s.realtime.GetStats()
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", zap.Error(err))
	}
}

// sendError writes the consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

type identityKey struct{}

// identityFrom returns the caller attached by authMiddleware
func identityFrom(ctx context.Context) types.Identity {
	identity, _ := ctx.Value(identityKey{}).(types.Identity)
	return identity
}

// authMiddleware requires a valid bearer token on every /api route
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if token == "" {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		identity, err := s.verifier.Verify(token)
		if err != nil {
			s.sendError(w, "Invalid bearer token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, *identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonMiddleware ensures proper content-type headers
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// metricsMiddleware records every matched request under its route template
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
	})
}
