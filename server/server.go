package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"chainrelay/middleware"
	"chainrelay/relay"
	"chainrelay/storage"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Config captures the dependencies required to construct the HTTP surface.
type Config struct {
	Relay         *relay.Service
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	// APIKey, when set, requires a matching bearer token on every request.
	APIKey string
	Logger *slog.Logger
}

// Server exposes the relay operations over HTTP.
type Server struct {
	relay  *relay.Service
	apiKey string
	logger *slog.Logger

	router http.Handler
}

// New constructs a configured router with rate limiting on the transfer path.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		relay:  cfg.Relay,
		apiKey: strings.TrimSpace(cfg.APIKey),
		logger: logger,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, s.logger)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.apiKey != "" {
		r.Use(s.requireAPIKey)
	}

	r.With(obs.Middleware("create_user")).Post("/users", s.CreateUser)
	if cfg.RateLimiter != nil {
		r.With(obs.Middleware("execute"), cfg.RateLimiter.Handler).Post("/execute", s.Execute)
	} else {
		r.With(obs.Middleware("execute")).Post("/execute", s.Execute)
	}
	r.With(obs.Middleware("tx_status")).Get("/tx/{hash}", s.TransactionStatus)

	r.Get("/relayer", s.RelayerInfo)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", obs.MetricsHandler())

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateUser registers a user and returns its managed wallet address.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	address, err := s.relay.RegisterUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, relay.ErrUserExists) || errors.Is(err, storage.ErrUserExists) {
			s.writeError(w, http.StatusConflict, "user already exists")
			return
		}
		s.logger.Error("create user failed", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"walletAddress": address})
}

// Execute relays a value transfer on behalf of a registered user.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Amount) == "" {
		s.writeError(w, http.StatusBadRequest, "userId, to, and amount are required")
		return
	}
	if !addressPattern.MatchString(req.To) {
		s.writeError(w, http.StatusBadRequest, "invalid destination address")
		return
	}

	hash, err := s.relay.ExecuteTransfer(r.Context(), req.UserID, req.To, req.Amount)
	if err != nil {
		s.writeExecuteError(w, req.UserID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"hash": hash})
}

func (s *Server) writeExecuteError(w http.ResponseWriter, userID string, err error) {
	var limitErr *relay.LimitError
	var upstreamErr *relay.UpstreamError
	var persistErr *relay.PersistError
	switch {
	case errors.Is(err, relay.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, relay.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "invalid destination address")
	case errors.Is(err, relay.ErrInvalidAmount):
		s.writeError(w, http.StatusBadRequest, "amount must be a positive number")
	case errors.As(err, &limitErr):
		s.writeError(w, http.StatusBadRequest, "amount exceeds maximum limit of "+limitErr.Limit)
	case errors.As(err, &upstreamErr):
		s.logger.Error("chain submission failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusBadGateway, "chain submission failed")
	case errors.As(err, &persistErr):
		s.logger.Error("transaction persisted on-chain but not locally", "hash", persistErr.Hash, "error", err)
		s.writeError(w, http.StatusInternalServerError, "transaction submitted but not recorded")
	default:
		s.logger.Error("execute failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// TransactionStatus reports the lifecycle status for a transaction hash.
func (s *Server) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	status, err := s.relay.TransactionStatus(r.Context(), hash)
	if err != nil {
		if errors.Is(err, relay.ErrTxNotFound) {
			s.writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.logger.Error("status inquiry failed", "hash", hash, "error", err)
		s.writeError(w, http.StatusInternalServerError, "status inquiry failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// RelayerInfo exposes the relayer's sending address for diagnostics.
func (s *Server) RelayerInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"relayer": s.relay.RelayerAddress().Hex(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
