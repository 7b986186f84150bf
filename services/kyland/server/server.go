package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kylan/core"
	"kylan/crypto"
	"kylan/observability"
	"kylan/services/kyland/auth"
	"kylan/services/kyland/middleware"
	"kylan/services/kyland/receipts"
)

const rateLimitModule = "printer"

// Config wires the daemon's collaborators into the HTTP surface. Receipts,
// RateLimiter, Operator and Hub are optional.
type Config struct {
	Processor     *core.Processor
	Authenticator *auth.Authenticator
	Receipts      *receipts.Store
	RateLimiter   *middleware.RateLimiter
	Operator      *middleware.OperatorAuth
	Observability *middleware.Observability
	Hub           *Hub
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// Server exposes printer operations over signed HTTP requests.
type Server struct {
	proc     *core.Processor
	auth     *auth.Authenticator
	receipts *receipts.Store
	limiter  *middleware.RateLimiter
	operator *middleware.OperatorAuth
	obs      *middleware.Observability
	hub      *Hub
	cors     middleware.CORSConfig
	logger   *slog.Logger
}

// New validates cfg and constructs a server.
func New(cfg Config) (*Server, error) {
	if cfg.Processor == nil {
		return nil, errors.New("server: processor required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("server: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	if cfg.RateLimiter != nil {
		cfg.RateLimiter.KeyFunc = callerKey
	}
	if cfg.Hub != nil {
		cfg.Hub.AllowOrigins(cfg.CORS.AllowedOrigins)
	}
	return &Server{
		proc:     cfg.Processor,
		auth:     cfg.Authenticator,
		receipts: cfg.Receipts,
		limiter:  cfg.RateLimiter,
		operator: cfg.Operator,
		obs:      obs,
		hub:      cfg.Hub,
		cors:     cfg.CORS,
		logger:   logger,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.cors))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		signed := func(route string) chi.Router {
			return v1.With(s.obs.Middleware(route), s.signed, s.rateLimit)
		}
		signed("printers.initialize").Post("/printers", s.handleInitializePrinter)
		signed("printers.authority").Post("/printers/authority", s.handleTransferAuthority)
		signed("certs.initialize").Post("/certs", s.handleInitializeCert)
		signed("certs.state").Post("/certs/state", s.handleSetCertState)
		signed("certs.fee").Post("/certs/fee", s.handleSetCertFee)
		signed("certs.taxman").Post("/certs/taxman", s.handleSetCertTaxman)
		signed("cheques.initialize").Post("/cheques", s.handleInitializeCheque)
		signed("print").Post("/print", s.handlePrint)
		signed("burn").Post("/burn", s.handleBurn)

		v1.With(s.obs.Middleware("printers.get")).Get("/printers/{printer}", s.handleGetPrinter)
		v1.With(s.obs.Middleware("certs.get")).Get("/certs/{printer}/{collateral}", s.handleGetCert)
		v1.With(s.obs.Middleware("cheques.get")).Get("/cheques/{printer}/{collateral}/{owner}", s.handleGetCheque)
		v1.With(s.obs.Middleware("balances.get")).Get("/balances/{asset}/{owner}", s.handleGetBalance)
		v1.With(s.obs.Middleware("receipts.list")).Get("/receipts", s.handleListReceipts)
		v1.With(s.obs.Middleware("receipts.get")).Get("/receipts/{id}", s.handleGetReceipt)
		if s.hub != nil {
			v1.With(s.obs.Middleware("events")).Get("/events", s.hub.ServeHTTP)
		}
	})

	if s.operator != nil {
		r.Route("/admin", func(admin chi.Router) {
			operator := func(route string) chi.Router {
				return admin.With(s.obs.Middleware(route), s.operator.Middleware)
			}
			operator("admin.pause").Post("/pause", s.handlePause(true))
			operator("admin.resume").Post("/resume", s.handlePause(false))
			operator("admin.status").Get("/status", s.handleStatus)
		})
	}
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(rateLimitModule)(next)
}

type callerContextKey struct{}

// signed authenticates the request body and stores the recovered caller in
// the request context. The body is restored for the handler.
func (s *Server) signed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
		if err != nil {
			writeError(w, invalidArgument(err))
			return
		}
		_ = r.Body.Close()
		caller, err := s.auth.Authenticate(r, body)
		if err != nil {
			if errors.Is(err, auth.ErrReplayed) {
				observability.ModuleMetrics().RecordThrottle(rateLimitModule, "replay")
			}
			s.logger.Debug("signed request rejected",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			writeError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the address recovered from the request signature.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(crypto.Address)
	return caller, ok
}

func callerKey(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return caller.String()
	}
	return middleware.ClientIP(r)
}
