package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/digkill/imagecredits/internal/auth"
	"github.com/digkill/imagecredits/internal/config"
	"github.com/digkill/imagecredits/internal/ratelimit"
	"github.com/digkill/imagecredits/internal/service"
)

// maxWebhookBytes bounds provider and billing callback bodies.
const maxWebhookBytes = 1 << 20

// Uploader stores a reference image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Deps are the collaborators the HTTP layer dispatches to. Uploader and
// Limiter may be nil.
type Deps struct {
	Auth        *auth.Authenticator
	Generations *service.GenerationService
	Webhooks    *service.WebhookService
	Billing     *service.BillingService
	Quotas      *service.QuotaService
	Users       *service.UserService
	Uploader    Uploader
	Limiter     ratelimit.Limiter
}

type Server struct {
	addr          string
	adminUsername string
	adminPassword string
	webhookSecret string
	billingSecret string
	log           *slog.Logger
	deps          Deps
	validate      *validator.Validate
	router        *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:          cfg.HTTPListenAddr,
		adminUsername: cfg.AdminUsername,
		adminPassword: cfg.AdminPassword,
		webhookSecret: cfg.WebhookSigningSecret,
		billingSecret: cfg.BillingWebhookSecret,
		log:           log.With("component", "http"),
		deps:          deps,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		router:        r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/billing", s.handleBillingWebhook)
	r.Post("/webhook/{provider}/{taskID}", s.handleProviderWebhook)
	r.Get("/share/{shareID}", s.handleShare)

	r.Group(func(user chi.Router) {
		user.Use(deps.Auth.Middleware)
		user.Post("/generate", s.handleGenerate)
		user.Get("/status/{taskID}", s.handleStatus)
		user.Get("/generations", s.handleListGenerations)
		user.Delete("/generations/{taskID}", s.handleDeleteGeneration)
		user.Get("/quota", s.handleQuota)
		user.Get("/quota/grants", s.handleGrants)
		user.Get("/quota/transactions", s.handleTransactions)
		user.Post("/uploads", s.handleUpload)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware())
		admin.Post("/grants", s.handleAdminGrant)
		admin.Get("/users/{userID}/quota", s.handleAdminUserQuota)
		admin.Post("/refunds/{transactionID}", s.handleAdminRefund)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || s.adminPassword == "" || user != s.adminUsername || pass != s.adminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="imagecredits"`)
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// currentUser reads the id placed in the context by the auth middleware.
func currentUser(r *http.Request) string {
	userID, _ := auth.UserIDFromContext(r.Context())
	return userID
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("http handler error",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"err", err,
	)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// pageParams reads limit and offset query parameters. Missing values are zero.
func pageParams(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}
