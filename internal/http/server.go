package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"atms/identity/internal/auth"
	"atms/identity/internal/metrics"
	"atms/identity/internal/policy"
	"atms/identity/internal/session"
	"atms/identity/internal/transcript"
	"atms/identity/internal/wallet"
)

type Options struct {
	Auth        *auth.Orchestrator
	Accounts    *auth.AccountAdmin
	Transcripts *transcript.Service
	Transport   *session.Transport
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Log         *zap.Logger
	CORSOrigins []string
}

type Server struct {
	auth        *auth.Orchestrator
	accounts    *auth.AccountAdmin
	transcripts *transcript.Service
	transport   *session.Transport
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	log         *zap.Logger
	corsOrigins []string
	validate    *validator.Validate
}

func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		auth:        opts.Auth,
		accounts:    opts.Accounts,
		transcripts: opts.Transcripts,
		transport:   opts.Transport,
		metrics:     opts.Metrics,
		gatherer:    opts.Gatherer,
		log:         opts.Log,
		corsOrigins: opts.CORSOrigins,
		validate:    validate,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/auth/nonce", s.handleNonce)
	r.Post("/auth/signin", s.handleSignIn)
	r.Post("/auth/apply", s.handleApply)
	r.Post("/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Get("/session", s.handleSession)

		r.Get("/transcript", s.handleGetTranscript)
		r.Post("/transcript/hash", s.handleUpdateHash)

		r.Get("/students", s.handleListStudents)
		r.Post("/students", s.handleCreateStudent)
		r.Post("/students/{studentId}/records", s.handleCreateRecord)

		r.Get("/grants", s.handleListGrants)
		r.Post("/grants", s.handleCreateGrant)
		r.Get("/grants/{grantId}", s.handleGetGrant)
		r.Post("/grants/{grantId}/approve", s.handleApproveGrant)
		r.Post("/grants/{grantId}/revoke", s.handleRevokeGrant)

		r.Post("/admin/accounts", s.handleRegisterAccount)
		r.Get("/admin/accounts/pending", s.handleListPending)
		r.Patch("/admin/accounts/{accountId}", s.handleUpdateAccount)
		r.Delete("/admin/accounts/{accountId}", s.handleRemoveAccount)
		r.Post("/admin/accounts/{accountId}/approve", s.handleApproveAccount)
	})

	return r
}

// Session

type principalKey struct{}

// sessionMiddleware resolves the cookie, if any, into a principal. Requests
// without a cookie continue anonymously and are refused by the policy.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := s.transport.Read(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := s.auth.ResolveSession(r.Context(), token)
		if err != nil {
			if isUnauthenticated(err) {
				s.transport.Clear(w)
			}
			writeAppError(w, s.log, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) *policy.Principal {
	p, _ := ctx.Value(principalKey{}).(*policy.Principal)
	return p
}

// userSummary carries the lowercase address used for lookups and the
// EIP-55 form for display.
type userSummary struct {
	ID              string      `json:"id"`
	WalletAddress   string      `json:"walletAddress"`
	ChecksumAddress string      `json:"checksumAddress"`
	Role            string      `json:"role"`
	Details         interface{} `json:"roleDetails"`
}

func summarize(p *policy.Principal) userSummary {
	return userSummary{
		ID:              p.UserID,
		WalletAddress:   p.WalletAddress,
		ChecksumAddress: wallet.Checksum(p.WalletAddress),
		Role:            p.Role.Name(),
		Details:         p.Details,
	}
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
