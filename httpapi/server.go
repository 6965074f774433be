package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	gomfamw "github.com/MrEthical07/goMFA/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options tunes the HTTP surface. The zero value serves every route with a
// permissive CORS policy and a modest per-client request budget.
//
// Options instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration

	// Per-client token bucket applied before any engine call. Zero values
	// fall back to 10 req/s with a burst of 20.
	RequestsPerSecond float64
	RequestBurst      int
}

// Server wires the engine into a chi router.
//
// Server instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Server struct {
	engine  *goMFA.Engine
	logger  *zap.Logger
	options Options
	limiter *clientLimiter
}

// NewServer describes the newserver operation and its observable behavior.
//
// NewServer may return an error when input validation, dependency calls, or security checks fail.
// NewServer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewServer(engine *goMFA.Engine, logger *zap.Logger, options Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 30 * time.Second
	}
	if options.RequestsPerSecond <= 0 {
		options.RequestsPerSecond = 10
	}
	if options.RequestBurst <= 0 {
		options.RequestBurst = 20
	}
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = []string{"https://*"}
	}

	return &Server{
		engine:  engine,
		logger:  logger,
		options: options,
		limiter: newClientLimiter(options.RequestsPerSecond, options.RequestBurst),
	}
}

// Router builds the full route tree.
//
// Router may return an error when input validation, dependency calls, or security checks fail.
// Router does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(s.logRequests)
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(s.options.RequestTimeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.options.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", gomfamw.FingerprintHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(gomfamw.ClientContext)
	router.Use(s.throttle)

	router.Get("/health", s.handleHealth)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/mfa/confirm", s.handleConfirmMFA)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(gomfamw.Guard(s.engine, goMFA.ModeInherit))
			r.Get("/profile", s.handleProfile)
			r.Get("/history", s.handleHistory)
			r.Post("/logout-all", s.handleLogoutAll)
		})
	})

	router.Route("/enroll", func(r chi.Router) {
		r.Use(gomfamw.Guard(s.engine, goMFA.ModeStrict))
		r.Get("/", s.handleListEnrollments)
		r.Post("/face", s.handleEnrollSimilarity(goMFA.MethodFace))
		r.Post("/voice", s.handleEnrollSimilarity(goMFA.MethodVoice))
		r.Post("/gesture", s.handleEnrollGesture)
		r.Post("/keystroke", s.handleEnrollKeystroke)
		r.Post("/totp", s.handleBeginTOTP)
		r.Post("/totp/confirm", s.handleConfirmTOTP)
		r.Delete("/totp", s.handleDisableTOTP)
		r.Delete("/{method}", s.handleUnenroll)
	})

	router.Route("/backup-codes", func(r chi.Router) {
		r.Use(gomfamw.Guard(s.engine, goMFA.ModeStrict))
		r.Get("/", s.handleRemainingBackupCodes)
		r.Post("/", s.handleGenerateBackupCodes)
		r.Post("/regenerate", s.handleRegenerateBackupCodes)
	})

	router.Route("/devices", func(r chi.Router) {
		r.Use(gomfamw.Guard(s.engine, goMFA.ModeStrict))
		r.Get("/", s.handleListDevices)
		r.Post("/trust", s.handleTrustDevice)
		r.Post("/{fingerprint}/revoke", s.handleRevokeDevice)
		r.Delete("/{fingerprint}", s.handleForgetDevice)
	})

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "gomfa"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	switch {
	case status == http.StatusInternalServerError:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, status, "internal error")
	case isProofRejection(err):
		// One message for every rejected proof; the true reason only
		// reaches the audit stream.
		writeError(w, status, "verification failed")
	default:
		writeError(w, status, err.Error())
	}
}
