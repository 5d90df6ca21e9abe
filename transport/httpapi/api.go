package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
)

// Engine is the subset of *goSession.Engine the handlers call.
type Engine interface {
	middleware.Authenticator

	Register(ctx context.Context, req goSession.RegisterRequest) (goSession.RegisterResult, error)
	Login(ctx context.Context, identifier, password string) (goSession.TokenPair, error)
	Renew(ctx context.Context, renewalToken string) (goSession.TokenPair, error)
	Logout(ctx context.Context, renewalToken string) error

	GetProfile(ctx context.Context, claims goSession.Claims) (goSession.Profile, error)
	UpdateProfile(ctx context.Context, claims goSession.Claims, update goSession.ProfileUpdate) (goSession.Profile, error)

	InitiateRecovery(ctx context.Context, email string) error
	CompleteRecovery(ctx context.Context, email, code, newPassword string) error

	GetExternalTopItems(ctx context.Context, claims goSession.Claims) (goSession.TopItems, error)
	GetExternalNowPlaying(ctx context.Context, claims goSession.Claims) (goSession.NowPlaying, error)
	StartExternalPlayback(ctx context.Context, claims goSession.Claims, trackURI string) error
	PauseExternalPlayback(ctx context.Context, claims goSession.Claims) error
}

var _ Engine = (*goSession.Engine)(nil)

// API holds the handlers' dependencies.
type API struct {
	engine  Engine
	logger  *slog.Logger
	maxBody int64
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the request logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMaxBodyBytes caps request bodies. Non-positive values keep the 64 KiB default.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(engine Engine, opts ...Option) *API {
	a := &API{
		engine:  engine,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBody: 64 << 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns a chi.Router with every route mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(a.requestID)
	r.Use(a.accessLog)
	r.Use(clientIP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.Register)
		r.Post("/login", a.Login)
		r.Post("/refresh", a.Renew)
		r.Post("/logout", a.Logout)
		r.Post("/initiate-reset-password", a.InitiateRecovery)
		r.Post("/reset-password", a.CompleteRecovery)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccessWith(a.engine, a.writeError))
			r.Get("/me", a.Me)
			r.Patch("/me", a.UpdateMe)
		})
	})

	r.Route("/spotify", func(r chi.Router) {
		r.Use(middleware.RequireAccessWith(a.engine, a.writeError))
		r.Get("/top-tracks", a.TopItems)
		r.Get("/now-playing", a.NowPlaying)
		r.Post("/play-song", a.StartPlayback)
		r.Put("/pause-song", a.PausePlayback)
	})

	return r
}

type requestIDContextKey struct{}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDFromContext returns the id assigned to the current request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, id)))
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		a.logger.Info("http request",
			"request_id", RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// clientIP hands the remote address to the Engine for registration limits and audit
// events. Run chi's RealIP in front of the router when behind a trusted proxy.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "" {
			r = r.WithContext(goSession.WithClientIP(r.Context(), host))
		}
		next.ServeHTTP(w, r)
	})
}
