package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/authcore"
	"github.com/artha-au/baasd/internal/permissions"
)

// Caller is the resolved identity of an authenticated request, built
// once by the authenticate middleware and passed explicitly to every
// handler that needs it. There is no ambient request identity anywhere
// else in the process.
type Caller struct {
	UserID   string
	Email    string
	Username string
	RoleID   string
	RoleName string
	TokenJTI string
}

// Subject converts the caller into what the permission resolver needs.
func (c *Caller) Subject() permissions.Subject {
	return permissions.Subject{UserID: c.UserID, RoleID: c.RoleID, RoleName: c.RoleName}
}

// IsAdmin reports whether the caller bypasses permission resolution.
func (c *Caller) IsAdmin() bool { return c.RoleName == permissions.AdminRoleName }

type contextKey int

const callerKey contextKey = iota

func withCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the authenticated caller, or nil for an anonymous
// request.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey).(*Caller)
	return c
}

// authenticate resolves the request's bearer token (cookie preferred
// over header) into a Caller. Requests without a token pass through
// anonymously; requests with a bad token are rejected here rather than
// letting a handler treat them as anonymous.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authcore.ExtractToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.auth.ValidateAccessToken(r.Context(), token)
		if err != nil {
			respondError(w, a.logger, err)
			return
		}

		user, err := a.authStore.GetUserByID(r.Context(), claims.Subject)
		if err != nil {
			respondError(w, a.logger, apperrors.New(apperrors.KindTokenInvalid, "token subject no longer exists"))
			return
		}
		if !user.IsActive {
			respondError(w, a.logger, apperrors.New(apperrors.KindTokenInvalid, "account is inactive"))
			return
		}

		caller := &Caller{
			UserID:   user.ID,
			Email:    user.Email,
			Username: user.Username,
			RoleID:   user.RoleID,
			RoleName: user.RoleName,
			TokenJTI: claims.ID,
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

// requireAuth rejects anonymous requests.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CallerFrom(r.Context()) == nil {
			respondError(w, a.logger, apperrors.New(apperrors.KindTokenMissing, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects everyone but the built-in admin role. Denials
// stay 403, never 404, per the error policy.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFrom(r.Context())
		if caller == nil {
			respondError(w, a.logger, apperrors.New(apperrors.KindTokenMissing, "authentication required"))
			return
		}
		if !caller.IsAdmin() {
			respondError(w, a.logger, apperrors.New(apperrors.KindInsufficientPerms, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the general API limiter, keyed by authenticated
// subject when available and client IP otherwise.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if caller := CallerFrom(r.Context()); caller != nil {
			key = "user:" + caller.UserID
		}
		if !a.apiLimiter.Allow(key) {
			respondError(w, a.logger, apperrors.New(apperrors.KindRateLimitExceeded, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request in the style the
// pack's services log with.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}
