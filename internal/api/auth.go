package api

import (
	"net/http"
	"time"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/authcore"
	"github.com/artha-au/baasd/internal/settings"
)

// userResponse is the sanitized user shape every auth endpoint returns;
// password hashes and lockout counters never leave the process.
type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	IsVerified  bool       `json:"is_verified"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toUserResponse(u *authcore.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Role:        u.RoleName,
		IsVerified:  u.IsVerified,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type tokenResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.logger.Info().Str("user_id", user.ID).Msg("user registered")
	respondData(w, http.StatusCreated, toUserResponse(user))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(r.RemoteAddr) {
		respondError(w, a.logger, apperrors.New(apperrors.KindRateLimitExceeded, "too many login attempts"))
		return
	}

	var req authcore.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	maxAttempts := a.settings.Int(settings.CategoryAuth, settings.KeyMaxLoginAttempts, 5)
	lockout := time.Duration(a.settings.Int(settings.CategoryAuth, settings.KeyLockoutDurationMinutes, 60)) * time.Minute

	user, pair, err := a.auth.Login(r.Context(), req, maxAttempts, lockout)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.setAccessCookie(w, pair.AccessToken, pair.ExpiresAt)
	respondData(w, http.StatusOK, tokenResponse{
		User:         toUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}
	if req.RefreshToken == "" {
		respondError(w, a.logger, apperrors.New(apperrors.KindTokenMissing, "refresh_token is required"))
		return
	}

	user, pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.setAccessCookie(w, pair.AccessToken, pair.ExpiresAt)
	respondData(w, http.StatusOK, tokenResponse{
		User:         toUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// handleLogout blacklists the presented access jti and, when the client
// also hands over its refresh token, that jti too.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if caller == nil {
		respondError(w, a.logger, apperrors.New(apperrors.KindTokenMissing, "authentication required"))
		return
	}

	var req logoutRequest
	// body is optional for logout
	_ = decodeBody(r, &req)

	token, _ := authcore.ExtractToken(r)
	accessClaims, err := a.auth.ParseToken(token)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}

	var refreshClaims *authcore.Claims
	if req.RefreshToken != "" {
		if claims, err := a.auth.ParseToken(req.RefreshToken); err == nil {
			refreshClaims = claims
		}
	}

	if err := a.auth.Logout(r.Context(), accessClaims, refreshClaims); err != nil {
		respondError(w, a.logger, err)
		return
	}

	a.clearAccessCookie(w)
	respondMessage(w, http.StatusOK, "logged out")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	user, err := a.authStore.GetUserByID(r.Context(), caller.UserID)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, toUserResponse(user))
}

type verifyEmailRequest struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

// handleVerifyEmail consumes a verification token. Admins may instead
// verify a user directly by email, which is what a deployment without a
// mail adapter falls back to.
func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, a.logger, err)
		return
	}

	if req.Token != "" {
		user, err := a.auth.VerifyEmail(r.Context(), req.Token)
		if err != nil {
			respondError(w, a.logger, err)
			return
		}
		respondData(w, http.StatusOK, toUserResponse(user))
		return
	}

	caller := CallerFrom(r.Context())
	if caller == nil || !caller.IsAdmin() {
		respondError(w, a.logger, apperrors.New(apperrors.KindValidationError, "token is required"))
		return
	}
	if req.Email == "" {
		respondError(w, a.logger, apperrors.Validation("email is required"))
		return
	}
	user, err := a.authStore.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	if err := a.authStore.SetVerified(r.Context(), user.ID); err != nil {
		respondError(w, a.logger, err)
		return
	}
	user.IsVerified = true
	respondData(w, http.StatusOK, toUserResponse(user))
}

func (a *API) setAccessCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     authcore.AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAccessCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authcore.AccessTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
