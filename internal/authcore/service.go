package authcore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/artha-au/baasd/internal/apperrors"
)

// loginFloor is the hard minimum wall-clock duration every login
// response takes, win or lose. It defeats a timing oracle that could
// otherwise distinguish "no such email" from "wrong password" from
// "account locked".
const loginFloor = 100 * time.Millisecond

// argonParams are the process-wide Argon2id parameters; not a policy
// the caller can override.
var argonParams = struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}{memory: 64 * 1024, iterations: 4, parallelism: 2, saltLength: 16, keyLength: 32}

// Service implements the Auth Core: hashing, login/refresh/logout, and
// token validation.
type Service struct {
	store      *Store
	jwtSecret  []byte
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Config configures a Service.
type Config struct {
	JWTSecret      string
	PasswordPepper string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
}

// NewService builds a Service over store.
func NewService(store *Store, cfg Config) *Service {
	return &Service{
		store:      store,
		jwtSecret:  []byte(cfg.JWTSecret),
		pepper:     cfg.PasswordPepper,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}
}

// HashPassword derives an Argon2id hash of password+pepper under a
// fresh random salt, encoding both into one self-describing string so
// VerifyPassword doesn't need a separate salt column.
func (s *Service) HashPassword(password string) (string, error) {
	salt := make([]byte, argonParams.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey(s.pepperedPassword(password), salt, argonParams.iterations, argonParams.memory, argonParams.parallelism, argonParams.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonParams.memory, argonParams.iterations, argonParams.parallelism,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks password+pepper against an encoded hash
// produced by HashPassword, in constant time.
func (s *Service) VerifyPassword(password, encoded string) bool {
	var memory, iterations uint32
	var parallelism uint8
	header, salt, hash, ok := splitEncoded(encoded)
	if !ok {
		return false
	}
	if _, err := fmt.Sscanf(header, "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	saltBytes, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	hashBytes, err := base64.RawStdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(s.pepperedPassword(password), saltBytes, iterations, memory, parallelism, uint32(len(hashBytes)))
	return subtle.ConstantTimeCompare(hashBytes, computed) == 1
}

func (s *Service) pepperedPassword(password string) []byte {
	return []byte(password + s.pepper)
}

// splitEncoded pulls the parameter header, salt, and hash back out of
// the "$argon2id$v=19$m=65536,t=4,p=2$<salt>$<hash>" format produced by
// HashPassword.
func splitEncoded(encoded string) (header, salt, hash string, ok bool) {
	parts := splitN(encoded, '$', 6)
	if len(parts) != 6 {
		return "", "", "", false
	}
	return parts[3], parts[4], parts[5], true
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// issueTokenPair builds a signed access+refresh JWT pair for user.
func (s *Service) issueTokenPair(user *User) (TokenPair, error) {
	now := time.Now().UTC()
	accessJTI := uuid.NewString()
	refreshJTI := uuid.NewString()

	accessClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        accessJTI,
		},
		Email:     user.Email,
		Role:      user.RoleName,
		TokenType: TokenAccess,
	}
	refreshClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			ID:        refreshJTI,
		},
		TokenType: TokenRefresh,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.jwtSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.jwtSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken: access, RefreshToken: refresh,
		AccessJTI: accessJTI, RefreshJTI: refreshJTI,
		ExpiresAt: now.Add(s.accessTTL),
	}, nil
}

// ParseToken validates signature and expiry and returns the claims,
// without checking the blacklist (callers on the hot validation path
// should call ValidateAccessToken instead).
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "invalid token")
	}
	return claims, nil
}

// ValidateAccessToken parses an access token, checks its expiry and
// type, and rejects it if its jti has been blacklisted.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenAccess {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "not an access token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, apperrors.New(apperrors.KindTokenExpired, "access token expired")
	}
	blacklisted, err := s.store.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	}
	if blacklisted {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "token has been revoked")
	}
	return claims, nil
}

// Register creates a new user with the default "user" role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var messages []string
	if req.Email == "" {
		messages = append(messages, "email is required")
	}
	if req.Username == "" {
		messages = append(messages, "username is required")
	}
	if len(req.Password) < 8 {
		messages = append(messages, "password must be at least 8 characters")
	}
	if len(messages) > 0 {
		return nil, apperrors.Validation(messages...)
	}

	role, err := s.store.GetRoleByName(ctx, "user")
	if err != nil {
		return nil, fmt.Errorf("look up default role: %w", err)
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return s.store.CreateUser(ctx, req.Email, req.Username, hash, role.ID)
}

// Login authenticates by email and password. Every return path,
// success or failure, blocks until loginFloor has elapsed since entry,
// so no response timing can distinguish failure reasons.
func (s *Service) Login(ctx context.Context, req LoginRequest, maxAttempts int, lockoutDuration time.Duration) (*User, TokenPair, error) {
	start := time.Now()
	defer waitFloor(start)

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, TokenPair{}, apperrors.New(apperrors.KindInvalidCredentials, "invalid email or password")
	}

	if user.IsLocked() {
		return nil, TokenPair{}, apperrors.New(apperrors.KindAccountLocked, "account is temporarily locked")
	}
	if !user.IsVerified {
		return nil, TokenPair{}, apperrors.New(apperrors.KindAccountNotVerified, "account is not verified")
	}

	if !s.VerifyPassword(req.Password, user.PasswordHash) {
		if recErr := s.store.RecordFailedLogin(ctx, user.ID, maxAttempts, lockoutDuration); recErr != nil {
			return nil, TokenPair{}, fmt.Errorf("record failed login: %w", recErr)
		}
		return nil, TokenPair{}, apperrors.New(apperrors.KindInvalidCredentials, "invalid email or password")
	}

	if err := s.store.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		return nil, TokenPair{}, fmt.Errorf("record successful login: %w", err)
	}
	now := time.Now().UTC()
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	pair, err := s.issueTokenPair(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func waitFloor(start time.Time) {
	elapsed := time.Since(start)
	if elapsed < loginFloor {
		time.Sleep(loginFloor - elapsed)
	}
}

// Refresh validates a refresh token, rotates it (the presented jti is
// blacklisted so it can't be replayed), and issues a fresh pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*User, TokenPair, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if claims.TokenType != TokenRefresh {
		return nil, TokenPair{}, apperrors.New(apperrors.KindTokenInvalid, "not a refresh token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, TokenPair{}, apperrors.New(apperrors.KindTokenExpired, "refresh token expired")
	}
	blacklisted, err := s.store.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("check blacklist: %w", err)
	}
	if blacklisted {
		return nil, TokenPair{}, apperrors.New(apperrors.KindTokenInvalid, "refresh token has been revoked")
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if !user.IsActive {
		return nil, TokenPair{}, apperrors.New(apperrors.KindInvalidCredentials, "account is inactive")
	}

	if claims.ExpiresAt != nil {
		if err := s.store.BlacklistToken(ctx, claims.ID, user.ID, TokenRefresh, claims.ExpiresAt.Time, "rotated"); err != nil {
			return nil, TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
		}
	}

	pair, err := s.issueTokenPair(user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// IssueEmailVerificationToken signs a short-lived token that proves
// control of a user's mailbox when presented back at
// POST /auth/verify-email.
func (s *Service) IssueEmailVerificationToken(user *User, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email:     user.Email,
		TokenType: TokenVerify,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign verification token: %w", err)
	}
	return token, nil
}

// VerifyEmail consumes a verification token and marks its subject
// verified.
func (s *Service) VerifyEmail(ctx context.Context, tokenString string) (*User, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenVerify {
		return nil, apperrors.New(apperrors.KindTokenInvalid, "not a verification token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, apperrors.New(apperrors.KindTokenExpired, "verification token expired")
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	user.IsVerified = true
	return user, nil
}

// Logout blacklists both the presented access and refresh jtis.
func (s *Service) Logout(ctx context.Context, accessClaims, refreshClaims *Claims) error {
	if accessClaims != nil && accessClaims.ExpiresAt != nil {
		if err := s.store.BlacklistToken(ctx, accessClaims.ID, accessClaims.Subject, TokenAccess, accessClaims.ExpiresAt.Time, "logout"); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}
	if refreshClaims != nil && refreshClaims.ExpiresAt != nil {
		if err := s.store.BlacklistToken(ctx, refreshClaims.ID, refreshClaims.Subject, TokenRefresh, refreshClaims.ExpiresAt.Time, "logout"); err != nil {
			return fmt.Errorf("blacklist refresh token: %w", err)
		}
	}
	return nil
}
