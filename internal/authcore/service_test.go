package authcore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/storage"
)

func newTestService(t *testing.T) (*Service, *Store, *sql.DB) {
	t.Helper()
	pool, err := storage.Open(storage.Options{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store := NewStore(pool.DB)
	svc := NewService(store, Config{
		JWTSecret:      "test-secret",
		PasswordPepper: "test-pepper",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
	})
	return svc, store, pool.DB
}

func registerVerified(t *testing.T, svc *Service, store *Store, email, password string) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterRequest{
		Email: email, Username: email[:4], Password: password,
	})
	require.NoError(t, err)
	require.NoError(t, store.SetVerified(context.Background(), user.ID))
	user.IsVerified = true
	return user
}

func TestHashAndVerifyPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	hash, err := svc.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	assert.True(t, svc.VerifyPassword("hunter2hunter2", hash))
	assert.False(t, svc.VerifyPassword("wrong", hash))
}

func TestHashesAreSalted(t *testing.T) {
	svc, _, _ := newTestService(t)
	h1, err := svc.HashPassword("same-password")
	require.NoError(t, err)
	h2, err := svc.HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestPepperChangesInvalidateHashes(t *testing.T) {
	svc, store, _ := newTestService(t)
	hash, err := svc.HashPassword("some-password")
	require.NoError(t, err)

	other := NewService(store, Config{JWTSecret: "test-secret", PasswordPepper: "different-pepper"})
	assert.False(t, other.VerifyPassword("some-password", hash))
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterRequest{Password: "short"})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidationError, appErr.Kind)
	assert.Len(t, appErr.Messages, 3)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Email: "a@b.com", Username: "first", Password: "longenough"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterRequest{Email: "a@b.com", Username: "second", Password: "longenough"})
	require.Error(t, err)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")

	user, pair, err := svc.Login(context.Background(), LoginRequest{
		Email: "user@example.com", Password: "correct-horse-battery",
	}, 5, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotNil(t, user.LastLoginAt)

	claims, err := svc.ValidateAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, TokenAccess, claims.TokenType)
	assert.Equal(t, "user@example.com", claims.Email)
}

// Every failing login must take at least the 100 ms floor, regardless
// of why it failed.
func TestLoginTimingFloor(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")
	ctx := context.Background()

	cases := []LoginRequest{
		{Email: "nobody@example.com", Password: "whatever"},
		{Email: "user@example.com", Password: "wrong-password"},
	}
	for _, req := range cases {
		start := time.Now()
		_, _, err := svc.Login(ctx, req, 5, time.Hour)
		elapsed := time.Since(start)
		require.Error(t, err)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, req.Email)
	}
}

func TestLoginUnknownEmailIsInvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: "x"}, 5, time.Hour)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidCredentials, appErr.Kind)
}

func TestLoginUnverifiedAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterRequest{Email: "new@example.com", Username: "newb", Password: "longenough"})
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), LoginRequest{Email: "new@example.com", Password: "longenough"}, 5, time.Hour)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAccountNotVerified, appErr.Kind)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "wrong"}, 3, time.Hour)
		require.Error(t, err)
	}

	// even the right password is refused while locked
	_, _, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "correct-horse-battery"}, 3, time.Hour)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAccountLocked, appErr.Kind)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "correct-horse-battery"}, 5, time.Hour)
	require.NoError(t, err)

	_, next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshJTI, next.RefreshJTI)

	// the presented refresh token was blacklisted and can't be replayed
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, apperrors.KindTokenInvalid, appErr.Kind)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "correct-horse-battery"}, 5, time.Hour)
	require.NoError(t, err)

	_, _, err = svc.Refresh(ctx, pair.AccessToken)
	require.Error(t, err)
}

func TestLogoutBlacklistsBothTokens(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerVerified(t, svc, store, "user@example.com", "correct-horse-battery")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "correct-horse-battery"}, 5, time.Hour)
	require.NoError(t, err)

	accessClaims, err := svc.ParseToken(pair.AccessToken)
	require.NoError(t, err)
	refreshClaims, err := svc.ParseToken(pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, accessClaims, refreshClaims))

	_, err = svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.Error(t, err)
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ValidateAccessToken(context.Background(), "not-a-token")
	require.Error(t, err)
	appErr, _ := apperrors.As(err)
	assert.Equal(t, apperrors.KindTokenInvalid, appErr.Kind)
}

func TestEmailVerificationTokenRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Email: "v@example.com", Username: "veri", Password: "longenough"})
	require.NoError(t, err)
	assert.False(t, user.IsVerified)

	token, err := svc.IssueEmailVerificationToken(user, time.Hour)
	require.NoError(t, err)

	verified, err := svc.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	// an access token is not a verification token
	_, pair, err := svc.Login(ctx, LoginRequest{Email: "v@example.com", Password: "longenough"}, 5, time.Hour)
	require.NoError(t, err)
	_, err = svc.VerifyEmail(ctx, pair.AccessToken)
	require.Error(t, err)
}
