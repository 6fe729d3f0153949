package service

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/model"
)

type fakeUserStore struct {
	users     map[string]*model.User
	passwords map[int]string // id -> stored hash
}

func (f *fakeUserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeUserStore) UpdatePassword(ctx context.Context, id int, hash string) error {
	for _, u := range f.users {
		if u.ID == id {
			u.PasswordHash = hash
			f.passwords[id] = hash
			return nil
		}
	}
	return errors.New("not found")
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:        "test-secret",
		JWTExpiry:        time.Hour,
		BcryptCost:       4,
		SubmitLeaseTTL:   30 * time.Second,
		EntryTokenLength: 6,
	}
}

func setupAuth(t *testing.T) (*AuthService, *fakeUserStore, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := &fakeUserStore{
		users:     make(map[string]*model.User),
		passwords: make(map[int]string),
	}
	svc := NewAuthService(testConfig(), store, rdb)

	hash, err := svc.HashPassword("secret123")
	require.NoError(t, err)
	store.users["budi"] = &model.User{
		ID:           1,
		Username:     "budi",
		Name:         "Budi Santoso",
		Role:         model.RoleStudent,
		PasswordHash: hash,
	}
	store.users["admin"] = &model.User{
		ID:           2,
		Username:     "admin",
		Name:         "Admin",
		Role:         model.RoleAdmin,
		PasswordHash: hash,
	}

	return svc, store, server
}

func TestLoginSuccessReturnsRoleRedirect(t *testing.T) {
	svc, _, _ := setupAuth(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "/student/dashboard", res.RedirectTo)
	require.Equal(t, model.RoleStudent, res.User.Role)

	adminRes, err := svc.Login(ctx, "admin", "secret123")
	require.NoError(t, err)
	require.Equal(t, "/admin/dashboard", adminRes.RedirectTo)
}

func TestLoginWrongPasswordKeepsState(t *testing.T) {
	svc, _, server := setupAuth(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "budi", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// No session entry was written.
	require.False(t, server.Exists(config.CacheKey.UserSessionKey(1)))
}

func TestLoginReplacesPriorSession(t *testing.T) {
	svc, _, _ := setupAuth(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	firstClaims, err := svc.ValidateToken(first.Token)
	require.NoError(t, err)

	second, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	secondClaims, err := svc.ValidateToken(second.Token)
	require.NoError(t, err)

	// The older token still parses but its session is gone.
	require.ErrorIs(t, svc.ValidateSession(ctx, 1, firstClaims.ID), ErrSessionInvalid)
	require.NoError(t, svc.ValidateSession(ctx, 1, secondClaims.ID))
}

func TestIdentityAfterSessionExpiry(t *testing.T) {
	svc, _, server := setupAuth(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)

	user, err := svc.Identity(ctx, claims)
	require.NoError(t, err)
	require.Equal(t, "budi", user.Username)

	// Simulate server-side session expiry: token still valid, registry gone.
	server.Del(config.CacheKey.UserSessionKey(1))

	_, err = svc.Identity(ctx, claims)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, _ := setupAuth(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, 1))
	require.ErrorIs(t, svc.ValidateSession(ctx, 1, claims.ID), ErrSessionInvalid)

	// Second logout with no session is still OK.
	require.NoError(t, svc.Logout(ctx, 1))
}

func TestChangePassword(t *testing.T) {
	svc, store, _ := setupAuth(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)

	// Wrong old password.
	err = svc.ChangePassword(ctx, 1, "wrong", "newpassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// Policy-failing new password. The old-password check runs first, so the
	// caller learns about the weak password only with valid credentials.
	err = svc.ChangePassword(ctx, 1, "secret123", "abc")
	require.ErrorIs(t, err, ErrWeakPassword)

	// Success: hash updated, session untouched.
	err = svc.ChangePassword(ctx, 1, "secret123", "newpassword")
	require.NoError(t, err)
	require.NoError(t, svc.CheckPassword(store.passwords[1], "newpassword"))
	require.NoError(t, svc.ValidateSession(ctx, 1, claims.ID))

	// Old password no longer works for login.
	_, err = svc.Login(ctx, "budi", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "budi", "newpassword")
	require.NoError(t, err)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	svc, _, _ := setupAuth(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "budi", "secret123")
	require.NoError(t, err)

	_, err = svc.ValidateToken(res.Token + "x")
	require.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	require.Error(t, err)
}
