package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devinbox/backend/internal/auth/jwt"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	manager := jwt.NewManager("test-secret-at-least-32-characters!!", "devinbox-test", 15*time.Minute, 7*24*time.Hour)
	return NewService(store, manager, store, zap.NewNop()), store
}

func setupAdmin(t *testing.T, svc *Service) (*domain.Account, *jwt.TokenPair) {
	t.Helper()
	account, pair, err := svc.Setup(domain.SetupRequest{
		Email:    "admin@example.com",
		Name:     "Admin",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	return account, pair
}

func TestSetup(t *testing.T) {
	t.Run("创建初始管理员", func(t *testing.T) {
		svc, _ := newTestService(t)

		needed, err := svc.NeedsSetup()
		require.NoError(t, err)
		assert.True(t, needed)

		account, pair := setupAdmin(t, svc)
		assert.Equal(t, "admin@example.com", account.Email)
		assert.Equal(t, domain.RoleAdmin, account.Role)
		assert.True(t, account.IsActive)
		assert.NotEmpty(t, pair.AccessToken)

		needed, err = svc.NeedsSetup()
		require.NoError(t, err)
		assert.False(t, needed)
	})

	t.Run("重复安装被拒", func(t *testing.T) {
		svc, _ := newTestService(t)
		setupAdmin(t, svc)

		_, _, err := svc.Setup(domain.SetupRequest{Email: "second@example.com", Password: "s3cret-pass"})
		assert.ErrorIs(t, err, ErrSetupComplete)
	})

	t.Run("弱密码被拒", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, _, err := svc.Setup(domain.SetupRequest{Email: "admin@example.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("非法邮箱被拒", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, _, err := svc.Setup(domain.SetupRequest{Email: "not-an-email", Password: "s3cret-pass"})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	setupAdmin(t, svc)

	t.Run("正确凭证登录", func(t *testing.T) {
		account, pair, err := svc.Login(domain.LoginRequest{Email: "Admin@Example.com", Password: "s3cret-pass"})
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", account.Email)
		assert.NotEmpty(t, pair.AccessToken)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, _, err := svc.Login(domain.LoginRequest{Email: "admin@example.com", Password: "wrong-pass"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("账号不存在与密码错误不可区分", func(t *testing.T) {
		_, _, err := svc.Login(domain.LoginRequest{Email: "nobody@example.com", Password: "s3cret-pass"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	_, pair := setupAdmin(t, svc)

	t.Run("访问令牌换取账号", func(t *testing.T) {
		account, claims, err := svc.Authenticate(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", account.Email)
		assert.Equal(t, account.ID, claims.AccountID)
	})

	t.Run("刷新令牌不能用于访问", func(t *testing.T) {
		_, _, err := svc.Authenticate(pair.RefreshToken)
		assert.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("退出后令牌失效", func(t *testing.T) {
		_, fresh, err := svc.Login(domain.LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"})
		require.NoError(t, err)

		require.NoError(t, svc.Logout(fresh.AccessToken))
		_, _, err = svc.Authenticate(fresh.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

func TestRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	_, pair := setupAdmin(t, svc)

	t.Run("刷新成功", func(t *testing.T) {
		access, err := svc.Refresh(pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, access)

		_, _, err = svc.Authenticate(access)
		require.NoError(t, err)
	})

	t.Run("拉黑后的刷新令牌失效", func(t *testing.T) {
		require.NoError(t, svc.Logout(pair.RefreshToken))
		_, err := svc.Refresh(pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	account, _ := setupAdmin(t, svc)

	t.Run("旧密码错误", func(t *testing.T) {
		err := svc.ChangePassword(account.ID, "wrong-pass", "new-s3cret-pass")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("新密码太弱", func(t *testing.T) {
		err := svc.ChangePassword(account.ID, "s3cret-pass", "short")
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("修改成功后旧密码失效", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(account.ID, "s3cret-pass", "new-s3cret-pass"))

		_, _, err := svc.Login(domain.LoginRequest{Email: "admin@example.com", Password: "s3cret-pass"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, _, err = svc.Login(domain.LoginRequest{Email: "admin@example.com", Password: "new-s3cret-pass"})
		require.NoError(t, err)
	})
}
