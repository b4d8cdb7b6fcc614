package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage/memory"
)

func TestRegister(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, zap.NewNop())

	t.Run("注册成功", func(t *testing.T) {
		user, err := svc.Register("alice@example.com", "alice", "password123")

		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, domain.RoleUser, user.Role)
		assert.Zero(t, user.Balance)
		assert.True(t, user.IsActive)
		assert.NotEqual(t, "password123", user.PasswordHash)
	})

	t.Run("邮箱大小写归一", func(t *testing.T) {
		user, err := svc.Register("  Bob@Example.COM ", "bob", "password123")

		require.NoError(t, err)
		assert.Equal(t, "bob@example.com", user.Email)
	})

	t.Run("重复邮箱被拒绝", func(t *testing.T) {
		_, err := svc.Register("alice@example.com", "alice2", "password123")
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("重复用户名被拒绝", func(t *testing.T) {
		_, err := svc.Register("other@example.com", "alice", "password123")
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("非法邮箱被拒绝", func(t *testing.T) {
		for _, email := range []string{"", "noat", "a@b", "a b@example.com"} {
			_, err := svc.Register(email, "validname", "password123")
			assert.ErrorIs(t, err, ErrInvalidEmail, "email=%q", email)
		}
	})

	t.Run("非法用户名被拒绝", func(t *testing.T) {
		for _, name := range []string{"ab", "has space", "way-too-hyphenated"} {
			_, err := svc.Register("new@example.com", name, "password123")
			assert.ErrorIs(t, err, ErrInvalidUsername, "username=%q", name)
		}
	})

	t.Run("弱密码被拒绝", func(t *testing.T) {
		_, err := svc.Register("new@example.com", "newuser", "short")
		assert.ErrorIs(t, err, ErrWeakPassword)
	})
}

func TestLogin(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, zap.NewNop())

	registered, err := svc.Register("carol@example.com", "carol", "password123")
	require.NoError(t, err)

	t.Run("邮箱登录", func(t *testing.T) {
		user, err := svc.Login("carol@example.com", "password123")

		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("用户名登录", func(t *testing.T) {
		user, err := svc.Login("carol", "password123")

		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := svc.Login("carol@example.com", "wrongpass123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("未知用户", func(t *testing.T) {
		_, err := svc.Login("nobody@example.com", "password123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("停用用户被拒绝", func(t *testing.T) {
		user, err := store.GetUserByID(registered.ID)
		require.NoError(t, err)
		user.IsActive = false
		require.NoError(t, store.UpdateUser(user))

		_, err = svc.Login("carol@example.com", "password123")
		assert.ErrorIs(t, err, ErrUserDisabled)
	})
}

func TestChangePassword(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, zap.NewNop())

	user, err := svc.Register("dave@example.com", "dave", "password123")
	require.NoError(t, err)

	t.Run("旧密码错误", func(t *testing.T) {
		err := svc.ChangePassword(user.ID, "wrongpass123", "newpassword1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("新密码过弱", func(t *testing.T) {
		err := svc.ChangePassword(user.ID, "password123", "short")
		assert.ErrorIs(t, err, ErrWeakPassword)
	})

	t.Run("修改成功后旧密码失效", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(user.ID, "password123", "newpassword1"))

		_, err := svc.Login("dave@example.com", "password123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = svc.Login("dave@example.com", "newpassword1")
		assert.NoError(t, err)
	})
}
