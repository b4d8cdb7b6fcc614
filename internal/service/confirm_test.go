package service

import (
	"testing"
	"time"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
	"coinup/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type confirmFixture struct {
	store   *memory.Store
	topups  *TopupService
	logs    *PaymentLogService
	confirm *ConfirmService
}

func newConfirmFixture(t *testing.T, cfg *config.Config) *confirmFixture {
	t.Helper()

	store := memory.NewStore()
	logger := zap.NewNop()
	topups := NewTopupService(store, cfg, logger)
	logs := NewPaymentLogService(store, logger)

	return &confirmFixture{
		store:   store,
		topups:  topups,
		logs:    logs,
		confirm: NewConfirmService(topups, logs, cfg, logger, nil),
	}
}

func (f *confirmFixture) seedUser(t *testing.T, id string, balance int64) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(&domain.User{
		ID: id, Email: id + "@example.com", Username: id, Balance: balance,
	}))
}

func (f *confirmFixture) seedTopup(t *testing.T, id, userID, phrase string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.SaveTopup(&domain.TopupRequest{
		ID: id, UserID: userID, Passphrase: phrase,
		Status: domain.TopupStatusPending, ExpiresAt: expiresAt, CreatedAt: time.Now().UTC(),
	}))
}

func (f *confirmFixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	user, err := f.store.GetUserByID(userID)
	require.NoError(t, err)
	return user.Balance
}

func baseInput(messageID string) ConfirmInput {
	return ConfirmInput{
		Phrase:      "vine oak stone reef",
		Source:      SourceTopupLine,
		AmountStr:   "40",
		MessageID:   messageID,
		Subject:     "Payment received",
		BodyPreview: "TOPUP: vine oak stone reef",
		EmailDate:   time.Now().UTC(),
	}
}

func TestConfirm(t *testing.T) {
	cfg := testConfig()
	future := time.Now().UTC().Add(30 * time.Minute)

	t.Run("成功入账", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		result, err := f.confirm.Confirm(baseInput("<m1@pay>"))

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "topup-1", result.TopupID)
		assert.Equal(t, "user-1", result.UserID)
		assert.Equal(t, int64(40), result.CreditedAmount)
		assert.Equal(t, int64(40), f.balance(t, "user-1"))

		entry, err := f.logs.FindByMessageID("<m1@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionAccepted, entry.Decision)
		assert.Equal(t, string(SourceTopupLine), entry.Source)
	})

	t.Run("入账金额向下取整", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		input := baseInput("<m1@pay>")
		input.AmountStr = "25.9"

		result, err := f.confirm.Confirm(input)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(25), result.CreditedAmount)
		assert.Equal(t, int64(25), f.balance(t, "user-1"))
	})

	t.Run("同一消息重复确认只入账一次", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		first, err := f.confirm.Confirm(baseInput("<m1@pay>"))
		require.NoError(t, err)
		assert.True(t, first.Success)

		second, err := f.confirm.Confirm(baseInput("<m1@pay>"))
		require.NoError(t, err)
		assert.False(t, second.Success)
		assert.Equal(t, "already processed", second.Reason)
		assert.Equal(t, int64(40), f.balance(t, "user-1"))
	})

	t.Run("非法金额被拒绝", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		for _, amount := range []string{"", "abc", "0", "-3", "0.4"} {
			input := baseInput("<m-" + amount + "@pay>")
			input.AmountStr = amount

			result, err := f.confirm.Confirm(input)

			require.NoError(t, err)
			assert.False(t, result.Success)
		}
		assert.Equal(t, int64(0), f.balance(t, "user-1"))
	})

	t.Run("非有限或越界金额被拒绝", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		// ParseFloat 会接受 inf/nan，float64 到 int64 的越界转换结果
		// 依平台而定，这些值必须在转换前被拒绝
		for _, amount := range []string{"inf", "+inf", "-inf", "nan", "1e30", "9223372036854775808"} {
			input := baseInput("<m-" + amount + "@pay>")
			input.AmountStr = amount

			result, err := f.confirm.Confirm(input)

			require.NoError(t, err)
			assert.False(t, result.Success, "amount %q must not credit", amount)
		}
		assert.Equal(t, int64(0), f.balance(t, "user-1"))

		topup, err := f.store.GetTopup("topup-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TopupStatusPending, topup.Status)
	})

	t.Run("无匹配口令判定为IGNORED", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)

		result, err := f.confirm.Confirm(baseInput("<m1@pay>"))

		require.NoError(t, err)
		assert.False(t, result.Success)

		entry, err := f.logs.FindByMessageID("<m1@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionIgnored, entry.Decision)
	})

	t.Run("多重匹配整体拒绝且余额不变", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedUser(t, "user-2", 0)
		// 非法状态：两个活跃请求规范化后口令相同，用于验证安全网
		f.seedTopup(t, "topup-1", "user-1", "alpha bravo", future)
		f.seedTopup(t, "topup-2", "user-2", "ALPHA  Bravo", future)

		input := baseInput("<m1@pay>")
		input.Phrase = "alpha bravo"

		result, err := f.confirm.Confirm(input)

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Reason, "topup-1")
		assert.Contains(t, result.Reason, "topup-2")
		assert.Equal(t, int64(0), f.balance(t, "user-1"))
		assert.Equal(t, int64(0), f.balance(t, "user-2"))

		entry, err := f.logs.FindByMessageID("<m1@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionRejected, entry.Decision)
	})

	t.Run("邮件时间超出宽限窗口被拒绝", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		expiry := time.Now().UTC().Add(time.Minute)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", expiry)

		input := baseInput("<m1@pay>")
		input.EmailDate = expiry.Add(10 * time.Minute)

		result, err := f.confirm.Confirm(input)

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Reason, "grace window")
		assert.Equal(t, int64(0), f.balance(t, "user-1"))
	})

	t.Run("邮件时间在宽限窗口内被接受", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		expiry := time.Now().UTC().Add(time.Minute)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", expiry)

		input := baseInput("<m1@pay>")
		input.EmailDate = expiry.Add(2 * time.Minute)

		result, err := f.confirm.Confirm(input)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, int64(40), f.balance(t, "user-1"))
	})

	t.Run("已确认请求的口令不再匹配", func(t *testing.T) {
		f := newConfirmFixture(t, cfg)
		f.seedUser(t, "user-1", 0)
		f.seedTopup(t, "topup-1", "user-1", "vine oak stone reef", future)

		first, err := f.confirm.Confirm(baseInput("<m1@pay>"))
		require.NoError(t, err)
		assert.True(t, first.Success)

		// 不同消息、相同口令：请求已终态，按无匹配处理
		second, err := f.confirm.Confirm(baseInput("<m2@pay>"))
		require.NoError(t, err)
		assert.False(t, second.Success)
		assert.Equal(t, int64(40), f.balance(t, "user-1"))

		entry, err := f.logs.FindByMessageID("<m2@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionIgnored, entry.Decision)
	})
}

// racingTopupRepo 模拟确认瞬间被并发抢先的存储层
type racingTopupRepo struct {
	*memory.Store
}

func (r *racingTopupRepo) TryConfirmTopup(id string, amount int64, now time.Time) (*domain.TopupRequest, error) {
	return nil, storage.ErrTopupNotPending
}

func TestConfirmRaceGuard(t *testing.T) {
	cfg := testConfig()
	store := memory.NewStore()
	logger := zap.NewNop()

	repo := &racingTopupRepo{Store: store}
	topups := NewTopupService(repo, cfg, logger)
	logs := NewPaymentLogService(store, logger)
	confirm := NewConfirmService(topups, logs, cfg, logger, nil)

	require.NoError(t, store.CreateUser(&domain.User{ID: "user-1", Email: "a@b.c", Username: "a"}))
	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "topup-1", UserID: "user-1", Passphrase: "vine oak stone reef",
		Status: domain.TopupStatusPending, ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	result, err := confirm.Confirm(baseInput("<m1@pay>"))

	// 竞态守卫中止按系统故障处理，判定记录为 ERROR
	assert.Error(t, err)
	assert.False(t, result.Success)

	entry, logErr := logs.FindByMessageID("<m1@pay>")
	require.NoError(t, logErr)
	require.NotNil(t, entry)
	assert.Equal(t, domain.DecisionError, entry.Decision)
}
