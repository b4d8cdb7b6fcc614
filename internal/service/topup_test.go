package service

import (
	"strings"
	"testing"
	"time"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWatermarkSource struct {
	seq uint32
	ok  bool
}

func (f *fakeWatermarkSource) CurrentNextSeq() (uint32, bool) {
	return f.seq, f.ok
}

func testConfig() *config.Config {
	return &config.Config{
		Topup: config.TopupConfig{
			Expiry:      30 * time.Minute,
			GraceWindow: 5 * time.Minute,
			MaxPerUser:  3,
		},
	}
}

func TestTopupServiceCreate(t *testing.T) {
	t.Run("创建请求生成4词口令", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewTopupService(store, testConfig(), zap.NewNop())

		topup, err := svc.Create("user-1")

		require.NoError(t, err)
		assert.Equal(t, domain.TopupStatusPending, topup.Status)
		assert.Len(t, strings.Fields(topup.Passphrase), 4)
		assert.Nil(t, topup.ArmedSeq) // 引擎未连接时不带武装水位
		assert.WithinDuration(t, time.Now().Add(30*time.Minute), topup.ExpiresAt, time.Minute)
	})

	t.Run("记录引擎提供的武装水位", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewTopupService(store, testConfig(), zap.NewNop())
		svc.SetWatermarkSource(&fakeWatermarkSource{seq: 1000, ok: true})

		topup, err := svc.Create("user-1")

		require.NoError(t, err)
		require.NotNil(t, topup.ArmedSeq)
		assert.Equal(t, uint32(1000), *topup.ArmedSeq)
	})

	t.Run("超过未完成请求上限被拒绝", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewTopupService(store, testConfig(), zap.NewNop())

		for i := 0; i < 3; i++ {
			_, err := svc.Create("user-1")
			require.NoError(t, err)
		}

		_, err := svc.Create("user-1")
		assert.ErrorIs(t, err, ErrTooManyActiveTopups)
	})

	t.Run("生成的口令在活跃请求中唯一", func(t *testing.T) {
		store := memory.NewStore()
		cfg := testConfig()
		cfg.Topup.MaxPerUser = 50
		svc := NewTopupService(store, cfg, zap.NewNop())

		seen := make(map[string]struct{})
		for i := 0; i < 20; i++ {
			topup, err := svc.Create("user-1")
			require.NoError(t, err)

			normalized := domain.NormalizePhrase(topup.Passphrase)
			_, dup := seen[normalized]
			assert.False(t, dup, "phrase %q generated twice", topup.Passphrase)
			seen[normalized] = struct{}{}
		}
	})
}

func TestTopupServiceFindByExactPhrase(t *testing.T) {
	store := memory.NewStore()
	svc := NewTopupService(store, testConfig(), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "t1", UserID: "u1", Passphrase: "Vine  Oak Stone Reef",
		Status: domain.TopupStatusPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "t2", UserID: "u2", Passphrase: "cedar maple sun tide",
		Status: domain.TopupStatusPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	// 已过期请求不参与匹配
	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "t3", UserID: "u3", Passphrase: "vine oak stone reef",
		Status: domain.TopupStatusPending, ExpiresAt: now.Add(-time.Minute), CreatedAt: now,
	}))

	t.Run("规范化后精确匹配", func(t *testing.T) {
		matches, err := svc.FindByExactPhrase("VINE OAK STONE REEF", now)

		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "t1", matches[0].ID)
	})

	t.Run("无匹配返回空", func(t *testing.T) {
		matches, err := svc.FindByExactPhrase("no such phrase here", now)

		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("空口令不匹配任何请求", func(t *testing.T) {
		matches, err := svc.FindByExactPhrase("   ", now)

		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("收集全部碰撞匹配", func(t *testing.T) {
		require.NoError(t, store.SaveTopup(&domain.TopupRequest{
			ID: "t4", UserID: "u4", Passphrase: "VINE  oak stone REEF",
			Status: domain.TopupStatusPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}))

		matches, err := svc.FindByExactPhrase("vine oak stone reef", now)

		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})
}

func TestTopupServiceGetStatus(t *testing.T) {
	store := memory.NewStore()
	svc := NewTopupService(store, testConfig(), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "t1", UserID: "u1", Status: domain.TopupStatusPending,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}))

	topup, err := svc.GetStatus("t1")
	require.NoError(t, err)

	// 落库状态仍是 pending，但展示状态已是 expired
	assert.Equal(t, domain.TopupStatusPending, topup.Status)
	assert.Equal(t, domain.TopupStatusExpired, topup.DisplayStatus(now))
}

func TestTopupServiceExpireOverdue(t *testing.T) {
	store := memory.NewStore()
	svc := NewTopupService(store, testConfig(), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, store.SaveTopup(&domain.TopupRequest{
		ID: "t1", UserID: "u1", Status: domain.TopupStatusPending, ExpiresAt: now.Add(-time.Minute),
	}))

	count, err := svc.ExpireOverdue()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
