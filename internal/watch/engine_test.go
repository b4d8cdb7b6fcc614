package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/extractor"
	"coinup/backend/internal/mailbox"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
	"coinup/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	folder      string
	total       uint32
	messages    []mailbox.Inbound
	fetchedFrom uint32
	fetchedTo   uint32
	fetched     bool
	seen        []uint32
	fetchErr    error
}

func (s *fakeSession) Folder() string        { return s.folder }
func (s *fakeSession) TotalMessages() uint32 { return s.total }
func (s *fakeSession) NextSeq() uint32       { return s.total + 1 }

func (s *fakeSession) FetchRange(from, to uint32) ([]mailbox.Inbound, error) {
	s.fetched = true
	s.fetchedFrom = from
	s.fetchedTo = to
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var result []mailbox.Inbound
	for _, m := range s.messages {
		if m.Seq >= from && m.Seq <= to {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *fakeSession) MarkSeen(seq uint32) error {
	s.seen = append(s.seen, seq)
	return nil
}

func (s *fakeSession) Close() error { return nil }

type fakeDialer struct {
	sess  *fakeSession
	err   error
	dials int
}

func (d *fakeDialer) Dial() (mailbox.Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type fakeExtractor struct {
	extractFn func(content, subject string) (*extractor.Facts, error)
}

func (f *fakeExtractor) Extract(_ context.Context, content, subject string) (*extractor.Facts, error) {
	return f.extractFn(content, subject)
}

func sentPayment(amount string) func(string, string) (*extractor.Facts, error) {
	return func(string, string) (*extractor.Facts, error) {
		return &extractor.Facts{Amount: amount, PayType: "sent"}, nil
	}
}

// failingMarks 让去重标记读取固定失败，其余操作透传
type failingMarks struct {
	storage.ProcessedMarkRepository
	readErr error
}

func (m *failingMarks) IsProcessed(folder string, seq uint32) (bool, error) {
	return false, m.readErr
}

type engineFixture struct {
	store  *memory.Store
	topups *service.TopupService
	logs   *service.PaymentLogService
	engine *Engine
	dialer *fakeDialer
}

func watchConfig() *config.Config {
	return &config.Config{
		Mail: config.MailConfig{
			Folders:      []string{"INBOX"},
			PollInterval: 30 * time.Second,
			BackoffBase:  10 * time.Second,
			BackoffMax:   10 * time.Minute,
		},
		Topup: config.TopupConfig{
			Expiry:      30 * time.Minute,
			GraceWindow: 5 * time.Minute,
			MaxPerUser:  3,
		},
	}
}

func newEngineFixture(t *testing.T, sess *fakeSession, extract extractor.Extractor) *engineFixture {
	t.Helper()

	store := memory.NewStore()
	logger := zap.NewNop()
	cfg := watchConfig()

	topups := service.NewTopupService(store, cfg, logger)
	logs := service.NewPaymentLogService(store, logger)
	confirm := service.NewConfirmService(topups, logs, cfg, logger, nil)
	dialer := &fakeDialer{sess: sess}

	engine := NewEngine(dialer, extract, topups, confirm, logs, store, cfg, logger, nil)

	return &engineFixture{
		store:  store,
		topups: topups,
		logs:   logs,
		engine: engine,
		dialer: dialer,
	}
}

func (f *engineFixture) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(&domain.User{
		ID: id, Email: id + "@example.com", Username: id,
	}))
}

func (f *engineFixture) seedArmedTopup(t *testing.T, id, userID, phrase string, armedSeq uint32) {
	t.Helper()
	seq := armedSeq
	require.NoError(t, f.store.SaveTopup(&domain.TopupRequest{
		ID: id, UserID: userID, Passphrase: phrase,
		Status: domain.TopupStatusPending, ArmedSeq: &seq,
		ExpiresAt: time.Now().UTC().Add(30 * time.Minute),
		CreatedAt: time.Now().UTC(),
	}))
}

func TestEngineScanOnce(t *testing.T) {
	t.Run("完整入账场景", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1005,
			messages: []mailbox.Inbound{{
				Seq:       1005,
				MessageID: "<m1005@pay>",
				Subject:   "Payment received",
				Date:      time.Now().UTC(),
				RawBody:   "You sent a payment.\nTOPUP: vine oak stone reef\n",
			}},
		}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		require.NoError(t, f.engine.ScanOnce())

		// 扫描范围从武装水位开始
		assert.True(t, sess.fetched)
		assert.Equal(t, uint32(1000), sess.fetchedFrom)
		assert.Equal(t, uint32(1005), sess.fetchedTo)

		// 入账生效
		user, err := f.store.GetUserByID("user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(40), user.Balance)

		topup, err := f.store.GetTopup("topup-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TopupStatusConfirmed, topup.Status)

		// 判定与标记落库，水位推进到已检视的最高序号之后
		entry, err := f.logs.FindByMessageID("<m1005@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionAccepted, entry.Decision)

		processed, err := f.store.IsProcessed("INBOX", 1005)
		require.NoError(t, err)
		assert.True(t, processed)

		assert.Equal(t, uint32(1006), f.engine.WatermarkFloor())
		assert.Contains(t, sess.seen, uint32(1005))
	})

	t.Run("无武装请求时跳过扫描", func(t *testing.T) {
		sess := &fakeSession{folder: "INBOX", total: 100}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})

		require.NoError(t, f.engine.ScanOnce())

		assert.Equal(t, 0, f.dialer.dials)
		assert.False(t, sess.fetched)
	})

	t.Run("无武装序号的待确认请求不触发扫描", func(t *testing.T) {
		sess := &fakeSession{folder: "INBOX", total: 100}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		require.NoError(t, f.store.SaveTopup(&domain.TopupRequest{
			ID: "topup-1", UserID: "user-1", Passphrase: "vine oak stone reef",
			Status:    domain.TopupStatusPending,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}))

		require.NoError(t, f.engine.ScanOnce())

		assert.Equal(t, 0, f.dialer.dials)
	})

	t.Run("已处理消息直接跳过", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1005,
			messages: []mailbox.Inbound{{
				Seq: 1005, MessageID: "<m1005@pay>", Date: time.Now().UTC(),
				RawBody: "TOPUP: vine oak stone reef",
			}},
		}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)
		require.NoError(t, f.store.MarkProcessed("INBOX", 1005))

		require.NoError(t, f.engine.ScanOnce())

		user, err := f.store.GetUserByID("user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), user.Balance)

		entry, err := f.logs.FindByMessageID("<m1005@pay>")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("提取器故障记ERROR且不再重试", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1001,
			messages: []mailbox.Inbound{{
				Seq: 1001, MessageID: "<m1001@pay>", Date: time.Now().UTC(), RawBody: "whatever",
			}},
		}
		failing := &fakeExtractor{extractFn: func(string, string) (*extractor.Facts, error) {
			return nil, extractor.ErrExtractorTimeout
		}}
		f := newEngineFixture(t, sess, failing)
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		require.NoError(t, f.engine.ScanOnce())

		entry, err := f.logs.FindByMessageID("<m1001@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionError, entry.Decision)

		processed, err := f.store.IsProcessed("INBOX", 1001)
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("未通过业务规则的邮件记REJECTED", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1001,
			messages: []mailbox.Inbound{{
				Seq: 1001, MessageID: "<m1001@pay>", Date: time.Now().UTC(),
				Subject: "Newsletter", RawBody: "nothing useful",
			}},
		}
		newsletter := &fakeExtractor{extractFn: func(string, string) (*extractor.Facts, error) {
			return &extractor.Facts{PayType: "received"}, nil
		}}
		f := newEngineFixture(t, sess, newsletter)
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		require.NoError(t, f.engine.ScanOnce())

		entry, err := f.logs.FindByMessageID("<m1001@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, domain.DecisionRejected, entry.Decision)
	})

	t.Run("去重标记读取失败时周期失败且水位不动", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1005,
			messages: []mailbox.Inbound{{
				Seq: 1005, MessageID: "<m1005@pay>", Date: time.Now().UTC(),
				RawBody: "TOPUP: vine oak stone reef",
			}},
		}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)
		f.engine.marks = &failingMarks{
			ProcessedMarkRepository: f.store,
			readErr:                 errors.New("marker store unavailable"),
		}

		err := f.engine.ScanOnce()
		require.Error(t, err)

		// 消息不计入已检视：水位不推进，没有判定记录也没有标记，
		// 下一轮退避重试时还能再看到这封消息
		assert.Equal(t, uint32(0), f.engine.WatermarkFloor())

		entry, lookupErr := f.logs.FindByMessageID("<m1005@pay>")
		require.NoError(t, lookupErr)
		assert.Nil(t, entry)

		processed, markErr := f.store.IsProcessed("INBOX", 1005)
		require.NoError(t, markErr)
		assert.False(t, processed)

		user, userErr := f.store.GetUserByID("user-1")
		require.NoError(t, userErr)
		assert.Equal(t, int64(0), user.Balance)
	})

	t.Run("连接失败返回错误", func(t *testing.T) {
		f := newEngineFixture(t, nil, &fakeExtractor{extractFn: sentPayment("40")})
		f.dialer.err = errors.New("connection refused")
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		err := f.engine.ScanOnce()
		assert.Error(t, err)
	})

	t.Run("抓取失败返回错误", func(t *testing.T) {
		sess := &fakeSession{folder: "INBOX", total: 1005, fetchErr: errors.New("fetch broken")}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		err := f.engine.ScanOnce()
		assert.Error(t, err)
	})

	t.Run("水位不低于已推进的下限", func(t *testing.T) {
		sess := &fakeSession{
			folder: "INBOX",
			total:  1010,
			messages: []mailbox.Inbound{{
				Seq: 1006, MessageID: "<m1006@pay>", Date: time.Now().UTC(), RawBody: "noise",
			}},
		}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		require.NoError(t, f.engine.ScanOnce())
		assert.Equal(t, uint32(1000), sess.fetchedFrom)
		assert.Equal(t, uint32(1007), f.engine.WatermarkFloor())

		// 第二轮：起点抬升到下限，即使武装序号更小
		require.NoError(t, f.engine.ScanOnce())
		assert.Equal(t, uint32(1007), sess.fetchedFrom)
	})

	t.Run("记录邮箱下一序号供武装水位使用", func(t *testing.T) {
		sess := &fakeSession{folder: "INBOX", total: 1005}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})
		f.seedUser(t, "user-1")
		f.seedArmedTopup(t, "topup-1", "user-1", "vine oak stone reef", 1000)

		_, known := f.engine.CurrentNextSeq()
		assert.False(t, known)

		require.NoError(t, f.engine.ScanOnce())

		seq, known := f.engine.CurrentNextSeq()
		assert.True(t, known)
		assert.Equal(t, uint32(1006), seq)
	})
}

func TestEngineStartStop(t *testing.T) {
	t.Run("凭证校验失败时不启动", func(t *testing.T) {
		f := newEngineFixture(t, nil, &fakeExtractor{extractFn: sentPayment("40")})
		f.dialer.err = mailbox.ErrAuthFailed

		err := f.engine.Start()
		assert.ErrorIs(t, err, mailbox.ErrAuthFailed)

		// 启动失败后可以再次尝试
		f.dialer.err = nil
		f.dialer.sess = &fakeSession{folder: "INBOX", total: 10}
		require.NoError(t, f.engine.Start())
		f.engine.Stop()
	})

	t.Run("启动后记录下一序号并可停止", func(t *testing.T) {
		sess := &fakeSession{folder: "INBOX", total: 42}
		f := newEngineFixture(t, sess, &fakeExtractor{extractFn: sentPayment("40")})

		require.NoError(t, f.engine.Start())

		seq, known := f.engine.CurrentNextSeq()
		assert.True(t, known)
		assert.Equal(t, uint32(43), seq)

		assert.ErrorIs(t, f.engine.Start(), ErrAlreadyRunning)

		f.engine.Stop()

		// 停止后可重新启动
		require.NoError(t, f.engine.Start())
		f.engine.Stop()
	})
}
