package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/extractor"
	"coinup/backend/internal/mailbox"
	"coinup/backend/internal/monitoring"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
)

// ErrAlreadyRunning 引擎已在运行
var ErrAlreadyRunning = errors.New("watch engine is already running")

// State 轮询引擎状态
type State int32

const (
	// StateIdle 空闲，等待下一次扫描
	StateIdle State = iota
	// StateConnecting 正在连接邮箱
	StateConnecting
	// StateScanning 正在扫描消息
	StateScanning
	// StateBackoff 失败退避中
	StateBackoff
)

// Engine 付款邮箱轮询引擎。
//
// 单个引擎实例就是一个逻辑工作者：一次只跑一个扫描周期，周期内
// 消息顺序处理。所有可变轮询状态（水位下限、退避值、停止标志）
// 都是实例字段，可以为每个邮箱或每个测试独立构造。
type Engine struct {
	dialer     mailbox.Dialer
	extract    extractor.Extractor
	topups     *service.TopupService
	confirm    *service.ConfirmService
	paymentLog *service.PaymentLogService
	marks      storage.ProcessedMarkRepository
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	// scanning 防止扫描周期重叠：上一轮没结束时本轮直接跳过
	scanning sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	backoff  time.Duration

	// 水位下限只会前进，扫描起点不会低于它
	floorMu        sync.Mutex
	watermarkFloor uint32

	// 邮箱下一序号快照，供创建充值请求时记录武装水位
	seqMu        sync.RWMutex
	nextSeq      uint32
	nextSeqKnown bool
}

// NewEngine 创建轮询引擎。
func NewEngine(
	dialer mailbox.Dialer,
	extract extractor.Extractor,
	topups *service.TopupService,
	confirm *service.ConfirmService,
	paymentLog *service.PaymentLogService,
	marks storage.ProcessedMarkRepository,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *Engine {
	return &Engine{
		dialer:     dialer,
		extract:    extract,
		topups:     topups,
		confirm:    confirm,
		paymentLog: paymentLog,
		marks:      marks,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		backoff:    cfg.Mail.BackoffBase,
	}
}

// CurrentNextSeq 返回最近一次连接时观察到的邮箱下一序号。
// 引擎从未成功连接时返回 false。
func (e *Engine) CurrentNextSeq() (uint32, bool) {
	e.seqMu.RLock()
	defer e.seqMu.RUnlock()
	return e.nextSeq, e.nextSeqKnown
}

// Start 校验凭证并启动轮询循环。
//
// 凭证校验只在启动时做一次：登录失败直接返回错误而不进入循环，
// 避免拿着坏凭证无限重试。校验成功后顺带记下邮箱当前的下一序号。
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.done = make(chan struct{})
	e.backoff = e.cfg.Mail.BackoffBase
	e.mu.Unlock()

	sess, err := e.dialer.Dial()
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("mailbox credential check failed: %w", err)
	}
	e.updateNextSeq(sess.NextSeq())
	if err := sess.Close(); err != nil {
		e.logger.Warn("failed to close credential check session", zap.Error(err))
	}

	e.logger.Info("watch engine started",
		zap.Duration("poll_interval", e.cfg.Mail.PollInterval),
		zap.Strings("folders", e.cfg.Mail.Folders))

	go e.loop()
	return nil
}

// Running 报告轮询循环是否在运行
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop 发出协作式停止信号并等待循环退出，进行中的扫描会先做完。
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	done := e.done
	e.mu.Unlock()

	<-done
	e.logger.Info("watch engine stopped")
}

// loop 主循环：扫描成功按固定间隔，失败按指数退避
func (e *Engine) loop() {
	defer close(e.done)

	for {
		e.setState(StateIdle)

		err := e.ScanOnce()

		var wait time.Duration
		if err != nil {
			e.mu.Lock()
			wait = e.backoff
			e.backoff *= 2
			if e.backoff > e.cfg.Mail.BackoffMax {
				e.backoff = e.cfg.Mail.BackoffMax
			}
			e.mu.Unlock()

			e.setState(StateBackoff)
			if e.metrics != nil {
				e.metrics.EngineBackoff.Set(wait.Seconds())
				e.metrics.RecordError("scan", "engine")
			}
			e.logger.Warn("scan cycle failed, backing off",
				zap.Duration("backoff", wait), zap.Error(err))
		} else {
			e.mu.Lock()
			e.backoff = e.cfg.Mail.BackoffBase
			e.mu.Unlock()

			wait = e.cfg.Mail.PollInterval
			if e.metrics != nil {
				e.metrics.EngineBackoff.Set(0)
			}
		}

		select {
		case <-time.After(wait):
		case <-e.stopChan:
			return
		}
	}
}

// ScanOnce 执行一个完整扫描周期。
//
// 返回 error 代表周期级失败（连接、抓取或去重标记存储故障），
// 触发退避重试；单封消息的判定故障在周期内记为 ERROR 判定并打
// 已处理标记，不会让周期失败，也不会自动重试该消息。
func (e *Engine) ScanOnce() error {
	if !e.scanning.TryLock() {
		e.logger.Debug("previous scan still running, skipping this cycle")
		return nil
	}
	defer e.scanning.Unlock()

	started := time.Now()
	now := time.Now().UTC()

	active, err := e.topups.ListActive(now)
	if err != nil {
		e.recordCycle("error", started)
		return fmt.Errorf("failed to list active topups: %w", err)
	}

	// 水位：所有携带武装序号的待确认请求中的最小值；
	// 一个都没有时本周期不扫描，省一次连接
	armedMin, armed := minArmedSeq(active)
	if !armed {
		e.logger.Debug("no armed pending requests, skipping scan")
		e.recordCycle("skipped", started)
		return nil
	}

	e.setState(StateConnecting)
	sess, err := e.dialer.Dial()
	if err != nil {
		e.recordCycle("connect_error", started)
		return err
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			e.logger.Warn("failed to close mailbox session", zap.Error(closeErr))
		}
	}()

	e.updateNextSeq(sess.NextSeq())

	from := armedMin
	e.floorMu.Lock()
	if e.watermarkFloor > from {
		from = e.watermarkFloor
	}
	e.floorMu.Unlock()

	to := sess.TotalMessages()
	if from > to {
		e.logger.Debug("no new messages to scan",
			zap.Uint32("from", from), zap.Uint32("total", to))
		e.recordCycle("empty", started)
		return nil
	}

	e.setState(StateScanning)
	messages, err := sess.FetchRange(from, to)
	if err != nil {
		e.recordCycle("fetch_error", started)
		return err
	}

	var highestVisited uint32
	visited := false
	for _, msg := range messages {
		select {
		case <-e.stopChan:
			// 协作式停止：处理完当前消息集之前只在消息边界让步
			e.advanceFloor(highestVisited, visited)
			e.recordCycle("stopped", started)
			return nil
		default:
		}

		if err := e.processMessage(sess, msg); err != nil {
			// 去重标记读不出来就不能安全推进：该消息不计入已检视，
			// 让周期失败走退避重试，而不是无声跳过
			e.advanceFloor(highestVisited, visited)
			e.recordCycle("marker_error", started)
			return err
		}

		visited = true
		if msg.Seq > highestVisited {
			highestVisited = msg.Seq
		}
	}

	e.advanceFloor(highestVisited, visited)
	e.recordCycle("ok", started)

	e.logger.Debug("scan cycle completed",
		zap.Uint32("from", from), zap.Uint32("to", to),
		zap.Int("messages", len(messages)),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}

// processMessage 对单封消息做完整判定流水线。
//
// 判定一旦做出（含提取器故障的 ERROR 判定），消息就会被打上已处理
// 标记，同一封消息最多被检视一次。去重标记本身读取失败时返回
// error 让整个周期失败重试，否则消息会在水位推进后被永久漏掉。
func (e *Engine) processMessage(sess mailbox.Session, msg mailbox.Inbound) error {
	folder := sess.Folder()

	processed, err := e.marks.IsProcessed(folder, msg.Seq)
	if err != nil {
		return fmt.Errorf("failed to check processed marker for seq %d: %w", msg.Seq, err)
	}
	if processed {
		if e.metrics != nil {
			e.metrics.MessagesSkipped.Inc()
		}
		return nil
	}

	if e.metrics != nil {
		e.metrics.MessagesScanned.Inc()
	}

	extractStart := time.Now()
	facts, err := e.extract.Extract(context.Background(), msg.RawBody, msg.Subject)
	if e.metrics != nil {
		e.metrics.ExtractorDuration.Observe(time.Since(extractStart).Seconds())
	}
	if err != nil {
		// 提取器超时或输出非法按系统故障记 ERROR，仍打标记不再重试
		e.recordDecision(msg, domain.DecisionError, fmt.Sprintf("extractor failure: %v", err), "", "")
		e.markProcessed(folder, msg.Seq)
		return nil
	}

	result := service.ValidatePayment(facts, msg.RawBody, msg.Subject)
	if !result.Valid {
		e.recordDecision(msg, result.Decision, result.Reason, result.Phrase, result.Source)
		e.markProcessed(folder, msg.Seq)
		e.markSeen(sess, msg.Seq)
		return nil
	}

	if _, err := e.confirm.Confirm(service.ConfirmInput{
		Phrase:      result.Phrase,
		Source:      result.Source,
		AmountStr:   result.Amount,
		MessageID:   msg.MessageID,
		Subject:     msg.Subject,
		BodyPreview: msg.RawBody,
		EmailDate:   msg.Date,
	}); err != nil {
		// 判定记录与告警已由编排层完成，这里只保证标记照打
		e.logger.Error("confirm pipeline fault",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}

	e.markProcessed(folder, msg.Seq)
	e.markSeen(sess, msg.Seq)
	return nil
}

// recordDecision 写入一条终态判定（确认编排之外的路径使用）
func (e *Engine) recordDecision(msg mailbox.Inbound, decision domain.PaymentDecision, reason, phrase string, source service.PhraseSource) {
	if err := e.paymentLog.Record(service.RecordInput{
		MessageID:   msg.MessageID,
		Decision:    decision,
		Reason:      reason,
		Phrase:      phrase,
		Source:      source,
		Subject:     msg.Subject,
		BodyPreview: msg.RawBody,
		EmailDate:   msg.Date,
	}); err != nil {
		e.logger.Error("failed to record decision",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RecordDecision(string(decision))
	}
}

func (e *Engine) markProcessed(folder string, seq uint32) {
	if err := e.marks.MarkProcessed(folder, seq); err != nil {
		e.logger.Error("failed to mark message processed",
			zap.String("folder", folder), zap.Uint32("seq", seq), zap.Error(err))
	}
}

func (e *Engine) markSeen(sess mailbox.Session, seq uint32) {
	if err := sess.MarkSeen(seq); err != nil {
		e.logger.Warn("failed to flag message as seen",
			zap.Uint32("seq", seq), zap.Error(err))
	}
}

// advanceFloor 把水位下限推进到本轮实际检视的最高序号之后，
// 只前进不后退；本轮没有检视任何消息时不动。
func (e *Engine) advanceFloor(highestVisited uint32, visited bool) {
	if !visited {
		return
	}
	e.floorMu.Lock()
	if highestVisited+1 > e.watermarkFloor {
		e.watermarkFloor = highestVisited + 1
	}
	floor := e.watermarkFloor
	e.floorMu.Unlock()

	if e.metrics != nil {
		e.metrics.WatermarkSeq.Set(float64(floor))
	}
}

// WatermarkFloor 返回当前水位下限，主要用于状态接口与测试。
func (e *Engine) WatermarkFloor() uint32 {
	e.floorMu.Lock()
	defer e.floorMu.Unlock()
	return e.watermarkFloor
}

func (e *Engine) updateNextSeq(seq uint32) {
	e.seqMu.Lock()
	e.nextSeq = seq
	e.nextSeqKnown = true
	e.seqMu.Unlock()
}

func (e *Engine) setState(s State) {
	if e.metrics != nil {
		e.metrics.EngineState.Set(float64(s))
	}
}

func (e *Engine) recordCycle(outcome string, started time.Time) {
	if e.metrics != nil {
		e.metrics.RecordPollCycle(outcome, time.Since(started))
	}
}

// minArmedSeq 计算待确认请求武装序号的最小值
func minArmedSeq(active []domain.TopupRequest) (uint32, bool) {
	var min uint32
	found := false
	for _, t := range active {
		if t.ArmedSeq == nil {
			continue
		}
		if !found || *t.ArmedSeq < min {
			min = *t.ArmedSeq
			found = true
		}
	}
	return min, found
}
