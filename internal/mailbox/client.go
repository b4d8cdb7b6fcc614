package mailbox

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

var (
	// ErrConnectionFailed IMAP 连接失败
	ErrConnectionFailed = errors.New("IMAP connection failed")
	// ErrAuthFailed IMAP 认证失败
	ErrAuthFailed = errors.New("IMAP authentication failed")
	// ErrNoFolderAvailable 候选文件夹全部打开失败
	ErrNoFolderAvailable = errors.New("no mailbox folder could be opened")
)

// Config IMAP 邮箱连接配置
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
	Folders  []string      // 依次尝试打开的文件夹，首个成功者生效
	Timeout  time.Duration // 连接与命令超时
}

// Inbound 从邮箱抓取到的一封待检消息。
//
// RawBody 为消息原文，MIME 结构不在本层解析，原样交给外部提取器。
type Inbound struct {
	Seq       uint32 // 文件夹内序号
	MessageID string // Message-Id 头，缺失时用 "seq:<n>" 兜底
	Subject   string
	Date      time.Time
	RawBody   string
}

// Session 一次已登录、已选定文件夹的邮箱会话。
type Session interface {
	// Folder 返回实际打开的文件夹名
	Folder() string
	// TotalMessages 返回文件夹内消息总数
	TotalMessages() uint32
	// NextSeq 返回下一封新邮件将获得的序号
	NextSeq() uint32
	// FetchRange 抓取 [from, to] 序号区间内的消息（含信封与原文）
	FetchRange(from, to uint32) ([]Inbound, error)
	// MarkSeen 给指定消息打上已读标记
	MarkSeen(seq uint32) error
	// Close 登出并断开连接
	Close() error
}

// Dialer 建立邮箱会话的抽象，轮询引擎只依赖本接口。
type Dialer interface {
	Dial() (Session, error)
}

// IMAPDialer 基于 go-imap 的 Dialer 实现
type IMAPDialer struct {
	cfg Config
}

// NewDialer 创建 IMAP Dialer
func NewDialer(cfg Config) *IMAPDialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX"}
	}
	return &IMAPDialer{cfg: cfg}
}

// Dial 连接并登录邮箱，依次尝试候选文件夹直到成功
func (d *IMAPDialer) Dial() (Session, error) {
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	dialer := &net.Dialer{Timeout: d.cfg.Timeout}

	var c *client.Client
	if d.cfg.UseSSL {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: d.cfg.Host})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	} else {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	c.Timeout = d.cfg.Timeout

	if err := c.Login(d.cfg.Username, d.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	var mbox *imap.MailboxStatus
	var folder string
	var lastErr error
	for _, name := range d.cfg.Folders {
		status, err := c.Select(name, false)
		if err != nil {
			lastErr = err
			continue
		}
		mbox = status
		folder = name
		break
	}
	if mbox == nil {
		c.Logout()
		return nil, fmt.Errorf("%w: %v", ErrNoFolderAvailable, lastErr)
	}

	return &imapSession{c: c, mbox: mbox, folder: folder}, nil
}

// CheckCredentials 启动时的一次性凭证校验：能登录并打开文件夹即通过。
func (d *IMAPDialer) CheckCredentials() error {
	sess, err := d.Dial()
	if err != nil {
		return err
	}
	return sess.Close()
}

type imapSession struct {
	c      *client.Client
	mbox   *imap.MailboxStatus
	folder string
}

func (s *imapSession) Folder() string {
	return s.folder
}

func (s *imapSession) TotalMessages() uint32 {
	return s.mbox.Messages
}

func (s *imapSession) NextSeq() uint32 {
	return s.mbox.Messages + 1
}

// FetchRange 抓取序号区间内消息的信封与原文
func (s *imapSession) FetchRange(from, to uint32) ([]Inbound, error) {
	if from > to {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)

	go func() {
		done <- s.c.Fetch(seqSet, items, messages)
	}()

	var inbound []Inbound
	for msg := range messages {
		if msg == nil {
			continue
		}

		in := Inbound{Seq: msg.SeqNum}

		if msg.Envelope != nil {
			in.MessageID = msg.Envelope.MessageId
			in.Subject = msg.Envelope.Subject
			in.Date = msg.Envelope.Date
		}
		if in.MessageID == "" {
			in.MessageID = fmt.Sprintf("seq:%s:%d", s.folder, msg.SeqNum)
		}

		for _, literal := range msg.Body {
			content, err := io.ReadAll(literal)
			if err == nil && len(content) > 0 {
				in.RawBody = string(content)
			}
		}

		inbound = append(inbound, in)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return inbound, nil
}

// MarkSeen 打已读标记
func (s *imapSession) MarkSeen(seq uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seq)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return s.c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil)
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
