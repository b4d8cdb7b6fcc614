package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLeaseHeld 引擎租约已被其他实例持有
var ErrLeaseHeld = errors.New("engine lease is held by another instance")

// 轮询引擎租约的会话级咨询锁键，取 "coinup" 的固定散列。
const engineLeaseKey = int64(0x636F696E757001)

// EngineLease 基于 PostgreSQL 会话级咨询锁的单实例租约。
//
// 多副本部署时只有持有租约的实例运行邮箱轮询引擎，避免同一封
// 付款邮件被并发处理。锁绑定在专用连接的会话上，连接断开即自动
// 释放，不需要心跳续期。非 PostgreSQL 部署不创建租约，由部署侧
// 保证单实例。
type EngineLease struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

// NewEngineLease 创建引擎租约，dsn 为 PostgreSQL 连接串
func NewEngineLease(ctx context.Context, dsn string) (*EngineLease, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease pool: %w", err)
	}
	return &EngineLease{pool: pool}, nil
}

// Acquire 尝试获取租约，已被其他实例持有时返回 ErrLeaseHeld
func (l *EngineLease) Acquire(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lease connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", engineLeaseKey).Scan(&acquired); err != nil {
		conn.Release()
		return fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return ErrLeaseHeld
	}

	l.conn = conn
	return nil
}

// Release 释放租约并归还连接
func (l *EngineLease) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", engineLeaseKey)
	l.conn.Release()
	l.conn = nil
	return err
}

// Close 关闭租约连接池
func (l *EngineLease) Close() {
	if l.conn != nil {
		l.conn.Release()
		l.conn = nil
	}
	l.pool.Close()
}
