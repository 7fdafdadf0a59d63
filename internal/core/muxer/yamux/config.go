// Package yamux 提供基于 hashicorp/yamux 的多路复用实现
package yamux

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// ProtocolID yamux 在 multistream-select 中的协议标识
const ProtocolID = "/yamux/1.0.0"

// Config yamux 会话配置
type Config struct {
	// AcceptBacklog 未被接受的入站流上限
	AcceptBacklog int
	// MaxStreamWindowSize 单流接收窗口
	MaxStreamWindowSize uint32
	// KeepAliveInterval 心跳间隔，0 表示禁用
	KeepAliveInterval time.Duration
	// WriteTimeout 底层连接写超时
	WriteTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AcceptBacklog:       256,
		MaxStreamWindowSize: 256 * 1024,
		KeepAliveInterval:   30 * time.Second,
		WriteTimeout:        10 * time.Second,
	}
}

func (c Config) toYamux() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.AcceptBacklog = c.AcceptBacklog
	cfg.MaxStreamWindowSize = c.MaxStreamWindowSize
	cfg.EnableKeepAlive = c.KeepAliveInterval > 0
	if cfg.EnableKeepAlive {
		cfg.KeepAliveInterval = c.KeepAliveInterval
	}
	cfg.ConnectionWriteTimeout = c.WriteTimeout
	cfg.StreamOpenTimeout = 75 * time.Second
	cfg.LogOutput = io.Discard
	return cfg
}
