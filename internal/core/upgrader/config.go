package upgrader

import (
	"time"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/muxer/yamux"
)

// Config 升级器配置
type Config struct {
	// HandshakeTimeout 身份交换与协商的总超时（默认 10s）
	HandshakeTimeout time.Duration

	// Muxer yamux 配置
	Muxer yamux.Config
}

// DefaultConfig 创建默认配置
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		Muxer:            yamux.DefaultConfig(),
	}
}

// ConfigFromUnified 从统一配置创建升级器配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg != nil && cfg.Notifications.HandshakeTimeout > 0 {
		c.HandshakeTimeout = cfg.Notifications.HandshakeTimeout.Duration()
	}
	return c
}
