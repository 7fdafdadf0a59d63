package swarm

import (
	"time"
)

// Config Swarm 配置
type Config struct {
	// DialTimeout 单个地址的拨号与升级超时
	DialTimeout time.Duration

	// AddrBookSize 非常驻地址簿条目上限
	AddrBookSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:  15 * time.Second,
		AddrBookSize: 4096,
	}
}
