package config

import "time"

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile ed25519 私钥文件路径
	// 为空时在内存中生成临时密钥；文件不存在时生成并写入
	KeyFile string `json:"key_file,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// NotificationsConfig 子流与通知队列配置
type NotificationsConfig struct {
	// QueueSize 每个出站子流的通知队列容量
	QueueSize int `json:"queue_size"`

	// HandshakeTimeout 从 Opening 到 Open 的最长时间
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// IdleConnectionTimeout 没有任何子流的连接在此时间后关闭
	IdleConnectionTimeout Duration `json:"idle_connection_timeout"`

	// MaxHandshakeSize 握手内容的最大字节数
	MaxHandshakeSize uint64 `json:"max_handshake_size"`
}

// DefaultNotificationsConfig 返回默认通知配置
func DefaultNotificationsConfig() NotificationsConfig {
	return NotificationsConfig{
		QueueSize:             2048,
		HandshakeTimeout:      Duration(10 * time.Second),
		IdleConnectionTimeout: Duration(10 * time.Second),
		MaxHandshakeSize:      1024,
	}
}

// PeerSetConfig 槽位分配配置
type PeerSetConfig struct {
	// ReservedBackoff 保留节点断开后重连前的等待时间
	ReservedBackoff Duration `json:"reserved_backoff"`

	// RegularBackoff 普通节点断开后再次选中前的等待时间
	RegularBackoff Duration `json:"regular_backoff"`

	// AllocationInterval 周期性分配槽位的间隔
	AllocationInterval Duration `json:"allocation_interval"`

	// CandidateCacheSize 候选节点缓存大小
	CandidateCacheSize int `json:"candidate_cache_size"`
}

// DefaultPeerSetConfig 返回默认槽位分配配置
func DefaultPeerSetConfig() PeerSetConfig {
	return PeerSetConfig{
		ReservedBackoff:    Duration(5 * time.Second),
		RegularBackoff:     Duration(10 * time.Second),
		AllocationInterval: Duration(time.Second),
		CandidateCacheSize: 1024,
	}
}

// EventsConfig 事件总线配置
type EventsConfig struct {
	// SubscriberBacklog 每个订阅者可积压的事件数，超出后该订阅被终止
	SubscriberBacklog int `json:"subscriber_backlog"`
}

// DefaultEventsConfig 返回默认事件总线配置
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{SubscriberBacklog: 1 << 16}
}
