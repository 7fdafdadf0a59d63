// Package config 提供 notifnet 的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.ListenAddresses = []types.Multiaddr{"/ip4/0.0.0.0/tcp/30333"}
//	cfg.ExtraSets = append(cfg.ExtraSets, config.NewNonDefaultSetConfig("/foo/1", 1024*1024))
//
//	// 内存传输（测试）
//	cfg := config.NewLocalConfig()
//
//	// 从 JSON 加载
//	cfg, err := config.LoadFile("node.json")
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// Config 是 notifnet 的完整配置结构
type Config struct {
	// ListenAddresses 监听地址
	ListenAddresses []types.Multiaddr `json:"listen_addresses"`

	// PublicAddresses 对外公布的地址
	PublicAddresses []types.Multiaddr `json:"public_addresses,omitempty"`

	// BootNodes 引导节点，作为普通槽位的候选
	BootNodes []types.MultiaddrWithPeerID `json:"boot_nodes,omitempty"`

	// DefaultPeersSet 默认集合配置，未单独配置的协议集合继承它
	DefaultPeersSet SetConfig `json:"default_peers_set"`

	// ExtraSets 通知协议集合，顺序即 SetID
	ExtraSets []NonDefaultSetConfig `json:"extra_sets"`

	// Transport 传输类型
	Transport TransportKind `json:"transport"`

	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Notifications 子流与队列配置
	Notifications NotificationsConfig `json:"notifications"`

	// PeerSet 槽位分配配置
	PeerSet PeerSetConfig `json:"peer_set"`

	// Events 事件总线配置
	Events EventsConfig `json:"events"`
}

// NewConfig 返回使用 TCP 传输的默认配置
func NewConfig() *Config {
	return &Config{
		DefaultPeersSet: DefaultSetConfig(),
		Transport:       TransportNormal,
		Identity:        DefaultIdentityConfig(),
		Notifications:   DefaultNotificationsConfig(),
		PeerSet:         DefaultPeerSetConfig(),
		Events:          DefaultEventsConfig(),
	}
}

// NewLocalConfig 返回使用内存传输的配置，监听一个自动分配的内存端口
func NewLocalConfig() *Config {
	cfg := NewConfig()
	cfg.Transport = TransportMemory
	cfg.ListenAddresses = []types.Multiaddr{types.NewMemoryMultiaddr(0)}
	return cfg
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("config: clone: %v", err))
	}
	out, err := FromJSON(data)
	if err != nil {
		panic(fmt.Sprintf("config: clone: %v", err))
	}
	return out
}

// FromJSON 从 JSON 解析配置，未出现的字段取默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromJSON(data)
}

// SaveFile 保存配置到文件
func (c *Config) SaveFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
