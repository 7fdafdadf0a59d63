package config

import "github.com/dep2p/go-notifnet/pkg/types"

// SetConfig 一个节点集合的槽位配置
type SetConfig struct {
	// ReservedNodes 保留节点：始终拨号、始终接受、不计入容量
	ReservedNodes []types.MultiaddrWithPeerID `json:"reserved_nodes,omitempty"`

	// InPeers 普通入站槽位数
	InPeers uint32 `json:"in_peers"`

	// OutPeers 普通出站槽位数
	OutPeers uint32 `json:"out_peers"`

	// ReservedOnly 仅与保留节点建立子流
	ReservedOnly bool `json:"reserved_only,omitempty"`
}

// DefaultSetConfig 返回默认集合配置
func DefaultSetConfig() SetConfig {
	return SetConfig{
		InPeers:  25,
		OutPeers: 75,
	}
}

// NonDefaultSetConfig 一个通知协议及其集合配置
type NonDefaultSetConfig struct {
	// NotificationsProtocol 规范协议名
	NotificationsProtocol types.ProtocolName `json:"notifications_protocol"`

	// FallbackNames 回退协议名，按优先级排列
	FallbackNames []types.ProtocolName `json:"fallback_names,omitempty"`

	// MaxNotificationSize 单条通知的最大字节数
	MaxNotificationSize uint64 `json:"max_notification_size"`

	// Handshake 打开子流时发送的握手内容
	Handshake []byte `json:"handshake,omitempty"`

	// SetConfig 集合配置，nil 时继承 DefaultPeersSet
	SetConfig *SetConfig `json:"set_config,omitempty"`
}

// NewNonDefaultSetConfig 创建协议集合配置
func NewNonDefaultSetConfig(name types.ProtocolName, maxNotificationSize uint64) NonDefaultSetConfig {
	return NonDefaultSetConfig{
		NotificationsProtocol: name,
		MaxNotificationSize:   maxNotificationSize,
	}
}

// ResolvedSetConfig 返回第 i 个协议集合的生效集合配置
func (c *Config) ResolvedSetConfig(i int) SetConfig {
	if sc := c.ExtraSets[i].SetConfig; sc != nil {
		return *sc
	}
	return c.DefaultPeersSet
}

// ReservedAddresses 返回默认集合与所有协议集合中的保留节点地址
func (c *Config) ReservedAddresses() []types.MultiaddrWithPeerID {
	out := append([]types.MultiaddrWithPeerID(nil), c.DefaultPeersSet.ReservedNodes...)
	for _, set := range c.ExtraSets {
		if set.SetConfig != nil {
			out = append(out, set.SetConfig.ReservedNodes...)
		}
	}
	return out
}
