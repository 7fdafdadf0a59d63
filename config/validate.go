package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dep2p/go-notifnet/pkg/types"
)

var (
	// ErrTransportMismatch 地址与配置的传输类型不一致
	ErrTransportMismatch = errors.New("addresses don't match the transport")

	// ErrInvalidProtocol 协议配置无效
	ErrInvalidProtocol = errors.New("invalid protocol configuration")

	// ErrInvalidValue 数值配置无效
	ErrInvalidValue = errors.New("invalid value")
)

// ConfigurationError 构造期的配置错误，服务不会启动
type ConfigurationError struct {
	// Field 出错的配置项
	Field string
	// Err 具体原因，可用 errors.Is 匹配 ErrTransportMismatch 等
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Validate 验证整个配置的有效性，返回第一个错误
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigurationError{Field: "config", Err: errors.New("config is nil")}
	}
	if err := c.ValidateTransport(); err != nil {
		return err
	}
	if err := c.validateSets(); err != nil {
		return err
	}
	return c.validateSections()
}

// ValidateTransport 检查监听、公布、引导与保留地址均与 Transport 匹配
func (c *Config) ValidateTransport() error {
	check := func(field string, addrs []types.Multiaddr) error {
		var mismatched []string
		for _, addr := range addrs {
			if _, err := types.ParseMultiaddr(string(addr)); err != nil {
				return &ConfigurationError{Field: field, Err: err}
			}
			if addr.IsMemory() != (c.Transport == TransportMemory) {
				mismatched = append(mismatched, string(addr))
			}
		}
		if len(mismatched) > 0 {
			return &ConfigurationError{
				Field: field,
				Err: fmt.Errorf("%w (%s): %s",
					ErrTransportMismatch, c.Transport, strings.Join(mismatched, ", ")),
			}
		}
		return nil
	}

	if err := check("listen_addresses", c.ListenAddresses); err != nil {
		return err
	}
	if err := check("public_addresses", c.PublicAddresses); err != nil {
		return err
	}
	if err := check("boot_nodes", stripPeers(c.BootNodes)); err != nil {
		return err
	}
	return check("reserved_nodes", stripPeers(c.ReservedAddresses()))
}

func stripPeers(addrs []types.MultiaddrWithPeerID) []types.Multiaddr {
	out := make([]types.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Multiaddr)
	}
	return out
}

func (c *Config) validateSets() error {
	seen := make(map[types.ProtocolName]struct{})
	addName := func(i int, name types.ProtocolName) error {
		field := fmt.Sprintf("extra_sets[%d]", i)
		if name == "" {
			return &ConfigurationError{Field: field, Err: types.ErrEmptyProtocolName}
		}
		if !strings.HasPrefix(string(name), "/") {
			return &ConfigurationError{Field: field, Err: fmt.Errorf("%w: %q must start with /", ErrInvalidProtocol, name)}
		}
		if _, dup := seen[name]; dup {
			return &ConfigurationError{Field: field, Err: fmt.Errorf("%w: duplicate name %q", ErrInvalidProtocol, name)}
		}
		seen[name] = struct{}{}
		return nil
	}

	for i, set := range c.ExtraSets {
		if err := addName(i, set.NotificationsProtocol); err != nil {
			return err
		}
		for _, fb := range set.FallbackNames {
			if err := addName(i, fb); err != nil {
				return err
			}
		}
		if set.MaxNotificationSize == 0 {
			return &ConfigurationError{
				Field: fmt.Sprintf("extra_sets[%d].max_notification_size", i),
				Err:   fmt.Errorf("%w: must be positive", ErrInvalidValue),
			}
		}
		if uint64(len(set.Handshake)) > c.Notifications.MaxHandshakeSize {
			return &ConfigurationError{
				Field: fmt.Sprintf("extra_sets[%d].handshake", i),
				Err:   fmt.Errorf("%w: %d bytes exceeds max_handshake_size", ErrInvalidValue, len(set.Handshake)),
			}
		}
	}
	return nil
}

func (c *Config) validateSections() error {
	positive := []struct {
		field string
		ok    bool
	}{
		{"notifications.queue_size", c.Notifications.QueueSize > 0},
		{"notifications.handshake_timeout", c.Notifications.HandshakeTimeout > 0},
		{"notifications.idle_connection_timeout", c.Notifications.IdleConnectionTimeout > 0},
		{"notifications.max_handshake_size", c.Notifications.MaxHandshakeSize > 0},
		{"peer_set.allocation_interval", c.PeerSet.AllocationInterval > 0},
		{"peer_set.candidate_cache_size", c.PeerSet.CandidateCacheSize > 0},
		{"events.subscriber_backlog", c.Events.SubscriberBacklog > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return &ConfigurationError{Field: p.field, Err: fmt.Errorf("%w: must be positive", ErrInvalidValue)}
		}
	}
	if c.PeerSet.ReservedBackoff < 0 || c.PeerSet.RegularBackoff < 0 {
		return &ConfigurationError{Field: "peer_set", Err: fmt.Errorf("%w: negative backoff", ErrInvalidValue)}
	}
	return nil
}
