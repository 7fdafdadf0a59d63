package config

import (
	"fmt"
	"strings"
)

// TransportKind 传输类型
type TransportKind int

const (
	// TransportNormal TCP 传输，地址形如 /ip4/<addr>/tcp/<port>
	TransportNormal TransportKind = iota
	// TransportMemory 进程内内存传输，地址形如 /memory/<port>
	TransportMemory
)

// String 返回传输类型名称
func (k TransportKind) String() string {
	switch k {
	case TransportNormal:
		return "normal"
	case TransportMemory:
		return "memory"
	default:
		return fmt.Sprintf("transport(%d)", int(k))
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (k TransportKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *TransportKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "normal", "tcp", "":
		*k = TransportNormal
	case "memory":
		*k = TransportMemory
	default:
		return fmt.Errorf("config: unknown transport %q", string(text))
	}
	return nil
}
