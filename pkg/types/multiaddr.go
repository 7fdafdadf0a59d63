package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ============================================================================
//                              Multiaddr - 多地址
// ============================================================================

// Multiaddr 多地址（文本形式）
//
// 支持的形式：
//
//	/memory/<u64>                       内存传输
//	/ip4/<addr>/tcp/<port>              TCP 传输
//	/ip6/<addr>/tcp/<port>
//	/dns4|dns6|dns/<host>/tcp/<port>
//
// 任意形式都可以追加 /p2p/<PeerID> 后缀。
type Multiaddr string

// 协议名常量
const (
	ProtoMemory = "memory"
	ProtoIP4    = "ip4"
	ProtoIP6    = "ip6"
	ProtoDNS    = "dns"
	ProtoDNS4   = "dns4"
	ProtoDNS6   = "dns6"
	ProtoTCP    = "tcp"
	ProtoP2P    = "p2p"
)

// component 地址组件
type component struct {
	proto string
	value string
}

// ParseMultiaddr 解析并校验多地址
func ParseMultiaddr(s string) (Multiaddr, error) {
	if _, err := parseComponents(s); err != nil {
		return "", err
	}
	return Multiaddr(s), nil
}

// MustParseMultiaddr 解析多地址，失败时 panic（仅用于常量与测试）
func MustParseMultiaddr(s string) Multiaddr {
	ma, err := ParseMultiaddr(s)
	if err != nil {
		panic(err)
	}
	return ma
}

// NewMemoryMultiaddr 构造 /memory/<port> 地址
func NewMemoryMultiaddr(port uint64) Multiaddr {
	return Multiaddr("/" + ProtoMemory + "/" + strconv.FormatUint(port, 10))
}

// MultiaddrFromTCPAddr 从 TCP 地址构造多地址
func MultiaddrFromTCPAddr(addr *net.TCPAddr) Multiaddr {
	if ip4 := addr.IP.To4(); ip4 != nil {
		return Multiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip4, addr.Port))
	}
	return Multiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", addr.IP, addr.Port))
}

func parseComponents(s string) ([]component, error) {
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidMultiaddr, s)
	}
	parts := strings.Split(strings.TrimSuffix(s[1:], "/"), "/")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("%w: %q has an odd number of parts", ErrInvalidMultiaddr, s)
	}

	comps := make([]component, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		c := component{proto: parts[i], value: parts[i+1]}
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidMultiaddr, s, err)
		}
		comps = append(comps, c)
	}

	// 结构校验
	body := comps
	if n := len(body); n > 0 && body[n-1].proto == ProtoP2P {
		body = body[:n-1]
	}
	for _, c := range body {
		if c.proto == ProtoP2P {
			return nil, fmt.Errorf("%w: %q: /p2p must be the last component", ErrInvalidMultiaddr, s)
		}
	}
	switch {
	case len(body) == 0:
		return nil, fmt.Errorf("%w: %q has no transport component", ErrInvalidMultiaddr, s)
	case body[0].proto == ProtoMemory:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: %q: /memory cannot be combined", ErrInvalidMultiaddr, s)
		}
	case isHostProto(body[0].proto):
		if len(body) != 2 || body[1].proto != ProtoTCP {
			return nil, fmt.Errorf("%w: %q: host must be followed by /tcp/<port>", ErrInvalidMultiaddr, s)
		}
	default:
		return nil, fmt.Errorf("%w: %q: unsupported protocol %q", ErrInvalidMultiaddr, s, body[0].proto)
	}
	return comps, nil
}

func isHostProto(p string) bool {
	switch p {
	case ProtoIP4, ProtoIP6, ProtoDNS, ProtoDNS4, ProtoDNS6:
		return true
	}
	return false
}

func (c component) validate() error {
	if c.value == "" {
		return fmt.Errorf("empty value for /%s", c.proto)
	}
	switch c.proto {
	case ProtoMemory:
		if _, err := strconv.ParseUint(c.value, 10, 64); err != nil {
			return fmt.Errorf("invalid memory port %q", c.value)
		}
	case ProtoIP4:
		if ip := net.ParseIP(c.value); ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid ip4 %q", c.value)
		}
	case ProtoIP6:
		if ip := net.ParseIP(c.value); ip == nil {
			return fmt.Errorf("invalid ip6 %q", c.value)
		}
	case ProtoDNS, ProtoDNS4, ProtoDNS6:
	case ProtoTCP:
		if _, err := strconv.ParseUint(c.value, 10, 16); err != nil {
			return fmt.Errorf("invalid tcp port %q", c.value)
		}
	case ProtoP2P:
		if _, err := ParsePeerID(c.value); err != nil {
			return fmt.Errorf("invalid peer id %q", c.value)
		}
	default:
		return fmt.Errorf("unknown protocol %q", c.proto)
	}
	return nil
}

// String 返回地址字符串
func (m Multiaddr) String() string {
	return string(m)
}

// IsMemory 是否为内存传输地址
func (m Multiaddr) IsMemory() bool {
	comps, err := parseComponents(string(m))
	return err == nil && comps[0].proto == ProtoMemory
}

// MemoryPort 返回内存地址的端口
func (m Multiaddr) MemoryPort() (uint64, error) {
	comps, err := parseComponents(string(m))
	if err != nil {
		return 0, err
	}
	if comps[0].proto != ProtoMemory {
		return 0, fmt.Errorf("%w: %q is not a memory address", ErrInvalidMultiaddr, m)
	}
	return strconv.ParseUint(comps[0].value, 10, 64)
}

// HostPort 返回 TCP 地址的 host:port 形式
func (m Multiaddr) HostPort() (string, error) {
	comps, err := parseComponents(string(m))
	if err != nil {
		return "", err
	}
	if !isHostProto(comps[0].proto) {
		return "", fmt.Errorf("%w: %q is not a tcp address", ErrInvalidMultiaddr, m)
	}
	return net.JoinHostPort(comps[0].value, comps[1].value), nil
}

// PeerID 返回 /p2p 后缀中的节点 ID
func (m Multiaddr) PeerID() (PeerID, bool) {
	comps, err := parseComponents(string(m))
	if err != nil {
		return EmptyPeerID, false
	}
	last := comps[len(comps)-1]
	if last.proto != ProtoP2P {
		return EmptyPeerID, false
	}
	id, err := ParsePeerID(last.value)
	return id, err == nil
}

// WithoutPeerID 去掉 /p2p 后缀，仅保留传输部分
func (m Multiaddr) WithoutPeerID() Multiaddr {
	if i := strings.LastIndex(string(m), "/"+ProtoP2P+"/"); i >= 0 {
		return m[:i]
	}
	return m
}

// WithPeerID 追加 /p2p/<id> 后缀（已有后缀时替换）
func (m Multiaddr) WithPeerID(id PeerID) Multiaddr {
	return Multiaddr(string(m.WithoutPeerID()) + "/" + ProtoP2P + "/" + id.String())
}

// ============================================================================
//                              MultiaddrWithPeerID
// ============================================================================

// MultiaddrWithPeerID 带节点 ID 的地址，用于引导节点与保留节点
type MultiaddrWithPeerID struct {
	Multiaddr Multiaddr
	PeerID    PeerID
}

// ParseMultiaddrWithPeerID 解析 "<multiaddr>/p2p/<peer-id>"
func ParseMultiaddrWithPeerID(s string) (MultiaddrWithPeerID, error) {
	ma, err := ParseMultiaddr(s)
	if err != nil {
		return MultiaddrWithPeerID{}, err
	}
	id, ok := ma.PeerID()
	if !ok {
		return MultiaddrWithPeerID{}, fmt.Errorf("%w: %q", ErrMissingPeerID, s)
	}
	return MultiaddrWithPeerID{Multiaddr: ma.WithoutPeerID(), PeerID: id}, nil
}

// String 返回带 /p2p 后缀的完整地址
func (m MultiaddrWithPeerID) String() string {
	return m.Multiaddr.WithPeerID(m.PeerID).String()
}

// MarshalText 实现 encoding.TextMarshaler
func (m MultiaddrWithPeerID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (m *MultiaddrWithPeerID) UnmarshalText(text []byte) error {
	parsed, err := ParseMultiaddrWithPeerID(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
