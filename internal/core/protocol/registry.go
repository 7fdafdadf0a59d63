// Package protocol 提供通知协议注册表、名称协商与帧编解码
//
// 注册表在构造时一次性建立，之后不可变；每个描述符对应一个 SetID。
// 名称协商基于 multistream-select：
// https://github.com/multiformats/multistream-select
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var (
	// ErrDuplicateProtocol 协议名（含回退名）重复
	ErrDuplicateProtocol = errors.New("duplicate protocol name")
	// ErrInvalidDescriptor 描述符无效
	ErrInvalidDescriptor = errors.New("invalid protocol descriptor")
)

// Descriptor 通知协议描述符
type Descriptor struct {
	Name                types.ProtocolName
	FallbackNames       []types.ProtocolName
	MaxNotificationSize uint64
	Handshake           []byte
}

// Names 返回规范名与回退名，规范名在前
func (d Descriptor) Names() []types.ProtocolName {
	names := make([]types.ProtocolName, 0, 1+len(d.FallbackNames))
	names = append(names, d.Name)
	return append(names, d.FallbackNames...)
}

// Registry 不可变的协议注册表
type Registry struct {
	descs  []Descriptor
	byName map[types.ProtocolName]types.SetID
}

// NewRegistry 创建注册表，描述符顺序即 SetID
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		descs:  make([]Descriptor, len(descs)),
		byName: make(map[types.ProtocolName]types.SetID),
	}
	for i, d := range descs {
		if d.MaxNotificationSize == 0 {
			return nil, fmt.Errorf("%w: %s has zero max notification size", ErrInvalidDescriptor, d.Name)
		}
		for _, name := range d.Names() {
			if name == "" || !strings.HasPrefix(string(name), "/") {
				return nil, fmt.Errorf("%w: name %q", ErrInvalidDescriptor, name)
			}
			if _, dup := r.byName[name]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateProtocol, name)
			}
			r.byName[name] = types.SetID(i)
		}
		d.FallbackNames = append([]types.ProtocolName(nil), d.FallbackNames...)
		d.Handshake = append([]byte(nil), d.Handshake...)
		r.descs[i] = d
	}
	return r, nil
}

// RegistryFromConfig 从 extra_sets 构建注册表
func RegistryFromConfig(cfg *config.Config) (*Registry, error) {
	descs := make([]Descriptor, 0, len(cfg.ExtraSets))
	for _, set := range cfg.ExtraSets {
		descs = append(descs, Descriptor{
			Name:                set.NotificationsProtocol,
			FallbackNames:       set.FallbackNames,
			MaxNotificationSize: set.MaxNotificationSize,
			Handshake:           set.Handshake,
		})
	}
	return NewRegistry(descs)
}

// Lookup 按规范名或回退名查找集合
func (r *Registry) Lookup(name types.ProtocolName) (types.SetID, bool) {
	set, ok := r.byName[name]
	return set, ok
}

// LookupCanonical 仅按规范名查找集合
func (r *Registry) LookupCanonical(name types.ProtocolName) (types.SetID, bool) {
	set, ok := r.byName[name]
	if !ok || r.descs[set].Name != name {
		return 0, false
	}
	return set, true
}

// Get 返回集合的描述符
func (r *Registry) Get(set types.SetID) Descriptor {
	return r.descs[set]
}

// Len 返回协议数量
func (r *Registry) Len() int {
	return len(r.descs)
}

// Sets 返回所有 SetID
func (r *Registry) Sets() []types.SetID {
	sets := make([]types.SetID, len(r.descs))
	for i := range r.descs {
		sets[i] = types.SetID(i)
	}
	return sets
}

// AllNames 返回所有已注册的名称
func (r *Registry) AllNames() []types.ProtocolName {
	names := make([]types.ProtocolName, 0, len(r.byName))
	for _, d := range r.descs {
		names = append(names, d.Names()...)
	}
	return names
}
